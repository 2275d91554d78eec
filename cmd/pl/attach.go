package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"time"

	_ "image/png"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/pocketlist/pocketlist/internal/remote"
	"github.com/pocketlist/pocketlist/internal/ui"
)

// attachTimeout bounds the whole upload pipeline.
const attachTimeout = 2 * time.Minute

var attachCmd = &cobra.Command{
	Use:   "attach <id> <image-file>",
	Short: "Attach an image to an item",
	Long: `Attach an image to an item.

The image is re-encoded as JPEG, uploaded to the blob store, and its
download URL recorded on the item. Alternatively, drop the file into
the outbox directory as {itemID}.jpg while the daemon runs.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal("%v", err)
		}

		id, path := args[0], args[1]

		blobs := openBlobs(cfg)
		if blobs == nil {
			fatal("no blob store configured (set minio.endpoint)")
		}

		f, err := os.Open(path)
		if err != nil {
			fatal("reading image: %v", err)
		}
		img, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			fatal("decoding image: %v", err)
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			fatal("encoding image: %v", err)
		}

		uid := deviceUID(cfg)
		store := openStore(cfg)

		ctx, cancel := context.WithTimeout(cmd.Context(), attachTimeout)
		defer cancel()

		name := id + "-" + ulid.Make().String() + ".jpg"
		blobPath := remote.ImagePath(uid, name)

		fmt.Printf("%s Uploading %d bytes...\n", ui.RenderAccent("🔄"), buf.Len())
		err = blobs.Put(ctx, blobPath, buf.Bytes(), "image/jpeg", func(sent, total int64) {
			if total > 0 {
				fmt.Printf("\r   %3.0f%%", 100*float64(sent)/float64(total))
			}
		})
		fmt.Println()
		if err != nil {
			fatal("uploading image: %v", err)
		}

		url, err := blobs.DownloadURL(ctx, blobPath)
		if err != nil {
			fatal("resolving image URL (blob %s left orphaned): %v", blobPath, err)
		}

		if err := store.Patch(ctx, remote.ItemPath(uid, id), map[string]any{"imageURL": url}); err != nil {
			fatal("recording image URL: %v", err)
		}

		fmt.Printf("%s Attached image to %s\n", ui.RenderPass("✓"), id)
		fmt.Printf("   %s\n", ui.RenderDim(url))
	},
}

func init() {
	rootCmd.AddCommand(attachCmd)
}
