package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pocketlist/pocketlist/internal/cache"
	"github.com/pocketlist/pocketlist/internal/config"
	"github.com/pocketlist/pocketlist/internal/identity"
	"github.com/pocketlist/pocketlist/internal/item"
	"github.com/pocketlist/pocketlist/internal/remote"
	"github.com/pocketlist/pocketlist/internal/remote/blob"
	"github.com/pocketlist/pocketlist/internal/remote/memory"
	"github.com/pocketlist/pocketlist/internal/remote/rtdb"
	"github.com/pocketlist/pocketlist/internal/ui"
)

// writeTimeout bounds one-shot remote calls from the CLI.
const writeTimeout = 10 * time.Second

// quietLogger silences library-level logging for one-shot commands.
func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func deviceUID(cfg *config.Config) string {
	uid, err := identity.NewFileProvider(cfg.DataDir).UID()
	if err != nil {
		fatal("resolving identity: %v", err)
	}
	return uid
}

func openStore(cfg *config.Config) remote.Store {
	switch cfg.Backend {
	case config.BackendRTDB:
		return rtdb.New(cfg.DatabaseURL, cfg.DatabaseAuth, quietLogger())
	case config.BackendMemory:
		fmt.Println(ui.RenderWarn("Warning: memory backend holds nothing across invocations"))
		return memory.New()
	}
	fatal("unknown backend %q", cfg.Backend)
	return nil
}

func openBlobs(cfg *config.Config) remote.Blobs {
	if cfg.Minio.Endpoint == "" {
		return nil
	}
	blobs, err := blob.New(blob.Config{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		Bucket:    cfg.Minio.Bucket,
		Secure:    cfg.Minio.Secure,
		Logger:    quietLogger(),
	})
	if err != nil {
		fatal("opening blob store: %v", err)
	}
	return blobs
}

// cachedItem finds an item in the local mirror by id.
func cachedItem(cfg *config.Config, id string) (item.Item, bool) {
	c, err := cache.Open(cfg.CachePath())
	if err != nil {
		return item.Item{}, false
	}
	defer c.Close()
	if err := c.InitSchema(); err != nil {
		return item.Item{}, false
	}

	items, err := c.List(context.Background())
	if err != nil {
		return item.Item{}, false
	}
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return item.Item{}, false
}

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add an item to the list",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal("%v", err)
		}

		trimmed, err := item.ValidateTitle(strings.Join(args, " "))
		if err != nil {
			fatal("%v", err)
		}

		uid := deviceUID(cfg)
		store := openStore(cfg)

		it := item.New(trimmed)
		ctx, cancel := context.WithTimeout(cmd.Context(), writeTimeout)
		defer cancel()

		if err := store.Write(ctx, remote.ItemPath(uid, it.ID), it.Encode()); err != nil {
			fatal("writing item: %v", err)
		}

		fmt.Printf("%s Added %s\n", ui.RenderPass("✓"), it.ID)
		fmt.Printf("   %s\n", it.Title)
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List items from the local mirror",
	Long: `List items from the local mirror, newest first.

The mirror is written by the daemon; without a running daemon the
output may be stale or empty.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal("%v", err)
		}

		c, err := cache.Open(cfg.CachePath())
		if err != nil {
			fatal("opening cache: %v", err)
		}
		defer c.Close()
		if err := c.InitSchema(); err != nil {
			fatal("initializing cache: %v", err)
		}

		items, err := c.List(cmd.Context())
		if err != nil {
			fatal("listing items: %v", err)
		}

		if len(items) == 0 {
			fmt.Printf("%s No items. Run 'pl daemon' to sync, 'pl add' to create one.\n",
				ui.RenderWarn("⚠"))
			return
		}

		fmt.Printf("\n%s %d item(s)\n\n", ui.RenderAccent("📋"), len(items))
		for _, it := range items {
			marker := " "
			if it.ImageURL != "" {
				marker = "📷"
			}
			created := time.Unix(int64(it.CreatedAt), 0).Format("2006-01-02 15:04")
			fmt.Printf("%s %s\n", marker, it.Title)
			fmt.Printf("   %s\n", ui.RenderDim(it.ID+"  "+created))
		}
		fmt.Println()
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove an item",
	Long: `Remove an item's record from the remote store.

If the local mirror shows an attached image, the image blob is deleted
too, best effort.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal("%v", err)
		}

		id := args[0]
		uid := deviceUID(cfg)
		store := openStore(cfg)

		ctx, cancel := context.WithTimeout(cmd.Context(), writeTimeout)
		defer cancel()

		if err := store.Delete(ctx, remote.ItemPath(uid, id)); err != nil {
			fatal("deleting item: %v", err)
		}

		if it, ok := cachedItem(cfg, id); ok && it.ImageURL != "" {
			if blobs := openBlobs(cfg); blobs != nil {
				if err := blobs.DeleteByURL(ctx, it.ImageURL); err != nil {
					fmt.Printf("%s Image blob not deleted: %v\n", ui.RenderWarn("⚠"), err)
				}
			}
		}

		fmt.Printf("%s Removed %s\n", ui.RenderPass("✓"), id)
	},
}

var retitleCmd = &cobra.Command{
	Use:   "retitle <id> <title>",
	Short: "Change an item's title",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal("%v", err)
		}

		id := args[0]
		trimmed, err := item.ValidateTitle(strings.Join(args[1:], " "))
		if err != nil {
			fatal("%v", err)
		}

		uid := deviceUID(cfg)
		store := openStore(cfg)

		ctx, cancel := context.WithTimeout(cmd.Context(), writeTimeout)
		defer cancel()

		if err := store.Patch(ctx, remote.ItemPath(uid, id), map[string]any{"title": trimmed}); err != nil {
			fatal("updating title: %v", err)
		}

		fmt.Printf("%s Retitled %s\n", ui.RenderPass("✓"), id)
		fmt.Printf("   %s\n", trimmed)
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(retitleCmd)
}
