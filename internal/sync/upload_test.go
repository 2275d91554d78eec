package sync

import (
	"errors"
	"image"
	"image/color"
	"os"
	"testing"
	"time"

	"github.com/pocketlist/pocketlist/internal/item"
	"github.com/pocketlist/pocketlist/internal/remote/memory"
)

// unencodableImage reports bounds too large for the JPEG encoder, which
// rejects it before reading any pixels.
type unencodableImage struct{}

func (unencodableImage) ColorModel() color.Model { return color.RGBAModel }
func (unencodableImage) Bounds() image.Rectangle { return image.Rect(0, 0, 1<<17, 1<<17) }
func (unencodableImage) At(x, y int) color.Color { return color.RGBA{} }

func smallImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	return img
}

// waitForUploadDone reads UploadStates until a terminal state arrives,
// returning every state seen along the way.
func waitForUploadDone(t *testing.T, s *Syncer) []UploadState {
	t.Helper()

	var states []UploadState
	deadline := time.After(3 * time.Second)
	for {
		select {
		case st, ok := <-s.UploadStates():
			if !ok {
				t.Fatalf("upload state channel closed")
			}
			states = append(states, st)
			if !st.Uploading && st.Notice != "" && st.Notice != "uploading image" {
				return states
			}
		case <-deadline:
			t.Fatalf("timed out waiting for upload to finish, states: %v", states)
			return nil
		}
	}
}

func TestEncodeFailureNeverUploads(t *testing.T) {
	store := memory.New()
	defer store.Close()
	blobs := &fakeBlobs{}
	s := startSyncer(t, store, blobs)

	s.Attach(unencodableImage{}, item.Item{ID: "a", Title: "t", CreatedAt: 1})

	states := waitForUploadDone(t, s)
	final := states[len(states)-1]
	if final.Uploading {
		t.Errorf("still uploading after encode failure")
	}
	if final.Notice == "" {
		t.Errorf("no failure notice published")
	}

	puts, urlCalls, _ := blobs.snapshot()
	if len(puts) != 0 {
		t.Errorf("encode failure issued %d uploads", len(puts))
	}
	if urlCalls != 0 {
		t.Errorf("encode failure issued %d URL resolutions", urlCalls)
	}
}

func TestUploadFailureSkipsURLResolution(t *testing.T) {
	store := memory.New()
	defer store.Close()
	blobs := &fakeBlobs{putErr: errors.New("backend rejected the upload")}
	s := startSyncer(t, store, blobs)

	s.Attach(smallImage(), item.Item{ID: "a", Title: "t", CreatedAt: 1})

	waitForUploadDone(t, s)
	_, urlCalls, _ := blobs.snapshot()
	if urlCalls != 0 {
		t.Errorf("upload failure issued %d URL resolutions", urlCalls)
	}
}

func TestURLResolutionFailureSkipsPatch(t *testing.T) {
	store := memory.New()
	defer store.Close()
	blobs := &fakeBlobs{urlErr: errors.New("no url for you")}
	s := startSyncer(t, store, blobs)

	target := item.Item{ID: "a", Title: "t", CreatedAt: 1}
	s.Attach(smallImage(), target)

	waitForUploadDone(t, s)

	// The blob was uploaded (and is now orphaned), but no patch landed.
	puts, _, _ := blobs.snapshot()
	if len(puts) != 1 {
		t.Fatalf("uploads = %d, want 1", len(puts))
	}
	if _, exists := store.Record("users/u1/items/a"); exists {
		t.Errorf("imageURL patched despite URL resolution failure")
	}
}

func TestSuccessfulUploadPatchesOnlyImageURL(t *testing.T) {
	store := memory.New()
	defer store.Close()
	blobs := &fakeBlobs{
		url:            "https://blobs.example.com/users/u1/item-images/a-x.jpg",
		progressScript: [][2]int64{{128, 512}, {256, 512}, {512, 512}},
	}
	s := startSyncer(t, store, blobs)

	target := item.Item{ID: "a", Title: "t", CreatedAt: 1}
	s.Attach(smallImage(), target)

	states := waitForUploadDone(t, s)

	final := states[len(states)-1]
	if final.Progress != 1.0 {
		t.Errorf("final progress = %v, want exactly 1", final.Progress)
	}
	if final.Uploading {
		t.Errorf("still uploading after success")
	}

	// Progress is monotonically non-decreasing across the whole run.
	last := 0.0
	for i, st := range states {
		if st.Progress < last {
			t.Errorf("progress regressed at state %d: %v -> %v", i, last, st.Progress)
		}
		last = st.Progress
	}

	// The patch carries exactly the imageURL key; the record existed
	// only remotely, so the patched node holds just that field.
	deadline := time.Now().Add(3 * time.Second)
	for {
		rec, exists := store.Record("users/u1/items/a")
		if exists {
			if len(rec) != 1 {
				t.Errorf("patch touched %d fields: %v", len(rec), rec)
			}
			if rec["imageURL"] != blobs.url {
				t.Errorf("patched imageURL = %v", rec["imageURL"])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("imageURL patch never landed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Blob name is prefixed with the owning item's id.
	puts, urlCalls, _ := blobs.snapshot()
	if len(puts) != 1 {
		t.Fatalf("uploads = %d, want 1", len(puts))
	}
	const wantPrefix = "users/u1/item-images/a-"
	if len(puts[0]) <= len(wantPrefix) || puts[0][:len(wantPrefix)] != wantPrefix {
		t.Errorf("blob path = %q, want prefix %q", puts[0], wantPrefix)
	}
	if urlCalls != 1 {
		t.Errorf("URL resolutions = %d, want 1", urlCalls)
	}
}

func TestAttachFileRejectsNonImage(t *testing.T) {
	store := memory.New()
	defer store.Close()
	blobs := &fakeBlobs{}
	s := startSyncer(t, store, blobs)

	path := t.TempDir() + "/not-an-image.jpg"
	if err := os.WriteFile(path, []byte("plain text"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	s.AttachFile(path, item.Item{ID: "a", Title: "t", CreatedAt: 1})

	waitForUploadDone(t, s)
	puts, _, _ := blobs.snapshot()
	if len(puts) != 0 {
		t.Errorf("non-image file was uploaded")
	}
}

func TestAttachWithoutBlobStoreFails(t *testing.T) {
	store := memory.New()
	defer store.Close()
	s := startSyncer(t, store, nil)

	s.Attach(smallImage(), item.Item{ID: "a", Title: "t", CreatedAt: 1})

	states := waitForUploadDone(t, s)
	if states[len(states)-1].Notice == "" {
		t.Errorf("no notice for missing blob store")
	}
}
