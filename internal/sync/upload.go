package sync

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	// The outbox accepts JPEG and PNG drops; register both decoders.
	_ "image/png"

	"github.com/oklog/ulid/v2"

	"github.com/pocketlist/pocketlist/internal/item"
	"github.com/pocketlist/pocketlist/internal/remote"
)

// jpegQuality is the fixed encoding quality for attached images.
const jpegQuality = 85

// uploadEvent carries pipeline state changes from upload goroutines to
// the event loop, which is the only writer of published state.
type uploadEvent struct {
	kind     uploadEventKind
	fraction float64
	notice   string
}

type uploadEventKind int

const (
	uploadBegan uploadEventKind = iota
	uploadProgressed
	uploadFailed
	uploadSucceeded
)

// Attach encodes the image as JPEG, uploads it to a uniquely named blob
// in the user's image container, resolves its download URL, and patches
// the URL onto the item's record.
//
// The pipeline is fire and forget and publishes its three observable
// stages through UploadStates (and the Notice/IsUploading/UploadProgress
// accessors). There is no retry: a failed stage aborts the run, and a
// blob whose URL could not be resolved stays uploaded but orphaned.
//
// Only one upload's state is tracked at a time; a second Attach before
// the first completes overwrites the shared progress slot.
func (s *Syncer) Attach(img image.Image, it item.Item) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.attach(img, it)
	}()
}

// AttachFile decodes an image file and attaches it. Undecodable files
// fail the pipeline the same way unencodable images do.
func (s *Syncer) AttachFile(path string, it item.Item) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		f, err := os.Open(path)
		if err != nil {
			s.sendEvent(uploadEvent{kind: uploadFailed, notice: fmt.Sprintf("cannot read image: %v", err)}, true)
			return
		}
		img, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			s.sendEvent(uploadEvent{kind: uploadFailed, notice: fmt.Sprintf("image decoding failed: %v", err)}, true)
			return
		}

		s.attach(img, it)
	}()
}

func (s *Syncer) attach(img image.Image, it item.Item) {
	if s.blobs == nil {
		s.sendEvent(uploadEvent{kind: uploadFailed, notice: "no image storage configured"}, true)
		return
	}

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	// Stage 1: encode. Failure aborts before anything is uploaded and
	// before the uploading flag is raised.
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		s.sendEvent(uploadEvent{kind: uploadFailed, notice: fmt.Sprintf("image encoding failed: %v", err)}, true)
		return
	}

	s.sendEvent(uploadEvent{kind: uploadBegan, notice: "uploading image"}, true)

	// Stage 2: upload to a uniquely named blob under the user's
	// container, prefixed with the owning item's id.
	name := it.ID + "-" + ulid.Make().String() + ".jpg"
	blobPath := remote.ImagePath(s.uid, name)

	err := s.blobs.Put(ctx, blobPath, buf.Bytes(), "image/jpeg", func(sent, total int64) {
		if total <= 0 {
			return
		}
		// Progress callbacks run on a backend goroutine; drop rather
		// than block when the loop is busy. The terminal events below
		// always land.
		s.sendEvent(uploadEvent{kind: uploadProgressed, fraction: float64(sent) / float64(total)}, false)
	})
	if err != nil {
		s.sendEvent(uploadEvent{kind: uploadFailed, notice: fmt.Sprintf("image upload failed: %v", err)}, true)
		return
	}

	// Stage 3: resolve the download URL and patch it onto the record.
	url, err := s.blobs.DownloadURL(ctx, blobPath)
	if err != nil {
		// The blob stays behind with no record pointing at it.
		s.logger.Printf("Warning: blob %s orphaned, URL resolution failed: %v", blobPath, err)
		s.sendEvent(uploadEvent{kind: uploadFailed, notice: fmt.Sprintf("failed to resolve image URL: %v", err)}, true)
		return
	}

	if err := s.store.Patch(ctx, remote.ItemPath(s.uid, it.ID), map[string]any{"imageURL": url}); err != nil {
		// Write failures are not surfaced, same as every other write.
		s.logger.Printf("Warning: failed to record image URL for %s: %v", it.ID, err)
	}

	s.sendEvent(uploadEvent{kind: uploadSucceeded, notice: "image uploaded"}, true)
}

// sendEvent hands an event to the loop. Blocking sends bail out on
// shutdown; non-blocking sends are dropped when the queue is full.
func (s *Syncer) sendEvent(ev uploadEvent, blocking bool) {
	if blocking && s.ctx != nil {
		select {
		case s.events <- ev:
		case <-s.ctx.Done():
		}
		return
	}

	select {
	case s.events <- ev:
	default:
	}
}

// applyUploadEvent folds a pipeline event into the shared state slot and
// publishes the result. Loop goroutine only.
func (s *Syncer) applyUploadEvent(ev uploadEvent) {
	s.mu.Lock()
	switch ev.kind {
	case uploadBegan:
		s.state = UploadState{Uploading: true, Progress: 0}
		s.notice = ev.notice

	case uploadProgressed:
		// Within one upload progress never goes backwards; a late
		// callback from an overwritten upload must not regress it.
		if s.state.Uploading && ev.fraction > s.state.Progress {
			s.state.Progress = ev.fraction
		}

	case uploadFailed:
		s.state.Uploading = false
		s.notice = ev.notice

	case uploadSucceeded:
		s.state.Uploading = false
		s.state.Progress = 1
		s.notice = ev.notice
	}
	published := s.state
	published.Notice = s.notice
	s.mu.Unlock()

	publishLatest(s.uploads, published)
}
