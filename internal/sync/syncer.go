// Package sync keeps an in-memory item list synchronized with the
// remote realtime store and runs the image attachment pipeline.
//
// The Syncer owns one live subscription to the user's items collection.
// All list mutations (Add, UpdateTitle, Delete) write to the remote store
// and are reflected locally only when the subscription delivers the next
// snapshot; nothing is applied optimistically.
//
// Every snapshot is a full-collection replace: the list is rebuilt by
// decoding all children, dropping malformed records, and sorting newest
// first.
//
// Shared state (item list, notice, upload progress) is written only by
// the Syncer's event loop goroutine. Subscription and upload callbacks
// run on backend-managed goroutines and hand their results to the loop
// over channels.
package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	stdsync "sync"

	"github.com/pocketlist/pocketlist/internal/item"
	"github.com/pocketlist/pocketlist/internal/remote"
)

// UploadState is the published state of the image pipeline. A single
// slot is shared by all uploads: starting a second upload before the
// first finishes overwrites it.
type UploadState struct {
	// Uploading is set from pipeline start until terminal success or
	// failure.
	Uploading bool

	// Progress is the transfer fraction in [0, 1]. Exactly 1 on
	// success.
	Progress float64

	// Notice is the last human-readable status or failure message.
	Notice string
}

// Syncer synchronizes one user's item list with the remote store.
//
// Create with New, call Start once, and Stop when done: the subscription
// must be released explicitly or its callbacks keep running against a
// discarded list.
type Syncer struct {
	uid    string
	store  remote.Store
	blobs  remote.Blobs
	logger *log.Logger

	sub    remote.Subscription
	events chan uploadEvent

	updates chan []item.Item
	uploads chan UploadState

	mu     stdsync.RWMutex
	items  []item.Item
	state  UploadState
	notice string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      stdsync.WaitGroup
	started bool
}

// New creates a Syncer for the given user identity.
//
// store and blobs are the backend collaborators; blobs may be nil when
// image attachment is not needed. If logger is nil, a default logger
// writing to stderr is used.
func New(uid string, store remote.Store, blobs remote.Blobs, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Syncer{
		uid:     uid,
		store:   store,
		blobs:   blobs,
		logger:  logger,
		events:  make(chan uploadEvent, 64),
		updates: make(chan []item.Item, 16),
		uploads: make(chan UploadState, 64),
	}
}

// Start opens the live subscription and starts the event loop.
// It does not block; list updates arrive on Updates.
func (s *Syncer) Start(ctx context.Context) error {
	if s.started {
		return fmt.Errorf("syncer already started")
	}

	sub, err := s.store.Subscribe(ctx, remote.ItemsPath(s.uid), "createdAt")
	if err != nil {
		return fmt.Errorf("failed to subscribe to items: %w", err)
	}

	s.sub = sub
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(1)
	go s.run()

	s.logger.Printf("Started sync for user %s", s.uid)
	return nil
}

// Stop releases the subscription and waits for in-flight work to finish.
func (s *Syncer) Stop() {
	if !s.started {
		return
	}
	s.cancel()
	_ = s.sub.Close()
	s.wg.Wait()
	s.logger.Printf("Stopped sync for user %s", s.uid)
}

// Updates returns the channel of full list snapshots, newest first.
// Slow consumers see the latest list; stale snapshots are dropped.
// The channel is closed when the Syncer stops.
func (s *Syncer) Updates() <-chan []item.Item {
	return s.updates
}

// UploadStates returns the channel of upload pipeline state changes.
// The channel is closed when the Syncer stops.
func (s *Syncer) UploadStates() <-chan UploadState {
	return s.uploads
}

// Items returns a copy of the current list, newest first.
func (s *Syncer) Items() []item.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]item.Item, len(s.items))
	copy(items, s.items)
	return items
}

// Notice returns the last status or failure message, empty when none.
// Every failure and status change overwrites the previous message; there
// are no structured error codes at this boundary.
func (s *Syncer) Notice() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notice
}

// IsUploading reports whether an image upload is in flight.
func (s *Syncer) IsUploading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Uploading
}

// UploadProgress returns the current transfer fraction in [0, 1].
func (s *Syncer) UploadProgress() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Progress
}

// Add creates a new item with a fresh id and current timestamp and
// writes it to the remote store. The write is fire and forget: the item
// appears in the list when the next snapshot arrives, and write failures
// are logged but not surfaced.
//
// Returns the constructed item, or an error when the title is empty
// after trimming.
func (s *Syncer) Add(title string) (item.Item, error) {
	trimmed, err := item.ValidateTitle(title)
	if err != nil {
		return item.Item{}, err
	}

	it := item.New(trimmed)
	s.goRemote("add", func(ctx context.Context) error {
		return s.store.Write(ctx, remote.ItemPath(s.uid, it.ID), it.Encode())
	})
	return it, nil
}

// UpdateTitle patches only the title field of an existing item. The
// visible title changes when the next snapshot arrives.
func (s *Syncer) UpdateTitle(it item.Item, newTitle string) error {
	trimmed, err := item.ValidateTitle(newTitle)
	if err != nil {
		return err
	}

	s.goRemote("update", func(ctx context.Context) error {
		return s.store.Patch(ctx, remote.ItemPath(s.uid, it.ID), map[string]any{"title": trimmed})
	})
	return nil
}

// Delete removes the item's record. When the item carries an image URL,
// the corresponding blob is deleted best effort: failures are logged and
// otherwise ignored.
func (s *Syncer) Delete(it item.Item) {
	s.goRemote("delete", func(ctx context.Context) error {
		return s.store.Delete(ctx, remote.ItemPath(s.uid, it.ID))
	})

	if it.ImageURL != "" && s.blobs != nil {
		url := it.ImageURL
		s.goRemote("delete image", func(ctx context.Context) error {
			return s.blobs.DeleteByURL(ctx, url)
		})
	}
}

// goRemote runs a fire-and-forget remote call. Errors are logged only;
// per the store's contract there is no retry and no caller surface.
func (s *Syncer) goRemote(op string, call func(ctx context.Context) error) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := call(ctx); err != nil {
			s.logger.Printf("Warning: %s failed: %v", op, err)
		}
	}()
}

// run is the event loop, the sole writer of published state.
func (s *Syncer) run() {
	defer s.wg.Done()
	defer close(s.updates)
	defer close(s.uploads)

	for {
		select {
		case <-s.ctx.Done():
			return

		case snap, ok := <-s.sub.Snapshots():
			if !ok {
				return
			}
			s.applySnapshot(snap)

		case err, ok := <-s.sub.Errs():
			if !ok {
				continue
			}
			s.logger.Printf("Subscription error: %v", err)
			s.setNotice(fmt.Sprintf("sync lost: %v", err))

		case ev := <-s.events:
			s.applyUploadEvent(ev)
		}
	}
}

// applySnapshot rebuilds the list from a full collection snapshot.
// Undecodable children are dropped silently (warning log only).
func (s *Syncer) applySnapshot(snap remote.Snapshot) {
	items := make([]item.Item, 0, len(snap))
	for key, record := range snap {
		it, ok := item.Decode(record)
		if !ok {
			s.logger.Printf("Warning: dropping malformed record %s", key)
			continue
		}
		items = append(items, it)
	}
	item.SortDescending(items)

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()

	published := make([]item.Item, len(items))
	copy(published, items)
	publishLatest(s.updates, published)
}

// setNotice overwrites the notice slot. Loop goroutine only.
func (s *Syncer) setNotice(notice string) {
	s.mu.Lock()
	s.notice = notice
	s.mu.Unlock()
}

// publishLatest sends without blocking the loop; when the consumer lags,
// the oldest queued value is dropped in favor of the newest.
func publishLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
