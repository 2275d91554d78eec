// Package memory provides an in-memory realtime store.
//
// It implements the same contract as the networked store backends and is
// used by tests and by the CLI's development mode, where no backend is
// configured. Every mutation delivers a fresh full snapshot to all
// subscribers of the affected collection.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pocketlist/pocketlist/internal/remote"
)

// Store is an in-memory remote.Store. The zero value is not usable;
// create one with New.
type Store struct {
	mu      sync.RWMutex
	records map[string]map[string]any // record path -> value
	subs    map[*subscription]bool
	closed  bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		records: make(map[string]map[string]any),
		subs:    make(map[*subscription]bool),
	}
}

// Write implements remote.Store.
func (s *Store) Write(ctx context.Context, path string, value map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	copied := make(map[string]any, len(value))
	for k, v := range value {
		copied[k] = v
	}
	s.records[path] = copied

	s.broadcastLocked(path)
	return nil
}

// Patch implements remote.Store. Patching a missing record creates it,
// matching the merge semantics of the realtime backend.
func (s *Store) Patch(ctx context.Context, path string, value map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	rec, ok := s.records[path]
	if !ok {
		rec = make(map[string]any)
		s.records[path] = rec
	}
	for k, v := range value {
		rec[k] = v
	}

	s.broadcastLocked(path)
	return nil
}

// Delete implements remote.Store. Deleting a missing record is a no-op.
func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	delete(s.records, path)
	s.broadcastLocked(path)
	return nil
}

// Subscribe implements remote.Store. The orderBy hint is ignored; the
// in-memory store has no server-side ordering.
func (s *Store) Subscribe(ctx context.Context, path string, orderBy string) (remote.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	sub := &subscription{
		store:     s,
		path:      path,
		snapshots: make(chan remote.Snapshot, 16),
		errs:      make(chan error, 1),
	}
	s.subs[sub] = true

	// Initial snapshot, mirroring the realtime backend's behavior of
	// delivering current state on subscribe.
	sub.deliver(s.snapshotLocked(path))

	return sub, nil
}

// Close shuts the store down and ends all subscriptions.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	for sub := range s.subs {
		close(sub.snapshots)
		delete(s.subs, sub)
	}
}

// Record returns a copy of the record at path, for tests and tooling.
func (s *Store) Record(path string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[path]
	if !ok {
		return nil, false
	}
	copied := make(map[string]any, len(rec))
	for k, v := range rec {
		copied[k] = v
	}
	return copied, true
}

// snapshotLocked builds the full children set of a collection path.
func (s *Store) snapshotLocked(collection string) remote.Snapshot {
	prefix := collection + "/"
	snap := make(remote.Snapshot)
	for recPath, rec := range s.records {
		child, ok := strings.CutPrefix(recPath, prefix)
		if !ok || strings.Contains(child, "/") {
			continue
		}
		copied := make(map[string]any, len(rec))
		for k, v := range rec {
			copied[k] = v
		}
		snap[child] = copied
	}
	return snap
}

// broadcastLocked notifies subscribers whose collection contains the
// mutated record path.
func (s *Store) broadcastLocked(recordPath string) {
	for sub := range s.subs {
		if !strings.HasPrefix(recordPath, sub.path+"/") {
			continue
		}
		sub.deliver(s.snapshotLocked(sub.path))
	}
}

type subscription struct {
	store     *Store
	path      string
	snapshots chan remote.Snapshot
	errs      chan error

	closeOnce sync.Once
}

func (sub *subscription) Snapshots() <-chan remote.Snapshot { return sub.snapshots }

func (sub *subscription) Errs() <-chan error { return sub.errs }

func (sub *subscription) Close() error {
	sub.closeOnce.Do(func() {
		sub.store.mu.Lock()
		defer sub.store.mu.Unlock()
		if sub.store.subs[sub] {
			delete(sub.store.subs, sub)
			close(sub.snapshots)
		}
	})
	return nil
}

// deliver sends a snapshot without blocking. When the subscriber is slow
// the oldest queued snapshot is dropped: only the latest state matters.
func (sub *subscription) deliver(snap remote.Snapshot) {
	for {
		select {
		case sub.snapshots <- snap:
			return
		default:
			select {
			case <-sub.snapshots:
			default:
			}
		}
	}
}
