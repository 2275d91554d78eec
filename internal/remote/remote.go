// Package remote defines the contracts for the backend services the
// synchronizer talks to: a realtime collection store, a blob container,
// and the path layout that scopes both to a user identity.
//
// The backends are opaque collaborators. Access control is enforced by
// backend-side rules keyed on the authenticated identity; nothing in this
// package performs authorization checks of its own.
package remote

import "context"

// Snapshot is the complete set of children of a subscribed collection,
// keyed by child name. Every relevant change delivers a full snapshot,
// not a diff.
type Snapshot map[string]map[string]any

// Store is a realtime hierarchical key-value store.
//
// Writes are last-write-wins at the field level: Patch touches only the
// keys it carries, so concurrent edits to different fields do not clobber
// each other. There is no optimistic concurrency and no retry; callers
// rely on the backend's own consistency model.
type Store interface {
	// Write replaces the value at path with the given map.
	Write(ctx context.Context, path string, value map[string]any) error

	// Patch merges the given keys into the record at path, leaving
	// other keys untouched.
	Patch(ctx context.Context, path string, value map[string]any) error

	// Delete removes the record at path. Deleting a missing record
	// is not an error.
	Delete(ctx context.Context, path string) error

	// Subscribe opens a live subscription to the collection at path.
	// When the backend supports server-side ordering, children are
	// requested ordered by orderBy.
	//
	// The subscription delivers a full Snapshot on every change until
	// Close is called or the stream fails.
	Subscribe(ctx context.Context, path string, orderBy string) (Subscription, error)
}

// Subscription is a live feed of collection snapshots.
type Subscription interface {
	// Snapshots returns the channel of full-collection snapshots.
	// The channel is closed when the subscription ends.
	Snapshots() <-chan Snapshot

	// Errs returns the channel of stream-level errors. A value here
	// means the subscription is no longer delivering snapshots.
	Errs() <-chan error

	// Close releases the subscription. Safe to call more than once.
	Close() error
}

// ProgressFunc reports transfer progress as (bytesSent, totalBytes).
// It may be called from a backend-managed goroutine.
type ProgressFunc func(sent, total int64)

// Blobs is an object store holding binary blobs addressable by path.
type Blobs interface {
	// Put uploads data to the named blob, reporting progress through
	// progress when non-nil.
	Put(ctx context.Context, path string, data []byte, contentType string, progress ProgressFunc) error

	// DownloadURL resolves a retrievable URL for an uploaded blob.
	DownloadURL(ctx context.Context, path string) (string, error)

	// Delete removes the named blob.
	Delete(ctx context.Context, path string) error

	// DeleteByURL removes the blob a download URL points at.
	// Unrecognized URLs are a no-op: deletion here is best effort.
	DeleteByURL(ctx context.Context, url string) error
}
