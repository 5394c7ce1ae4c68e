// Package storage defines the BlobStore interface for persisting rendered
// audio and other generated artifacts. It abstracts the backend so callers
// can swap between local disk and S3-compatible object stores without
// changing application code.
package storage

import "context"

// BlobStore is a minimal interface for whole-object storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Put writes data under the named path, replacing any existing object.
	// The content type is advisory; backends without metadata ignore it.
	Put(ctx context.Context, path string, data []byte, contentType string) error

	// Get reads the whole object at the named path.
	// If the object does not exist, an error wrapping os.ErrNotExist is
	// returned.
	Get(ctx context.Context, path string) ([]byte, error)

	// Delete removes the named object.
	// If the object does not exist, Delete returns nil (idempotent).
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named object exists.
	Exists(ctx context.Context, path string) (bool, error)
}
