// Package storage keeps named blobs, such as vector index snapshots, on
// local disk or in an S3-compatible bucket.
package storage

import (
	"context"
	"io"
)

// Blobs stores opaque byte blobs under slash-separated names.
//
// Implementations are safe for concurrent use. A missing blob is reported
// by Get as an error wrapping fs.ErrNotExist.
type Blobs interface {
	// Get opens the named blob. The caller closes the reader.
	Get(ctx context.Context, name string) (io.ReadCloser, error)

	// Put replaces the named blob with data. Readers never observe a
	// partially written blob.
	Put(ctx context.Context, name string, data []byte) error

	// Remove deletes the named blob. Removing a missing blob succeeds.
	Remove(ctx context.Context, name string) error

	// Exists reports whether the named blob is present.
	Exists(ctx context.Context, name string) (bool, error)
}
