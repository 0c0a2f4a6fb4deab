// Package types defines the object store contract shared by every storage
// backend.
package types

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/s3ftp/s3ftp-go/internal/listing"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a stored object without its body.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// ObjectStore is a flat key/value store with S3 semantics.
// Implementations must be safe for concurrent use.
type ObjectStore interface {
	// Get opens the object body. The caller closes it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put stores body under key, replacing any existing object.
	// size is the body length, or -1 when unknown.
	Put(ctx context.Context, key string, body io.Reader, size int64) error

	// Head returns object metadata.
	Head(ctx context.Context, key string) (ObjectInfo, error)

	// Delete removes key. A missing key is reported as ErrNotFound.
	Delete(ctx context.Context, key string) error

	// Copy duplicates srcKey to dstKey inside the store.
	Copy(ctx context.Context, srcKey, dstKey string) error

	// List returns keys under prefix. With a delimiter, keys are grouped
	// into common prefixes as in an S3 listing.
	List(ctx context.Context, prefix, delimiter string) (*listing.Result, error)

	// Close releases the store's connections.
	Close() error
}
