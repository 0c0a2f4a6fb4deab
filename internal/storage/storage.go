// Package storage opens the configured object store and layers request
// middleware on top of it.
package storage

import "github.com/s3ftp/s3ftp-go/internal/storage/types"

// ObjectStore is the contract every backend implements.
type ObjectStore = types.ObjectStore

// ObjectInfo describes a stored object.
type ObjectInfo = types.ObjectInfo

// ErrNotFound is returned for missing keys.
var ErrNotFound = types.ErrNotFound
