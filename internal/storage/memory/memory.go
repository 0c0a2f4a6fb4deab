// Package memory is an in-memory object store for tests and demos.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/s3ftp/s3ftp-go/internal/listing"
	"github.com/s3ftp/s3ftp-go/internal/storage/types"
)

// Store keeps objects in a map
type Store struct {
	mu      sync.RWMutex
	objects map[string]*object
}

type object struct {
	data         []byte
	lastModified time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{objects: make(map[string]*object)}
}

// Get returns a reader over a copy of the object data
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, exists := s.objects[key]
	if !exists {
		return nil, fmt.Errorf("get %s: %w", key, types.ErrNotFound)
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Put stores the body under key
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = &object{data: data, lastModified: time.Now()}
	return nil
}

// Head returns object metadata
func (s *Store) Head(ctx context.Context, key string) (types.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, exists := s.objects[key]
	if !exists {
		return types.ObjectInfo{}, fmt.Errorf("head %s: %w", key, types.ErrNotFound)
	}
	return types.ObjectInfo{Key: key, Size: int64(len(obj.data)), ModTime: obj.lastModified}, nil
}

// Delete removes an object
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.objects[key]; !exists {
		return fmt.Errorf("delete %s: %w", key, types.ErrNotFound)
	}
	delete(s.objects, key)
	return nil
}

// Copy duplicates an object
func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, exists := s.objects[srcKey]
	if !exists {
		return fmt.Errorf("copy %s: %w", srcKey, types.ErrNotFound)
	}
	data := make([]byte, len(src.data))
	copy(data, src.data)
	s.objects[dstKey] = &object{data: data, lastModified: time.Now()}
	return nil
}

// List lists objects under prefix
func (s *Store) List(ctx context.Context, prefix, delimiter string) (*listing.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects := make([]listing.Object, 0, len(s.objects))
	for key, obj := range s.objects {
		objects = append(objects, listing.Object{Key: key, Size: int64(len(obj.data))})
	}
	return listing.Build(prefix, delimiter, objects), nil
}

// Keys returns every stored key. Used by tests to inspect the bucket.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	return keys
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

var _ types.ObjectStore = (*Store)(nil)
