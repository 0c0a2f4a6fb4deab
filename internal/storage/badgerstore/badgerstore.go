// Package badgerstore keeps objects in an embedded BadgerDB database.
//
// Keys are stored as obj/<bucket>/<key>, so one database can hold several
// buckets. Each value is an 8 byte big-endian modification time in Unix nanoseconds
// followed by the object body.
package badgerstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/s3ftp/s3ftp-go/internal/listing"
	"github.com/s3ftp/s3ftp-go/internal/storage/types"
)

const headerSize = 8

// Store implements types.ObjectStore on BadgerDB
type Store struct {
	db     *badger.DB
	prefix string // "obj/<bucket>/"
}

// Open opens or creates a database in dir and serves bucket from it. With
// inMemory set, dir is ignored and nothing touches the disk.
func Open(dir, bucket string, inMemory bool) (*Store, error) {
	if bucket == "" || strings.Contains(bucket, "/") {
		return nil, fmt.Errorf("invalid bucket name %q", bucket)
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &Store{db: db, prefix: "obj/" + bucket + "/"}, nil
}

func (s *Store) dbKey(key string) []byte {
	return []byte(s.prefix + key)
}

func encode(data []byte) []byte {
	buf := make([]byte, headerSize+len(data))
	binary.BigEndian.PutUint64(buf, uint64(time.Now().UnixNano()))
	copy(buf[headerSize:], data)
	return buf
}

func objectSize(item *badger.Item) int64 {
	return max(item.ValueSize()-headerSize, 0)
}

func (s *Store) getValue(key string) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.dbKey(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	if len(val) < headerSize {
		return nil, fmt.Errorf("corrupt object %s", key)
	}
	return val, nil
}

// Get reads object data
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	val, err := s.getValue(key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(val[headerSize:])), nil
}

// Put writes object data
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.dbKey(key), encode(data))
	})
	if err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// Head gets object metadata
func (s *Store) Head(ctx context.Context, key string) (types.ObjectInfo, error) {
	val, err := s.getValue(key)
	if err != nil {
		return types.ObjectInfo{}, err
	}
	mtime := int64(binary.BigEndian.Uint64(val[:headerSize]))
	return types.ObjectInfo{
		Key:     key,
		Size:    int64(len(val) - headerSize),
		ModTime: time.Unix(0, mtime),
	}, nil
}

// Delete deletes an object
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(s.dbKey(key)); err != nil {
			return err
		}
		return txn.Delete(s.dbKey(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Copy duplicates an object in one transaction
func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(s.dbKey(srcKey))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return txn.Set(s.dbKey(dstKey), encode(val[headerSize:]))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("copy %s: %w", srcKey, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to copy object: %w", err)
	}
	return nil
}

// List lists objects under prefix
func (s *Store) List(ctx context.Context, prefix, delimiter string) (*listing.Result, error) {
	var objects []listing.Object
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := s.dbKey(prefix)
		for it.Seek(seek); it.ValidForPrefix(seek); it.Next() {
			item := it.Item()
			objects = append(objects, listing.Object{
				Key:  string(item.Key()[len(s.prefix):]),
				Size: objectSize(item),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return listing.Build(prefix, delimiter, objects), nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

var _ types.ObjectStore = (*Store)(nil)
