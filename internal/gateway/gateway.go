// Package gateway maps filesystem operations onto object store requests.
//
// Directories are emulated with key prefixes and empty ".dir" marker
// objects, rename is a copy followed by a delete, and every path is resolved
// inside the caller's sandbox before it reaches the store. Failures are
// reduced to ErrNotFound, ErrPermission or ErrFailed; the underlying detail is
// logged and never returned to the protocol layer.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/s3ftp/s3ftp-go/internal/batch"
	"github.com/s3ftp/s3ftp-go/internal/listing"
	"github.com/s3ftp/s3ftp-go/internal/metrics"
	"github.com/s3ftp/s3ftp-go/internal/pathscope"
	"github.com/s3ftp/s3ftp-go/internal/storage/types"
)

var (
	// ErrNotFound is returned when the addressed file does not exist.
	ErrNotFound = fmt.Errorf("no such file: %w", fs.ErrNotExist)

	// ErrPermission is returned for paths outside the caller's sandbox and for
	// operations on a user's root that would destroy it.
	ErrPermission = fmt.Errorf("access denied: %w", fs.ErrPermission)

	// ErrFailed covers every other storage failure.
	ErrFailed = errors.New("operation failed")
)

// MarkerName is the object that stands for an otherwise empty directory.
const MarkerName = ".dir"

// Per-operation retry budgets: extra attempts after the first.
const (
	retryGet    = 1
	retryPut    = 0
	retryDelete = 1
	retryCopy   = 1
	retryHead   = 0
	retryList   = 0
)

// FileSystem is the set of operations a protocol frontend drives.
type FileSystem interface {
	Authenticate(ctx context.Context, user, password string) bool
	ChangeDirectory(ctx context.Context, user, path string) bool
	ListDirectory(ctx context.Context, user, path string) ([]listing.Entry, error)
	StatSize(ctx context.Context, user, path string) (int64, error)
	ReadFile(ctx context.Context, user, path string) (io.ReadCloser, error)
	WriteFile(ctx context.Context, user, path string, body io.Reader, size int64) error
	DeleteFile(ctx context.Context, user, path string) error
	DeleteDirectory(ctx context.Context, user, path string) error
	Rename(ctx context.Context, user, from, to string) error
	MakeDirectory(ctx context.Context, user, path string) error
}

// Accounts authenticates users and reports their admin bit.
type Accounts interface {
	Authenticate(username, password string) bool
	IsAdmin(username string) bool
}

// Options configures a Driver.
type Options struct {
	Store    types.ObjectStore
	Accounts Accounts
	// DeleteConcurrency caps the deletes a recursive directory delete keeps
	// in flight. Zero means batch.DefaultLimit.
	DeleteConcurrency int
	Logger            *slog.Logger
	Metrics           *metrics.Collector
}

// Driver implements FileSystem over an object store.
type Driver struct {
	store       types.ObjectStore
	accounts    Accounts
	deleteLimit int
	logger      *slog.Logger
	metrics     *metrics.Collector
}

// New creates a Driver.
func New(opts Options) (*Driver, error) {
	if opts.Store == nil {
		return nil, errors.New("gateway: object store is required")
	}
	if opts.Accounts == nil {
		return nil, errors.New("gateway: accounts are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.DeleteConcurrency
	if limit <= 0 {
		limit = batch.DefaultLimit
	}
	return &Driver{
		store:       opts.Store,
		accounts:    opts.Accounts,
		deleteLimit: limit,
		logger:      logger,
		metrics:     opts.Metrics,
	}, nil
}

// Authenticate checks a username and password against the account list.
func (d *Driver) Authenticate(ctx context.Context, user, password string) bool {
	op := d.begin("authenticate", user)
	ok := d.accounts.Authenticate(user, password)
	if !ok {
		op.log.Info("authentication failed")
		op.finish(errAuth)
		return false
	}
	op.finish(nil)
	return true
}

// ChangeDirectory reports whether path names an existing directory. A user's
// root always exists.
func (d *Driver) ChangeDirectory(ctx context.Context, user, path string) bool {
	op := d.begin("chdir", user)
	scoped, root, err := d.scope(user, path)
	if err != nil {
		op.finish(err)
		return false
	}
	if root {
		op.finish(nil)
		return true
	}
	op.withKey(scoped)

	var res *listing.Result
	err = retry(ctx, retryList, func() error {
		var err error
		res, err = d.store.List(ctx, scoped, "/")
		return err
	})
	if err != nil {
		op.finish(err)
		return false
	}
	if !listing.Exists(res, scoped+"/") {
		op.finish(types.ErrNotFound)
		return false
	}
	op.finish(nil)
	return true
}

// ListDirectory returns the entries of a directory, "." and ".." first.
func (d *Driver) ListDirectory(ctx context.Context, user, path string) ([]listing.Entry, error) {
	op := d.begin("list", user)
	prefix, err := pathscope.ScopeDir(d.identity(user), path)
	if err != nil {
		return nil, op.finish(err)
	}
	op.withKey(prefix)

	var res *listing.Result
	err = retry(ctx, retryList, func() error {
		var err error
		res, err = d.store.List(ctx, prefix, "/")
		return err
	})
	if err != nil {
		return nil, op.finish(err)
	}
	op.finish(nil)
	return listing.Entries(res), nil
}

// StatSize returns the size of a file.
func (d *Driver) StatSize(ctx context.Context, user, path string) (int64, error) {
	op := d.begin("stat", user)
	key, err := d.fileKey(user, path)
	if err != nil {
		return 0, op.finish(err)
	}
	op.withKey(key)

	var info types.ObjectInfo
	err = retry(ctx, retryHead, func() error {
		var err error
		info, err = d.store.Head(ctx, key)
		return err
	})
	if err != nil {
		return 0, op.finish(err)
	}
	op.finish(nil)
	return info.Size, nil
}

// ReadFile opens a file for reading. The caller closes the body.
func (d *Driver) ReadFile(ctx context.Context, user, path string) (io.ReadCloser, error) {
	op := d.begin("get", user)
	key, err := d.fileKey(user, path)
	if err != nil {
		return nil, op.finish(err)
	}
	op.withKey(key)

	var body io.ReadCloser
	err = retry(ctx, retryGet, func() error {
		var err error
		body, err = d.store.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, op.finish(err)
	}
	op.finish(nil)
	return body, nil
}

// WriteFile stores body as the file at path, replacing any existing file.
// size is -1 when unknown.
func (d *Driver) WriteFile(ctx context.Context, user, path string, body io.Reader, size int64) error {
	op := d.begin("put", user)
	key, err := d.fileKey(user, path)
	if err != nil {
		return op.finish(err)
	}
	op.withKey(key)

	return op.finish(retry(ctx, retryPut, func() error {
		return d.store.Put(ctx, key, body, size)
	}))
}

// DeleteFile removes a file.
func (d *Driver) DeleteFile(ctx context.Context, user, path string) error {
	op := d.begin("delete", user)
	key, err := d.fileKey(user, path)
	if err != nil {
		return op.finish(err)
	}
	op.withKey(key)

	return op.finish(d.deleteKey(ctx, key))
}

// MakeDirectory creates a directory by writing its marker object.
func (d *Driver) MakeDirectory(ctx context.Context, user, path string) error {
	op := d.begin("mkdir", user)
	scoped, _, err := d.scope(user, path)
	if err != nil {
		return op.finish(err)
	}
	key := pathscope.AsPrefix(scoped) + MarkerName
	op.withKey(key)

	return op.finish(retry(ctx, retryPut, func() error {
		return d.store.Put(ctx, key, strings.NewReader(""), 0)
	}))
}

// DeleteDirectory removes every object under a directory, markers included.
// Deletes run through the batch executor with a ceiling on how many are in
// flight; the first failure is returned. A user's root cannot be deleted.
func (d *Driver) DeleteDirectory(ctx context.Context, user, path string) error {
	op := d.begin("rmdir", user)
	scoped, root, err := d.scope(user, path)
	if err != nil {
		return op.finish(err)
	}
	if root {
		return op.finish(errRootObject)
	}
	prefix := scoped + "/"
	op.withKey(prefix)

	var res *listing.Result
	err = retry(ctx, retryList, func() error {
		var err error
		res, err = d.store.List(ctx, prefix, "")
		return err
	})
	if err != nil {
		return op.finish(err)
	}

	keys := listing.Keys(res)
	op.log.Debug("deleting directory contents", "objects", len(keys), "limit", d.deleteLimit)

	d.metrics.BatchStarted()
	defer d.metrics.BatchFinished()
	err = batch.Each(ctx, keys, d.deleteLimit, func(ctx context.Context, key string) error {
		err := d.deleteKey(ctx, key)
		// Gone already, which is what we wanted.
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	})
	return op.finish(err)
}

// Rename copies from to to and then deletes from. A failed delete leaves both
// copies in place and reports failure. Renaming a file onto itself is a no-op.
func (d *Driver) Rename(ctx context.Context, user, from, to string) error {
	op := d.begin("rename", user)
	src, err := d.fileKey(user, from)
	if err != nil {
		return op.finish(err)
	}
	dst, err := d.fileKey(user, to)
	if err != nil {
		return op.finish(err)
	}
	op.withKey(src)
	op.log = op.log.With("to", dst)
	if src == dst {
		return op.finish(nil)
	}

	err = retry(ctx, retryCopy, func() error {
		return d.store.Copy(ctx, src, dst)
	})
	if err != nil {
		return op.finish(err)
	}
	if err := d.deleteKey(ctx, src); err != nil {
		op.log.Warn("rename left source in place", "error", err)
		return op.finish(fmt.Errorf("%w: %v", errPartialRename, err))
	}
	return op.finish(nil)
}

func (d *Driver) deleteKey(ctx context.Context, key string) error {
	return retry(ctx, retryDelete, func() error {
		return d.store.Delete(ctx, key)
	})
}

func (d *Driver) identity(user string) pathscope.Identity {
	return pathscope.Identity{Username: user, Admin: d.accounts.IsAdmin(user)}
}

// scope resolves path and reports whether it is the caller's root.
func (d *Driver) scope(user, path string) (string, bool, error) {
	scoped, err := pathscope.Scope(d.identity(user), path)
	if err != nil {
		return "", false, err
	}
	clean, _ := pathscope.Clean(path)
	return scoped, clean == "", nil
}

// fileKey resolves a path that must name a file, which the root never does.
func (d *Driver) fileKey(user, path string) (string, error) {
	scoped, root, err := d.scope(user, path)
	if err != nil {
		return "", err
	}
	if root {
		return "", errRootObject
	}
	return scoped, nil
}

var (
	errAuth          = errors.New("authentication failed")
	errRootObject    = errors.New("operation not allowed on the root directory")
	errPartialRename = errors.New("copy succeeded but delete failed")
)

// retry calls fn once plus up to extra more times. Missing keys and
// cancelled contexts are not retried.
func retry(ctx context.Context, extra int, fn func() error) error {
	var err error
	for attempt := 0; attempt <= extra; attempt++ {
		err = fn()
		if err == nil || !retryable(ctx, err) {
			return err
		}
	}
	return err
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, types.ErrNotFound)
}

// operation carries the logger and timing of one driver call.
type operation struct {
	name    string
	log     *slog.Logger
	start   time.Time
	metrics *metrics.Collector
}

func (d *Driver) begin(name, user string) *operation {
	return &operation{
		name:    name,
		log:     d.logger.With("op", name, "user", user, "op_id", uuid.NewString()),
		start:   time.Now(),
		metrics: d.metrics,
	}
}

func (o *operation) withKey(key string) {
	o.log = o.log.With("key", key)
}

// finish records the outcome and collapses err into a sentinel.
func (o *operation) finish(err error) error {
	elapsed := time.Since(o.start)
	if err == nil {
		o.metrics.ObserveOperation(o.name, metrics.OutcomeOK, elapsed)
		o.log.Debug("operation completed", "duration", elapsed)
		return nil
	}

	switch {
	case errors.Is(err, pathscope.ErrPathTraversal),
		errors.Is(err, pathscope.ErrInvalidUser),
		errors.Is(err, errRootObject):
		o.metrics.ObserveOperation(o.name, metrics.OutcomeError, elapsed)
		o.log.Info("operation refused", "error", err)
		return ErrPermission
	case errors.Is(err, types.ErrNotFound):
		o.metrics.ObserveOperation(o.name, metrics.OutcomeNotFound, elapsed)
		o.log.Debug("operation target missing", "duration", elapsed)
		return ErrNotFound
	case errors.Is(err, errAuth):
		o.metrics.ObserveOperation(o.name, metrics.OutcomeError, elapsed)
		return err
	default:
		o.metrics.ObserveOperation(o.name, metrics.OutcomeError, elapsed)
		o.log.Warn("operation failed", "error", err, "duration", elapsed)
		return ErrFailed
	}
}

var _ FileSystem = (*Driver)(nil)
