// Package vfs presents one user's view of the gateway as an afero.Fs.
//
// Protocol engines that speak afero (the FTP server) use FS directly; the
// SFTP, WebDAV and FUSE frontends wrap it. Uploads are spooled to a temporary
// file and sent to the object store with a single request when the handle is
// closed.
package vfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/spf13/afero"

	"github.com/s3ftp/s3ftp-go/internal/gateway"
)

// FS is a user-scoped afero.Fs over a gateway.FileSystem.
type FS struct {
	ctx     context.Context
	driver  gateway.FileSystem
	user    string
	spool   afero.Fs
	dir     string
	started time.Time
	logger  *slog.Logger
}

// Option configures an FS.
type Option func(*FS)

// WithSpool stores pending uploads on spool under dir instead of the OS
// temporary directory.
func WithSpool(spool afero.Fs, dir string) Option {
	return func(f *FS) {
		f.spool = spool
		f.dir = dir
	}
}

// WithLogger sets the logger for upload and cleanup failures.
func WithLogger(logger *slog.Logger) Option {
	return func(f *FS) { f.logger = logger }
}

// New returns the filesystem of an authenticated user. Every request issued
// through it runs under ctx.
func New(ctx context.Context, driver gateway.FileSystem, user string, opts ...Option) *FS {
	f := &FS{
		ctx:     ctx,
		driver:  driver,
		user:    user,
		spool:   afero.NewOsFs(),
		started: time.Now(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("user", user)
	return f
}

// User returns the username the filesystem is bound to.
func (f *FS) User() string { return f.user }

// Name identifies the filesystem.
func (f *FS) Name() string { return "s3ftp" }

// Stat reports a file's size, or a directory when the name is a prefix with
// objects under it.
func (f *FS) Stat(name string) (os.FileInfo, error) {
	name = clean(name)
	if name == "/" {
		return f.dirInfo(name), nil
	}

	size, err := f.driver.StatSize(f.ctx, f.user, name)
	if err == nil {
		return &fileInfo{name: path.Base(name), size: size, modTime: f.started}, nil
	}
	if !errors.Is(err, gateway.ErrNotFound) {
		return nil, pathError("stat", name, err)
	}
	if f.driver.ChangeDirectory(f.ctx, f.user, name) {
		return f.dirInfo(name), nil
	}
	return nil, pathError("stat", name, gateway.ErrNotFound)
}

// ReadDir lists a directory without the "." and ".." entries.
func (f *FS) ReadDir(name string) ([]os.FileInfo, error) {
	name = clean(name)
	entries, err := f.driver.ListDirectory(f.ctx, f.user, name)
	if err != nil {
		return nil, pathError("readdir", name, err)
	}

	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		infos = append(infos, &fileInfo{name: e.Name, size: e.Size, dir: e.Dir, modTime: f.started})
	}
	return infos, nil
}

// Open opens a file for reading, or a directory for listing.
func (f *FS) Open(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDONLY, 0)
}

// Create opens a new empty file for writing.
func (f *FS) Create(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

// OpenFile opens name. Write modes return a spooled upload handle; opening an
// existing file for writing without O_TRUNC starts from its current content.
func (f *FS) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	name = clean(name)
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return f.openWrite(name, flag)
	}

	info, err := f.Stat(name)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return &dirFile{fs: f, name: name, info: info}, nil
	}
	return &readFile{fs: f, name: name, info: info}, nil
}

func (f *FS) openWrite(name string, flag int) (afero.File, error) {
	if name == "/" {
		return nil, pathError("open", name, gateway.ErrPermission)
	}
	if flag&os.O_EXCL != 0 {
		if _, err := f.driver.StatSize(f.ctx, f.user, name); err == nil {
			return nil, pathError("open", name, fs.ErrExist)
		}
	}

	tmp, err := afero.TempFile(f.spool, f.dir, "s3ftp-upload-")
	if err != nil {
		return nil, pathError("open", name, err)
	}
	w := &writeFile{fs: f, name: name, spool: tmp}

	if flag&os.O_TRUNC == 0 {
		if err := w.prefill(flag&os.O_APPEND != 0); err != nil {
			w.discard()
			return nil, pathError("open", name, err)
		}
	}
	return w, nil
}

// Mkdir creates a directory marker.
func (f *FS) Mkdir(name string, perm os.FileMode) error {
	name = clean(name)
	if err := f.driver.MakeDirectory(f.ctx, f.user, name); err != nil {
		return pathError("mkdir", name, err)
	}
	return nil
}

// MkdirAll creates the innermost directory marker; parents exist implicitly
// as key prefixes.
func (f *FS) MkdirAll(name string, perm os.FileMode) error {
	return f.Mkdir(name, perm)
}

// Remove deletes a single file. Directories are left alone; use RemoveDir or
// RemoveAll for those.
func (f *FS) Remove(name string) error {
	name = clean(name)
	if err := f.driver.DeleteFile(f.ctx, f.user, name); err != nil {
		return pathError("remove", name, err)
	}
	return nil
}

// RemoveAll deletes name whatever it is, a directory with everything under
// it included. A missing name is not an error.
func (f *FS) RemoveAll(name string) error {
	name = clean(name)
	err := f.driver.DeleteFile(f.ctx, f.user, name)
	if errors.Is(err, gateway.ErrNotFound) {
		if !f.driver.ChangeDirectory(f.ctx, f.user, name) {
			return nil
		}
		return f.RemoveDir(name)
	}
	if err != nil {
		return pathError("remove", name, err)
	}
	return nil
}

// RemoveDir deletes a directory and every object under it.
func (f *FS) RemoveDir(name string) error {
	name = clean(name)
	if err := f.driver.DeleteDirectory(f.ctx, f.user, name); err != nil {
		return pathError("rmdir", name, err)
	}
	return nil
}

// Rename moves a file by copying it and deleting the source.
func (f *FS) Rename(oldname, newname string) error {
	oldname, newname = clean(oldname), clean(newname)
	if err := f.driver.Rename(f.ctx, f.user, oldname, newname); err != nil {
		return pathError("rename", oldname, err)
	}
	return nil
}

// Chmod is not supported by object storage.
func (f *FS) Chmod(name string, mode os.FileMode) error {
	return pathError("chmod", name, errors.ErrUnsupported)
}

// Chown is not supported by object storage.
func (f *FS) Chown(name string, uid, gid int) error {
	return pathError("chown", name, errors.ErrUnsupported)
}

// Chtimes is not supported by object storage.
func (f *FS) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return pathError("chtimes", name, errors.ErrUnsupported)
}

func (f *FS) dirInfo(name string) *fileInfo {
	return &fileInfo{name: path.Base(name), dir: true, modTime: f.started}
}

// read opens a fresh body stream.
func (f *FS) read(name string) (io.ReadCloser, error) {
	return f.driver.ReadFile(f.ctx, f.user, name)
}

func clean(name string) string {
	return path.Clean("/" + name)
}

// pathError reports gateway sentinels as the plain fs errors, which is what
// os.IsNotExist and the protocol engines compare against.
func pathError(op, name string, err error) error {
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		err = fs.ErrNotExist
	case errors.Is(err, gateway.ErrPermission):
		err = fs.ErrPermission
	}
	return &fs.PathError{Op: op, Path: name, Err: err}
}

var _ afero.Fs = (*FS)(nil)
