// Package fuse mounts one user's view of the gateway as a local filesystem.
package fuse

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sync"
	"syscall"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/spf13/afero"

	"github.com/s3ftp/s3ftp-go/internal/cache"
	"github.com/s3ftp/s3ftp-go/internal/vfs"
)

// maxCachedAttrs bounds the attribute cache of a mount.
const maxCachedAttrs = 10000

// FuseFS implements the fuse.FS interface
type FuseFS struct {
	fs    *vfs.FS
	attrs *cache.StatCache
}

var _ fusefs.FS = (*FuseFS)(nil)

// NewFuseFS wraps a session filesystem for serving. attrs may be nil to
// stat every lookup against storage.
func NewFuseFS(fsys *vfs.FS, attrs *cache.StatCache) *FuseFS {
	return &FuseFS{fs: fsys, attrs: attrs}
}

// Root returns the root directory
func (f *FuseFS) Root() (fusefs.Node, error) {
	return &Dir{FuseFS: f, path: "/"}, nil
}

// stat answers from the attribute cache, recording both hits and misses
// from storage.
func (f *FuseFS) stat(name string) (os.FileInfo, error) {
	if info, found := f.attrs.Get(name); found {
		if info == nil {
			return nil, fs.ErrNotExist
		}
		return info, nil
	}
	info, err := f.fs.Stat(name)
	switch {
	case err == nil:
		f.attrs.Set(name, info)
	case errors.Is(err, fs.ErrNotExist):
		f.attrs.Set(name, nil)
	}
	return info, err
}

// Dir represents a directory node
type Dir struct {
	*FuseFS
	path string
}

var (
	_ fusefs.Node               = (*Dir)(nil)
	_ fusefs.NodeStringLookuper = (*Dir)(nil)
	_ fusefs.HandleReadDirAller = (*Dir)(nil)
	_ fusefs.NodeMkdirer        = (*Dir)(nil)
	_ fusefs.NodeCreater        = (*Dir)(nil)
	_ fusefs.NodeRemover        = (*Dir)(nil)
	_ fusefs.NodeRenamer        = (*Dir)(nil)
)

// Attr returns directory attributes
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	info, err := d.stat(d.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(a, info)
	return nil
}

// Lookup looks up a child node
func (d *Dir) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	child := d.child(name)
	info, err := d.stat(child)
	if err != nil {
		return nil, toErrno(err)
	}
	if info.IsDir() {
		return &Dir{FuseFS: d.FuseFS, path: child}, nil
	}
	return &File{FuseFS: d.FuseFS, path: child}, nil
}

// ReadDirAll reads all directory entries
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	infos, err := d.fs.ReadDir(d.path)
	if err != nil {
		return nil, toErrno(err)
	}

	dirents := make([]fuse.Dirent, 0, len(infos))
	for _, info := range infos {
		dirent := fuse.Dirent{Name: info.Name(), Type: fuse.DT_File}
		if info.IsDir() {
			dirent.Type = fuse.DT_Dir
		}
		dirents = append(dirents, dirent)
	}
	return dirents, nil
}

// Mkdir creates a new directory
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	child := d.child(req.Name)
	d.attrs.Delete(child)
	if err := d.fs.Mkdir(child, req.Mode); err != nil {
		return nil, toErrno(err)
	}
	return &Dir{FuseFS: d.FuseFS, path: child}, nil
}

// Create creates a new file in the directory. Its content is stored when the
// handle is released.
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	child := d.child(req.Name)
	f, err := d.fs.OpenFile(child, int(req.Flags)|os.O_CREATE, req.Mode)
	if err != nil {
		return nil, nil, toErrno(err)
	}
	d.attrs.Delete(child)
	return &File{FuseFS: d.FuseFS, path: child}, d.handle(child, f), nil
}

// Remove removes a file, or a directory with everything below it
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	child := d.child(req.Name)
	if req.Dir {
		defer d.attrs.DeleteTree(child)
		return toErrno(d.fs.RemoveDir(child))
	}
	defer d.attrs.Delete(child)
	return toErrno(d.fs.Remove(child))
}

// Rename moves a file, possibly into another directory
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		return fuse.Errno(syscall.EINVAL)
	}
	from, to := d.child(req.OldName), target.child(req.NewName)
	defer d.attrs.DeleteTree(from)
	defer d.attrs.DeleteTree(to)
	return toErrno(d.fs.Rename(from, to))
}

func (d *Dir) child(name string) string {
	return path.Join(d.path, name)
}

// File represents a file node
type File struct {
	*FuseFS
	path string
}

var (
	_ fusefs.Node          = (*File)(nil)
	_ fusefs.NodeOpener    = (*File)(nil)
	_ fusefs.NodeSetattrer = (*File)(nil)
	_ fusefs.NodeFsyncer   = (*File)(nil)
)

// Attr returns file attributes
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	info, err := f.stat(f.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(a, info)
	return nil
}

// Open opens a file for reading, or a spooled upload for any write mode
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	file, err := f.fs.OpenFile(f.path, int(req.Flags), 0)
	if err != nil {
		return nil, toErrno(err)
	}
	return f.handle(f.path, file), nil
}

// Setattr applies size changes by rewriting the object; mode, owner and
// times are not stored.
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if err := f.truncate(int64(req.Size)); err != nil {
			return toErrno(err)
		}
	}
	return f.Attr(ctx, &resp.Attr)
}

func (f *File) truncate(size int64) error {
	defer f.attrs.Delete(f.path)
	flags := os.O_WRONLY
	if size == 0 {
		flags |= os.O_TRUNC
	}
	file, err := f.fs.OpenFile(f.path, flags, 0)
	if err != nil {
		return err
	}
	if err := file.Truncate(size); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// Fsync is a no-op; data is stored on release
func (f *File) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return nil
}

// Handle is an open file.
type Handle struct {
	mu    sync.Mutex
	file  afero.File
	path  string
	attrs *cache.StatCache
}

func (f *FuseFS) handle(name string, file afero.File) *Handle {
	return &Handle{file: file, path: name, attrs: f.attrs}
}

var (
	_ fusefs.HandleReader   = (*Handle)(nil)
	_ fusefs.HandleWriter   = (*Handle)(nil)
	_ fusefs.HandleFlusher  = (*Handle)(nil)
	_ fusefs.HandleReleaser = (*Handle)(nil)
)

// Read reads file data
func (h *Handle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := make([]byte, req.Size)
	n, err := h.file.ReadAt(buf, req.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return toErrno(err)
	}
	resp.Data = buf[:n]
	return nil
}

// Write writes file data
func (h *Handle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.file.WriteAt(req.Data, req.Offset)
	if err != nil {
		return toErrno(err)
	}
	resp.Size = n
	return nil
}

// Flush is a no-op; the upload happens on release
func (h *Handle) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	return nil
}

// Release closes the handle, storing a pending upload
func (h *Handle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.attrs.Delete(h.path)
	return toErrno(h.file.Close())
}

func fillAttr(a *fuse.Attr, info os.FileInfo) {
	a.Mode = info.Mode()
	a.Size = uint64(info.Size())
	a.Mtime = info.ModTime()
	a.Uid = uint32(os.Getuid())
	a.Gid = uint32(os.Getgid())
}

// toErrno maps session filesystem errors to errno values for the kernel.
func toErrno(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fuse.Errno(syscall.ENOENT)
	case errors.Is(err, fs.ErrPermission):
		return fuse.Errno(syscall.EACCES)
	case errors.Is(err, fs.ErrExist):
		return fuse.Errno(syscall.EEXIST)
	case errors.Is(err, errors.ErrUnsupported):
		return fuse.Errno(syscall.ENOTSUP)
	default:
		return fuse.Errno(syscall.EIO)
	}
}

// Mount serves fsys at mountpoint until ctx is done or the filesystem is
// unmounted externally. Attributes are cached for attrTTL; zero disables the
// cache.
func Mount(ctx context.Context, mountpoint string, fsys *vfs.FS, attrTTL time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := fuse.Mount(
		mountpoint,
		fuse.FSName("s3ftp"),
		fuse.Subtype("s3ftp"),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	logger.Info("mounted filesystem", "mountpoint", mountpoint, "user", fsys.User(), "attr_ttl", attrTTL)

	attrs := cache.NewStatCache(maxCachedAttrs, attrTTL)
	defer attrs.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			if err := fuse.Unmount(mountpoint); err != nil {
				logger.Warn("unmount failed", "mountpoint", mountpoint, "error", err)
			}
		case <-stop:
		}
	}()

	return fusefs.Serve(c, NewFuseFS(fsys, attrs))
}
