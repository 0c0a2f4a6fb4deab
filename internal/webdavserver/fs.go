package webdavserver

import (
	"context"
	"os"

	"golang.org/x/net/webdav"

	"github.com/s3ftp/s3ftp-go/internal/vfs"
)

// FS adapts a user's session filesystem to webdav.FileSystem.
type FS struct {
	fs *vfs.FS
}

// NewFS wraps fsys for the WebDAV handler.
func NewFS(fsys *vfs.FS) *FS {
	return &FS{fs: fsys}
}

func (f *FS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	return f.fs.Mkdir(name, perm)
}

func (f *FS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	return f.fs.OpenFile(name, flag, perm)
}

func (f *FS) RemoveAll(ctx context.Context, name string) error {
	return f.fs.RemoveAll(name)
}

func (f *FS) Rename(ctx context.Context, oldName, newName string) error {
	return f.fs.Rename(oldName, newName)
}

func (f *FS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	return f.fs.Stat(name)
}

var _ webdav.FileSystem = (*FS)(nil)
