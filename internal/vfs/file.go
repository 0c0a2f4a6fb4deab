package vfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/s3ftp/s3ftp-go/internal/gateway"
)

// fileInfo is the os.FileInfo of a gateway entry.
type fileInfo struct {
	name    string
	size    int64
	dir     bool
	modTime time.Time
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.dir }
func (fi *fileInfo) Sys() any           { return nil }

func (fi *fileInfo) Mode() fs.FileMode {
	if fi.dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}

var errBadFileMode = errors.New("bad file mode")

// readFile streams an object. Seeking backwards reopens the stream; seeking
// forwards skips bytes.
type readFile struct {
	fs   *FS
	name string
	info os.FileInfo

	mu     sync.Mutex
	body   io.ReadCloser
	pos    int64
	closed bool
}

func (r *readFile) Name() string               { return r.name }
func (r *readFile) Stat() (os.FileInfo, error) { return r.info, nil }

func (r *readFile) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked(p)
}

func (r *readFile) readLocked(p []byte) (int, error) {
	if r.closed {
		return 0, os.ErrClosed
	}
	if r.body == nil {
		body, err := r.fs.read(r.name)
		if err != nil {
			return 0, pathError("read", r.name, err)
		}
		r.body = body
		if r.pos > 0 {
			if _, err := io.CopyN(io.Discard, r.body, r.pos); err != nil {
				return 0, pathError("seek", r.name, err)
			}
		}
	}
	n, err := r.body.Read(p)
	r.pos += int64(n)
	return n, err
}

func (r *readFile) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.seekLocked(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(readerFunc(r.readLocked), p)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n, err
}

func (r *readFile) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seekLocked(offset, whence)
}

func (r *readFile) seekLocked(offset int64, whence int) (int64, error) {
	if r.closed {
		return 0, os.ErrClosed
	}
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.pos + offset
	case io.SeekEnd:
		target = r.info.Size() + offset
	default:
		return 0, pathError("seek", r.name, fmt.Errorf("invalid whence %d", whence))
	}
	if target < 0 {
		return 0, pathError("seek", r.name, errors.New("negative position"))
	}

	switch {
	case target == r.pos:
	case r.body != nil && target > r.pos:
		if _, err := io.CopyN(io.Discard, r.body, target-r.pos); err != nil && !errors.Is(err, io.EOF) {
			return 0, pathError("seek", r.name, err)
		}
	default:
		// Reopened lazily on the next read.
		if r.body != nil {
			_ = r.body.Close()
			r.body = nil
		}
	}
	r.pos = target
	return target, nil
}

func (r *readFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return os.ErrClosed
	}
	r.closed = true
	if r.body != nil {
		return r.body.Close()
	}
	return nil
}

func (r *readFile) Readdir(int) ([]os.FileInfo, error) {
	return nil, pathError("readdir", r.name, errNotDir)
}

func (r *readFile) Readdirnames(int) ([]string, error) {
	return nil, pathError("readdir", r.name, errNotDir)
}

func (r *readFile) Write([]byte) (int, error) {
	return 0, pathError("write", r.name, errBadFileMode)
}

func (r *readFile) WriteAt([]byte, int64) (int, error) {
	return 0, pathError("write", r.name, errBadFileMode)
}

func (r *readFile) WriteString(string) (int, error) {
	return 0, pathError("write", r.name, errBadFileMode)
}

func (r *readFile) Truncate(int64) error {
	return pathError("truncate", r.name, errBadFileMode)
}

func (r *readFile) Sync() error { return nil }

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

var errNotDir = errors.New("not a directory")

// writeFile collects an upload in a spool file and stores it on Close.
type writeFile struct {
	fs    *FS
	name  string
	spool afero.File

	mu     sync.Mutex
	closed bool
}

// prefill copies the current object into the spool so partial writes keep
// the rest of the file. A missing object starts empty.
func (w *writeFile) prefill(appendMode bool) error {
	body, err := w.fs.read(w.name)
	if errors.Is(err, gateway.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer body.Close()

	if _, err := io.Copy(w.spool, body); err != nil {
		return err
	}
	if appendMode {
		return nil
	}
	_, err = w.spool.Seek(0, io.SeekStart)
	return err
}

func (w *writeFile) Name() string { return w.name }

func (w *writeFile) Stat() (os.FileInfo, error) {
	info, err := w.spool.Stat()
	if err != nil {
		return nil, err
	}
	return &fileInfo{name: w.name, size: info.Size(), modTime: info.ModTime()}, nil
}

func (w *writeFile) Read(p []byte) (int, error)              { return w.spool.Read(p) }
func (w *writeFile) ReadAt(p []byte, off int64) (int, error) { return w.spool.ReadAt(p, off) }
func (w *writeFile) Seek(off int64, whence int) (int64, error) {
	return w.spool.Seek(off, whence)
}
func (w *writeFile) Write(p []byte) (int, error)              { return w.spool.Write(p) }
func (w *writeFile) WriteAt(p []byte, off int64) (int, error) { return w.spool.WriteAt(p, off) }
func (w *writeFile) WriteString(s string) (int, error)        { return w.spool.WriteString(s) }
func (w *writeFile) Truncate(size int64) error                { return w.spool.Truncate(size) }
func (w *writeFile) Sync() error                              { return w.spool.Sync() }

func (w *writeFile) Readdir(int) ([]os.FileInfo, error) {
	return nil, pathError("readdir", w.name, errNotDir)
}

func (w *writeFile) Readdirnames(int) ([]string, error) {
	return nil, pathError("readdir", w.name, errNotDir)
}

// Close uploads the spooled content and removes the spool file.
func (w *writeFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	w.closed = true
	defer w.discard()

	info, err := w.spool.Stat()
	if err != nil {
		return pathError("close", w.name, err)
	}
	if _, err := w.spool.Seek(0, io.SeekStart); err != nil {
		return pathError("close", w.name, err)
	}
	if err := w.fs.driver.WriteFile(w.fs.ctx, w.fs.user, w.name, w.spool, info.Size()); err != nil {
		return pathError("close", w.name, err)
	}
	return nil
}

func (w *writeFile) discard() {
	name := w.spool.Name()
	_ = w.spool.Close()
	if err := w.fs.spool.Remove(name); err != nil {
		w.fs.logger.Warn("failed to remove upload spool", "spool", name, "error", err)
	}
}

// dirFile lists a directory through Readdir.
type dirFile struct {
	fs   *FS
	name string
	info os.FileInfo

	mu      sync.Mutex
	entries []os.FileInfo
	loaded  bool
	offset  int
}

func (d *dirFile) Name() string               { return d.name }
func (d *dirFile) Stat() (os.FileInfo, error) { return d.info, nil }
func (d *dirFile) Close() error               { return nil }
func (d *dirFile) Sync() error                { return nil }

func (d *dirFile) Readdir(count int) ([]os.FileInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		entries, err := d.fs.ReadDir(d.name)
		if err != nil {
			return nil, err
		}
		d.entries = entries
		d.loaded = true
	}

	rest := d.entries[d.offset:]
	if count <= 0 {
		d.offset = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if count > len(rest) {
		count = len(rest)
	}
	d.offset += count
	return rest[:count], nil
}

func (d *dirFile) Readdirnames(n int) ([]string, error) {
	infos, err := d.Readdir(n)
	names := make([]string, len(infos))
	for i, fi := range infos {
		names[i] = fi.Name()
	}
	return names, err
}

func (d *dirFile) Seek(offset int64, whence int) (int64, error) {
	if offset == 0 && whence == io.SeekStart {
		d.mu.Lock()
		d.offset = 0
		d.mu.Unlock()
		return 0, nil
	}
	return 0, pathError("seek", d.name, errIsDir)
}

func (d *dirFile) Read([]byte) (int, error) {
	return 0, pathError("read", d.name, errIsDir)
}

func (d *dirFile) ReadAt([]byte, int64) (int, error) {
	return 0, pathError("read", d.name, errIsDir)
}

func (d *dirFile) Write([]byte) (int, error) {
	return 0, pathError("write", d.name, errIsDir)
}

func (d *dirFile) WriteAt([]byte, int64) (int, error) {
	return 0, pathError("write", d.name, errIsDir)
}

func (d *dirFile) WriteString(string) (int, error) {
	return 0, pathError("write", d.name, errIsDir)
}

func (d *dirFile) Truncate(int64) error {
	return pathError("truncate", d.name, errIsDir)
}

var errIsDir = errors.New("is a directory")

var (
	_ afero.File = (*readFile)(nil)
	_ afero.File = (*writeFile)(nil)
	_ afero.File = (*dirFile)(nil)
)
