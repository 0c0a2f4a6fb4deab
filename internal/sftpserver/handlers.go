package sftpserver

import (
	"errors"
	"io"
	"os"

	"github.com/pkg/sftp"

	"github.com/s3ftp/s3ftp-go/internal/vfs"
)

var errNotRegular = errors.New("not a regular file")

// Handlers implements sftp.Handlers over one user's session filesystem.
type Handlers struct {
	FS *vfs.FS
}

// Fileread opens an object for reading.
func (h Handlers) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	f, err := h.FS.Open(r.Filepath)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		_ = f.Close()
		if err == nil {
			err = errNotRegular
		}
		return nil, err
	}
	return f, nil
}

// Filewrite opens a spooled upload. The request server closes it once the
// handle is released, which stores the object.
func (h Handlers) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	pf := r.Pflags()
	flags := os.O_WRONLY
	if pf.Read {
		flags = os.O_RDWR
	}
	if pf.Creat {
		flags |= os.O_CREATE
	}
	if pf.Trunc {
		flags |= os.O_TRUNC
	}
	if pf.Excl {
		flags |= os.O_EXCL
	}
	// Appends arrive as WriteAt at the end offset; the spool is prefilled
	// without O_TRUNC so offsets line up.
	return h.FS.OpenFile(r.Filepath, flags, 0o644)
}

// Filecmd handles rename, mkdir and remove.
func (h Handlers) Filecmd(r *sftp.Request) error {
	switch r.Method {
	case "Setstat":
		// Objects carry no mode or times; accept so clients that preserve
		// attributes do not abort the transfer.
		return nil
	case "Rename", "PosixRename":
		return h.FS.Rename(r.Filepath, r.Target)
	case "Rmdir":
		return h.FS.RemoveDir(r.Filepath)
	case "Mkdir":
		return h.FS.Mkdir(r.Filepath, 0o755)
	case "Remove":
		return h.FS.Remove(r.Filepath)
	default:
		return sftp.ErrSSHFxOpUnsupported
	}
}

// Filelist lists directories or stats a single path.
func (h Handlers) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	switch r.Method {
	case "List":
		infos, err := h.FS.ReadDir(r.Filepath)
		if err != nil {
			return nil, err
		}
		return staticLister(infos), nil
	case "Stat", "Lstat":
		fi, err := h.FS.Stat(r.Filepath)
		if err != nil {
			return nil, err
		}
		return staticLister([]os.FileInfo{fi}), nil
	default:
		return nil, sftp.ErrSSHFxOpUnsupported
	}
}

// staticLister pages through a fixed slice of entries.
type staticLister []os.FileInfo

func (l staticLister) ListAt(dst []os.FileInfo, offset int64) (int, error) {
	if offset < 0 || offset >= int64(len(l)) {
		return 0, io.EOF
	}
	n := copy(dst, l[offset:])
	if int64(n)+offset >= int64(len(l)) {
		return n, io.EOF
	}
	return n, nil
}

var (
	_ sftp.FileReader = Handlers{}
	_ sftp.FileWriter = Handlers{}
	_ sftp.FileCmder  = Handlers{}
	_ sftp.FileLister = Handlers{}
)
