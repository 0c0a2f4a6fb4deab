package vfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3ftp/s3ftp-go/internal/credentials"
	"github.com/s3ftp/s3ftp-go/internal/gateway"
	"github.com/s3ftp/s3ftp-go/internal/logging"
	"github.com/s3ftp/s3ftp-go/internal/storage/memory"
)

type countingStore struct {
	*memory.Store
	puts int
}

func (c *countingStore) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	c.puts++
	return c.Store.Put(ctx, key, body, size)
}

func newFS(t *testing.T) (*FS, *countingStore, afero.Fs) {
	t.Helper()
	store := &countingStore{Store: memory.New()}
	accounts, err := credentials.Parse(strings.NewReader("alice,pw,n\n"))
	require.NoError(t, err)
	driver, err := gateway.New(gateway.Options{Store: store, Accounts: accounts, Logger: logging.Discard()})
	require.NoError(t, err)

	spool := afero.NewMemMapFs()
	return New(context.Background(), driver, "alice", WithSpool(spool, "/spool"), WithLogger(logging.Discard())), store, spool
}

func put(t *testing.T, store *countingStore, key, body string) {
	t.Helper()
	require.NoError(t, store.Store.Put(context.Background(), key, strings.NewReader(body), int64(len(body))))
}

func get(t *testing.T, store *countingStore, key string) string {
	t.Helper()
	rc, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func spoolFiles(t *testing.T, spool afero.Fs) []string {
	t.Helper()
	infos, err := afero.ReadDir(spool, "/spool")
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	return names
}

func TestUploadSpoolsUntilClose(t *testing.T) {
	f, store, spool := newFS(t)

	file, err := f.OpenFile("/up.txt", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	_, err = file.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = file.WriteString("world")
	require.NoError(t, err)

	assert.Equal(t, 0, store.puts, "nothing is stored before close")
	assert.Len(t, spoolFiles(t, spool), 1)

	require.NoError(t, file.Close())
	assert.Equal(t, 1, store.puts, "one put request per upload")
	assert.Equal(t, "hello world", get(t, store, "alice/up.txt"))
	assert.Empty(t, spoolFiles(t, spool), "spool file is removed")

	assert.ErrorIs(t, file.Close(), os.ErrClosed)
}

func TestAppendKeepsExistingContent(t *testing.T) {
	f, store, _ := newFS(t)
	put(t, store, "alice/log.txt", "line1\n")

	file, err := f.OpenFile("/log.txt", os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = file.Write([]byte("line2\n"))
	require.NoError(t, err)
	require.NoError(t, file.Close())

	assert.Equal(t, "line1\nline2\n", get(t, store, "alice/log.txt"))
}

func TestOpenWithoutTruncOverwritesInPlace(t *testing.T) {
	f, store, _ := newFS(t)
	put(t, store, "alice/data", "abcdef")

	file, err := f.OpenFile("/data", os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = file.WriteAt([]byte("XY"), 2)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	assert.Equal(t, "abXYef", get(t, store, "alice/data"))
}

func TestCreateExclusive(t *testing.T) {
	f, store, _ := newFS(t)
	put(t, store, "alice/taken", "x")

	_, err := f.OpenFile("/taken", os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	assert.ErrorIs(t, err, fs.ErrExist)
}

func TestWriteToRootRefused(t *testing.T) {
	f, _, _ := newFS(t)
	_, err := f.Create("/")
	assert.ErrorIs(t, err, fs.ErrPermission)
}

func TestStat(t *testing.T) {
	f, store, _ := newFS(t)
	put(t, store, "alice/file.bin", "12345")
	put(t, store, "alice/dir/.dir", "")

	info, err := f.Stat("/file.bin")
	require.NoError(t, err)
	assert.False(t, info.IsDir())
	assert.Equal(t, int64(5), info.Size())
	assert.Equal(t, "file.bin", info.Name())

	info, err = f.Stat("/dir")
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "directories are found through the listing")
	assert.Equal(t, fs.ModeDir|0o755, info.Mode())

	info, err = f.Stat("/")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = f.Stat("/nope")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.True(t, os.IsNotExist(err))
}

func TestReadAndSeek(t *testing.T) {
	f, store, _ := newFS(t)
	put(t, store, "alice/r.txt", "0123456789")

	file, err := f.Open("/r.txt")
	require.NoError(t, err)
	defer file.Close()

	buf := make([]byte, 3)
	_, err = io.ReadFull(file, buf)
	require.NoError(t, err)
	assert.Equal(t, "012", string(buf))

	pos, err := file.Seek(7, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(7), pos)
	_, err = io.ReadFull(file, buf)
	require.NoError(t, err)
	assert.Equal(t, "789", string(buf))

	_, err = file.Seek(1, io.SeekStart)
	require.NoError(t, err)
	_, err = io.ReadFull(file, buf)
	require.NoError(t, err)
	assert.Equal(t, "123", string(buf))

	_, err = file.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	rest, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "89", string(rest))

	n, err := file.ReadAt(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "456", string(buf))

	_, err = file.Write([]byte("x"))
	assert.Error(t, err)
}

func TestReadDir(t *testing.T) {
	f, store, _ := newFS(t)
	put(t, store, "alice/a.txt", "aa")
	put(t, store, "alice/sub/.dir", "")
	put(t, store, "alice/sub/b.txt", "b")

	infos, err := f.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "sub", infos[0].Name())
	assert.True(t, infos[0].IsDir())
	assert.Equal(t, "a.txt", infos[1].Name())
	assert.Equal(t, int64(2), infos[1].Size())

	dir, err := f.Open("/sub")
	require.NoError(t, err)
	names, err := dir.Readdirnames(-1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, names)

	_, err = dir.Readdir(1)
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, dir.Close())

	entries, err := afero.ReadDir(f, "/")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestMkdirRemoveRename(t *testing.T) {
	f, store, _ := newFS(t)

	require.NoError(t, f.MkdirAll("/x/y", 0o755))
	assert.Contains(t, store.Keys(), "alice/x/y/.dir")

	put(t, store, "alice/x/y/file", "data")
	require.NoError(t, f.Rename("/x/y/file", "/moved"))
	assert.Equal(t, "data", get(t, store, "alice/moved"))

	require.NoError(t, f.Remove("/moved"))
	require.NoError(t, f.RemoveAll("/x"), "removing a directory deletes its contents")
	assert.Empty(t, store.Keys())

	assert.ErrorIs(t, f.Remove("/gone"), fs.ErrNotExist)
	assert.NoError(t, f.RemoveAll("/gone"))
}

func TestRemoveLeavesDirectories(t *testing.T) {
	f, store, _ := newFS(t)
	put(t, store, "alice/x/.dir", "")
	put(t, store, "alice/x/a.txt", "a")
	put(t, store, "alice/x/sub/b.txt", "b")

	assert.Error(t, f.Remove("/x"))
	assert.Error(t, f.Remove("/x/"))
	assert.ElementsMatch(t, []string{
		"alice/x/.dir",
		"alice/x/a.txt",
		"alice/x/sub/b.txt",
	}, store.Keys())

	require.NoError(t, f.RemoveDir("/x/sub"))
	assert.ElementsMatch(t, []string{"alice/x/.dir", "alice/x/a.txt"}, store.Keys())
}

func TestRemoveDirRefusesRoot(t *testing.T) {
	f, _, _ := newFS(t)
	assert.ErrorIs(t, f.RemoveDir("/"), fs.ErrPermission)
}

func TestUnsupportedMetadata(t *testing.T) {
	f, _, _ := newFS(t)
	assert.ErrorIs(t, f.Chmod("/a", 0o600), errors.ErrUnsupported)
	assert.ErrorIs(t, f.Chown("/a", 1, 1), errors.ErrUnsupported)
	assert.Error(t, f.Chtimes("/a", f.started, f.started))
}
