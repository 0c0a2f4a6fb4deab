package gateway

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3ftp/s3ftp-go/internal/credentials"
	"github.com/s3ftp/s3ftp-go/internal/listing"
	"github.com/s3ftp/s3ftp-go/internal/metrics"
	"github.com/s3ftp/s3ftp-go/internal/storage/memory"
	"github.com/s3ftp/s3ftp-go/internal/storage/types"
)

const passwd = `alice,secret,n
root,toor,Y
bob,hunter2
`

// flakyStore wraps the memory store, counting calls and failing the ones a
// test asks for.
type flakyStore struct {
	*memory.Store

	mu       sync.Mutex
	calls    map[string]int
	failures map[string]int // method -> remaining failures, -1 for always
	failKey  string

	inFlight int32
	peak     int32
	delay    time.Duration
}

func newFlakyStore() *flakyStore {
	return &flakyStore{
		Store:    memory.New(),
		calls:    make(map[string]int),
		failures: make(map[string]int),
	}
}

var errInjected = errors.New("injected failure")

func (f *flakyStore) fail(method string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = times
}

func (f *flakyStore) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *flakyStore) enter(method, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if f.failKey != "" && key != f.failKey {
		return nil
	}
	switch n := f.failures[method]; {
	case n < 0:
		return errInjected
	case n > 0:
		f.failures[method] = n - 1
		return errInjected
	}
	return nil
}

func (f *flakyStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := f.enter("get", key); err != nil {
		return nil, err
	}
	return f.Store.Get(ctx, key)
}

func (f *flakyStore) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	if err := f.enter("put", key); err != nil {
		return err
	}
	return f.Store.Put(ctx, key, body, size)
}

func (f *flakyStore) Head(ctx context.Context, key string) (types.ObjectInfo, error) {
	if err := f.enter("head", key); err != nil {
		return types.ObjectInfo{}, err
	}
	return f.Store.Head(ctx, key)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := f.enter("delete", key); err != nil {
		return err
	}
	return f.Store.Delete(ctx, key)
}

func (f *flakyStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	if err := f.enter("copy", srcKey); err != nil {
		return err
	}
	return f.Store.Copy(ctx, srcKey, dstKey)
}

func (f *flakyStore) List(ctx context.Context, prefix, delimiter string) (*listing.Result, error) {
	if err := f.enter("list", prefix); err != nil {
		return nil, err
	}
	return f.Store.List(ctx, prefix, delimiter)
}

func newDriver(t *testing.T, store types.ObjectStore) *Driver {
	t.Helper()
	accounts, err := credentials.Parse(strings.NewReader(passwd))
	require.NoError(t, err)
	d, err := New(Options{Store: store, Accounts: accounts, Metrics: metrics.New()})
	require.NoError(t, err)
	return d
}

func seed(t *testing.T, store types.ObjectStore, objects map[string]string) {
	t.Helper()
	for k, v := range objects {
		require.NoError(t, store.Put(context.Background(), k, strings.NewReader(v), int64(len(v))))
	}
}

func names(entries []listing.Entry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{Accounts: &credentials.Store{}})
	assert.Error(t, err)

	_, err = New(Options{Store: memory.New()})
	assert.Error(t, err)
}

func TestSentinelsWrapFSErrors(t *testing.T) {
	assert.ErrorIs(t, ErrNotFound, fs.ErrNotExist)
	assert.ErrorIs(t, ErrPermission, fs.ErrPermission)
}

func TestAuthenticate(t *testing.T) {
	d := newDriver(t, memory.New())
	ctx := context.Background()

	assert.True(t, d.Authenticate(ctx, "alice", "secret"))
	assert.True(t, d.Authenticate(ctx, "root", "toor"))
	assert.False(t, d.Authenticate(ctx, "alice", "wrong"))
	assert.False(t, d.Authenticate(ctx, "mallory", "secret"))
	assert.False(t, d.Authenticate(ctx, "", ""))
}

func TestChangeDirectory(t *testing.T) {
	store := memory.New()
	seed(t, store, map[string]string{
		"alice/docs/.dir":   "",
		"alice/docs2/a.txt": "a",
		"alice/notes.txt":   "n",
		"bob/private/.dir":  "",
	})
	d := newDriver(t, store)
	ctx := context.Background()

	assert.True(t, d.ChangeDirectory(ctx, "alice", "/"))
	assert.True(t, d.ChangeDirectory(ctx, "alice", ""))
	assert.True(t, d.ChangeDirectory(ctx, "alice", "/docs"))
	assert.True(t, d.ChangeDirectory(ctx, "alice", "docs/"))
	assert.True(t, d.ChangeDirectory(ctx, "alice", "/docs2"))
	assert.False(t, d.ChangeDirectory(ctx, "alice", "/doc"), "a prefix of a directory name is not a directory")
	assert.False(t, d.ChangeDirectory(ctx, "alice", "/notes.txt"), "files are not directories")
	assert.False(t, d.ChangeDirectory(ctx, "alice", "/missing"))
	assert.False(t, d.ChangeDirectory(ctx, "alice", "/../bob/private"))

	assert.True(t, d.ChangeDirectory(ctx, "root", "/bob/private"))
	assert.True(t, d.ChangeDirectory(ctx, "root", "/alice"))
}

func TestChangeDirectoryOnEmptyBucketRoot(t *testing.T) {
	d := newDriver(t, memory.New())
	assert.True(t, d.ChangeDirectory(context.Background(), "alice", "/"))
	assert.True(t, d.ChangeDirectory(context.Background(), "root", "/"))
}

func TestListDirectory(t *testing.T) {
	store := memory.New()
	seed(t, store, map[string]string{
		"alice/a.txt":        "hello",
		"alice/b.txt":        "hi",
		"alice/docs/.dir":    "",
		"alice/docs/x.txt":   "x",
		"alice/.dir":         "",
		"alice/empty.txt":    "",
		"bob/secret.txt":     "s",
		"alice2/neighbor.go": "n",
	})
	d := newDriver(t, store)
	ctx := context.Background()

	entries, err := d.ListDirectory(ctx, "alice", "/")
	require.NoError(t, err)
	assert.Equal(t, []listing.Entry{
		{Name: ".", Dir: true},
		{Name: "..", Dir: true},
		{Name: "docs", Dir: true},
		{Name: "a.txt", Size: 5},
		{Name: "b.txt", Size: 2},
	}, entries)

	entries, err = d.ListDirectory(ctx, "alice", "/docs")
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "x.txt"}, names(entries))

	entries, err = d.ListDirectory(ctx, "alice", "/missing")
	require.NoError(t, err)
	assert.Equal(t, []string{".", ".."}, names(entries))

	entries, err = d.ListDirectory(ctx, "root", "/")
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "alice", "alice2", "bob"}, names(entries))
}

func TestListDirectoryRejectsTraversal(t *testing.T) {
	store := memory.New()
	seed(t, store, map[string]string{"bob/secret.txt": "s"})
	d := newDriver(t, store)

	_, err := d.ListDirectory(context.Background(), "alice", "/../bob")
	assert.ErrorIs(t, err, ErrPermission)
}

func TestListDirectoryTransportError(t *testing.T) {
	store := newFlakyStore()
	store.fail("list", -1)
	d := newDriver(t, store)

	_, err := d.ListDirectory(context.Background(), "alice", "/")
	assert.ErrorIs(t, err, ErrFailed)
	assert.Equal(t, 1, store.count("list"), "listing is not retried")
}

func TestStatSize(t *testing.T) {
	store := memory.New()
	seed(t, store, map[string]string{"alice/f.bin": "12345"})
	d := newDriver(t, store)
	ctx := context.Background()

	size, err := d.StatSize(ctx, "alice", "/f.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	_, err = d.StatSize(ctx, "alice", "/nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = d.StatSize(ctx, "bob", "/f.bin")
	assert.ErrorIs(t, err, ErrNotFound, "other users' files are invisible")

	size, err = d.StatSize(ctx, "root", "/alice/f.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}

func TestReadFileRetriesOnce(t *testing.T) {
	store := newFlakyStore()
	seed(t, store.Store, map[string]string{"alice/f.txt": "contents"})
	d := newDriver(t, store)
	ctx := context.Background()

	store.fail("get", 1)
	body, err := d.ReadFile(ctx, "alice", "/f.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, "contents", string(data))
	assert.Equal(t, 2, store.count("get"))

	store.fail("get", 2)
	_, err = d.ReadFile(ctx, "alice", "/f.txt")
	assert.ErrorIs(t, err, ErrFailed)
	assert.Equal(t, 4, store.count("get"))
}

func TestReadFileMissingIsNotRetried(t *testing.T) {
	store := newFlakyStore()
	d := newDriver(t, store)

	_, err := d.ReadFile(context.Background(), "alice", "/missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, store.count("get"))
}

func TestWriteFile(t *testing.T) {
	store := memory.New()
	d := newDriver(t, store)
	ctx := context.Background()

	require.NoError(t, d.WriteFile(ctx, "alice", "/dir/up.txt", strings.NewReader("data"), 4))
	info, err := store.Head(ctx, "alice/dir/up.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size)

	require.NoError(t, d.WriteFile(ctx, "root", "/shared.txt", strings.NewReader("x"), -1))
	_, err = store.Head(ctx, "shared.txt")
	assert.NoError(t, err)

	err = d.WriteFile(ctx, "alice", "/../bob/x", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrPermission)
	assert.NotContains(t, store.Keys(), "bob/x")
}

func TestWriteFileIsNotRetried(t *testing.T) {
	store := newFlakyStore()
	store.fail("put", 1)
	d := newDriver(t, store)

	err := d.WriteFile(context.Background(), "alice", "/f", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrFailed)
	assert.Equal(t, 1, store.count("put"))
}

func TestWriteFileToRootRefused(t *testing.T) {
	store := memory.New()
	d := newDriver(t, store)

	err := d.WriteFile(context.Background(), "alice", "/", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrPermission)
	assert.Empty(t, store.Keys())
}

func TestDeleteFile(t *testing.T) {
	store := newFlakyStore()
	seed(t, store.Store, map[string]string{"alice/f.txt": "x"})
	d := newDriver(t, store)
	ctx := context.Background()

	require.NoError(t, d.DeleteFile(ctx, "alice", "/f.txt"))
	assert.Empty(t, store.Keys())

	err := d.DeleteFile(ctx, "alice", "/f.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteFileRetriesOnce(t *testing.T) {
	store := newFlakyStore()
	seed(t, store.Store, map[string]string{"alice/f.txt": "x"})
	d := newDriver(t, store)

	store.fail("delete", 1)
	require.NoError(t, d.DeleteFile(context.Background(), "alice", "/f.txt"))
	assert.Equal(t, 2, store.count("delete"))
}

func TestMakeDirectory(t *testing.T) {
	store := memory.New()
	d := newDriver(t, store)
	ctx := context.Background()

	require.NoError(t, d.MakeDirectory(ctx, "alice", "/photos"))
	info, err := store.Head(ctx, "alice/photos/.dir")
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size)

	assert.True(t, d.ChangeDirectory(ctx, "alice", "/photos"))
	entries, err := d.ListDirectory(ctx, "alice", "/")
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "photos"}, names(entries))

	entries, err = d.ListDirectory(ctx, "alice", "/photos")
	require.NoError(t, err)
	assert.Equal(t, []string{".", ".."}, names(entries), "markers are hidden")

	require.NoError(t, d.MakeDirectory(ctx, "alice", "/"))
	_, err = store.Head(ctx, "alice/.dir")
	assert.NoError(t, err)
}

func TestDeleteDirectory(t *testing.T) {
	store := memory.New()
	seed(t, store, map[string]string{
		"alice/docs/.dir":       "",
		"alice/docs/a.txt":      "a",
		"alice/docs/sub/.dir":   "",
		"alice/docs/sub/b.txt":  "b",
		"alice/docs2/keep.txt":  "k",
		"alice/docs.txt":        "k",
		"alice/other/keep2.txt": "k",
	})
	d := newDriver(t, store)

	require.NoError(t, d.DeleteDirectory(context.Background(), "alice", "/docs"))
	assert.ElementsMatch(t, []string{
		"alice/docs2/keep.txt",
		"alice/docs.txt",
		"alice/other/keep2.txt",
	}, store.Keys())
}

func TestDeleteDirectoryCancelled(t *testing.T) {
	store := newFlakyStore()
	seed(t, store.Store, map[string]string{
		"alice/docs/a.txt": "a",
		"alice/docs/b.txt": "b",
		"alice/docs/c.txt": "c",
	})
	d := newDriver(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.DeleteDirectory(ctx, "alice", "/docs")
	assert.ErrorIs(t, err, ErrFailed, "skipped deletes are not a success")
	assert.Equal(t, 0, store.count("delete"))
	assert.ElementsMatch(t, []string{
		"alice/docs/a.txt",
		"alice/docs/b.txt",
		"alice/docs/c.txt",
	}, store.Keys())
}

func TestDeleteDirectoryEmptyListing(t *testing.T) {
	d := newDriver(t, memory.New())
	assert.NoError(t, d.DeleteDirectory(context.Background(), "alice", "/nothing"))
}

func TestDeleteDirectoryRefusesRoot(t *testing.T) {
	store := memory.New()
	seed(t, store, map[string]string{"alice/a": "a", "bob/b": "b"})
	d := newDriver(t, store)
	ctx := context.Background()

	assert.ErrorIs(t, d.DeleteDirectory(ctx, "alice", "/"), ErrPermission)
	assert.ErrorIs(t, d.DeleteDirectory(ctx, "root", "/"), ErrPermission)
	assert.Len(t, store.Keys(), 2)
}

func TestDeleteDirectoryConcurrencyCeiling(t *testing.T) {
	store := newFlakyStore()
	store.delay = 2 * time.Millisecond
	objects := make(map[string]string)
	for i := 0; i < 30; i++ {
		objects["alice/big/"+strings.Repeat("f", i+1)] = "x"
	}
	seed(t, store.Store, objects)
	d := newDriver(t, store)

	require.NoError(t, d.DeleteDirectory(context.Background(), "alice", "/big"))
	assert.Empty(t, store.Keys())
	assert.LessOrEqual(t, atomic.LoadInt32(&store.peak), int32(5))
	assert.Equal(t, 30, store.count("delete"))
}

func TestDeleteDirectoryConfiguredCeiling(t *testing.T) {
	store := newFlakyStore()
	store.delay = time.Millisecond
	objects := make(map[string]string)
	for i := 0; i < 10; i++ {
		objects["alice/d/"+strings.Repeat("g", i+1)] = "x"
	}
	seed(t, store.Store, objects)

	accounts, err := credentials.Parse(strings.NewReader(passwd))
	require.NoError(t, err)
	d, err := New(Options{Store: store, Accounts: accounts, DeleteConcurrency: 2})
	require.NoError(t, err)

	require.NoError(t, d.DeleteDirectory(context.Background(), "alice", "/d"))
	assert.LessOrEqual(t, atomic.LoadInt32(&store.peak), int32(2))
}

func TestDeleteDirectoryFailure(t *testing.T) {
	store := newFlakyStore()
	seed(t, store.Store, map[string]string{
		"alice/d/a": "a",
		"alice/d/b": "b",
	})
	store.failKey = "alice/d/a"
	store.fail("delete", -1)
	d := newDriver(t, store)

	err := d.DeleteDirectory(context.Background(), "alice", "/d")
	assert.ErrorIs(t, err, ErrFailed)
	assert.Contains(t, store.Keys(), "alice/d/a")
}

func TestDeleteDirectoryListFailure(t *testing.T) {
	store := newFlakyStore()
	seed(t, store.Store, map[string]string{"alice/d/a": "a"})
	store.fail("list", -1)
	d := newDriver(t, store)

	err := d.DeleteDirectory(context.Background(), "alice", "/d")
	assert.ErrorIs(t, err, ErrFailed)
	assert.Equal(t, 0, store.count("delete"))
}

func TestRename(t *testing.T) {
	store := memory.New()
	seed(t, store, map[string]string{"alice/old.txt": "body"})
	d := newDriver(t, store)
	ctx := context.Background()

	require.NoError(t, d.Rename(ctx, "alice", "/old.txt", "/dir/new.txt"))
	assert.Equal(t, []string{"alice/dir/new.txt"}, store.Keys())

	err := d.Rename(ctx, "alice", "/old.txt", "/again.txt")
	assert.Error(t, err)
}

func TestRenameOntoItself(t *testing.T) {
	store := newFlakyStore()
	seed(t, store.Store, map[string]string{"alice/a.txt": "body"})
	d := newDriver(t, store)
	ctx := context.Background()

	for _, to := range []string{"/a.txt", "a.txt", "./a.txt", "//a.txt"} {
		require.NoError(t, d.Rename(ctx, "alice", "/a.txt", to), to)
	}
	assert.Equal(t, 0, store.count("copy"))
	assert.Equal(t, 0, store.count("delete"))
	assert.Equal(t, []string{"alice/a.txt"}, store.Keys())

	rc, err := store.Get(ctx, "alice/a.txt")
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "body", string(body))
}

func TestRenameCopyFailureKeepsSource(t *testing.T) {
	store := newFlakyStore()
	seed(t, store.Store, map[string]string{"alice/a": "a"})
	store.fail("copy", -1)
	d := newDriver(t, store)

	err := d.Rename(context.Background(), "alice", "/a", "/b")
	assert.ErrorIs(t, err, ErrFailed)
	assert.Equal(t, 2, store.count("copy"), "copy is retried once")
	assert.Equal(t, 0, store.count("delete"), "delete never runs after a failed copy")
	assert.Equal(t, []string{"alice/a"}, store.Keys())
}

func TestRenameDeleteFailureLeavesDuplicate(t *testing.T) {
	store := newFlakyStore()
	seed(t, store.Store, map[string]string{"alice/a": "a"})
	store.fail("delete", -1)
	d := newDriver(t, store)

	err := d.Rename(context.Background(), "alice", "/a", "/b")
	assert.ErrorIs(t, err, ErrFailed)
	assert.Equal(t, 2, store.count("delete"))
	assert.ElementsMatch(t, []string{"alice/a", "alice/b"}, store.Keys())
}

func TestRenameOutsideSandbox(t *testing.T) {
	store := memory.New()
	seed(t, store, map[string]string{"alice/a": "a"})
	d := newDriver(t, store)

	err := d.Rename(context.Background(), "alice", "/a", "/../bob/a")
	assert.ErrorIs(t, err, ErrPermission)
	assert.Equal(t, []string{"alice/a"}, store.Keys())
}

func TestCancelledContextIsNotRetried(t *testing.T) {
	store := newFlakyStore()
	store.fail("get", -1)
	d := newDriver(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.ReadFile(ctx, "alice", "/f")
	assert.ErrorIs(t, err, ErrFailed)
	assert.Equal(t, 1, store.count("get"))
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := retry(ctx, 1, func() error {
		calls++
		return errInjected
	})
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, 2, calls)

	calls = 0
	err = retry(ctx, 0, func() error {
		calls++
		return errInjected
	})
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, 1, calls)

	calls = 0
	err = retry(ctx, 1, func() error {
		calls++
		return types.ErrNotFound
	})
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, 1, calls)
}
