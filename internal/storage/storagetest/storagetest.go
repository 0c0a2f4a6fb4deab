// Package storagetest checks that an object store behaves like S3 in the ways
// the gateway depends on.
package storagetest

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3ftp/s3ftp-go/internal/listing"
	"github.com/s3ftp/s3ftp-go/internal/storage/types"
)

// Run exercises store under a fresh random prefix so it can be pointed at a
// shared database.
func Run(t *testing.T, store types.ObjectStore) {
	t.Helper()
	root := "t-" + uuid.NewString() + "/"
	ctx := context.Background()

	put := func(t *testing.T, key, body string) {
		t.Helper()
		require.NoError(t, store.Put(ctx, root+key, strings.NewReader(body), int64(len(body))))
	}
	read := func(t *testing.T, key string) string {
		t.Helper()
		rc, err := store.Get(ctx, root+key)
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(data)
	}

	t.Run("PutGet", func(t *testing.T) {
		put(t, "a.txt", "hello")
		assert.Equal(t, "hello", read(t, "a.txt"))

		put(t, "a.txt", "replaced")
		assert.Equal(t, "replaced", read(t, "a.txt"))
	})

	t.Run("PutUnknownSize", func(t *testing.T) {
		body := bytes.Repeat([]byte("x"), 4096)
		require.NoError(t, store.Put(ctx, root+"unsized", bytes.NewReader(body), -1))
		info, err := store.Head(ctx, root+"unsized")
		require.NoError(t, err)
		assert.Equal(t, int64(4096), info.Size)
	})

	t.Run("Head", func(t *testing.T) {
		put(t, "sized.bin", "12345678")
		info, err := store.Head(ctx, root+"sized.bin")
		require.NoError(t, err)
		assert.Equal(t, int64(8), info.Size)
		assert.Equal(t, root+"sized.bin", info.Key)
	})

	t.Run("EmptyObject", func(t *testing.T) {
		put(t, "empty/.dir", "")
		info, err := store.Head(ctx, root+"empty/.dir")
		require.NoError(t, err)
		assert.Equal(t, int64(0), info.Size)
	})

	t.Run("MissingKey", func(t *testing.T) {
		_, err := store.Get(ctx, root+"nope")
		assert.ErrorIs(t, err, types.ErrNotFound)

		_, err = store.Head(ctx, root+"nope")
		assert.ErrorIs(t, err, types.ErrNotFound)

		err = store.Delete(ctx, root+"nope")
		assert.ErrorIs(t, err, types.ErrNotFound)

		err = store.Copy(ctx, root+"nope", root+"nope2")
		assert.Error(t, err)
	})

	t.Run("Delete", func(t *testing.T) {
		put(t, "gone", "bye")
		require.NoError(t, store.Delete(ctx, root+"gone"))
		_, err := store.Head(ctx, root+"gone")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("Copy", func(t *testing.T) {
		put(t, "src", "payload")
		require.NoError(t, store.Copy(ctx, root+"src", root+"dst"))
		assert.Equal(t, "payload", read(t, "dst"))
		assert.Equal(t, "payload", read(t, "src"), "copy keeps the source")
	})

	t.Run("List", func(t *testing.T) {
		base := "tree/"
		put(t, base+"f1", "1")
		put(t, base+"f2", "22")
		put(t, base+"sub/.dir", "")
		put(t, base+"sub/deep", "333")
		put(t, base+"other/x", "4")

		res, err := store.List(ctx, root+base, "/")
		require.NoError(t, err)
		assert.Equal(t, root+base, res.Prefix)

		var names []string
		for _, e := range listing.Entries(res)[2:] {
			names = append(names, e.Name)
		}
		assert.ElementsMatch(t, []string{"other", "sub", "f1", "f2"}, names)

		flat, err := store.List(ctx, root+base, "")
		require.NoError(t, err)
		keys := listing.Keys(flat)
		sort.Strings(keys)
		assert.Equal(t, []string{
			root + base + "f1",
			root + base + "f2",
			root + base + "other/x",
			root + base + "sub/.dir",
			root + base + "sub/deep",
		}, keys)
		assert.Empty(t, flat.CommonPrefixes)
	})

	t.Run("ListDirectoryProbe", func(t *testing.T) {
		put(t, "probe/.dir", "")
		put(t, "probe2/.dir", "")

		res, err := store.List(ctx, root+"probe", "/")
		require.NoError(t, err)
		assert.True(t, listing.Exists(res, root+"probe/"))

		res, err = store.List(ctx, root+"prob", "/")
		require.NoError(t, err)
		assert.False(t, listing.Exists(res, root+"prob/"))
	})

	t.Run("ListEmpty", func(t *testing.T) {
		res, err := store.List(ctx, root+"nothing-here/", "/")
		require.NoError(t, err)
		assert.Empty(t, res.Contents)
		assert.Empty(t, res.CommonPrefixes)
	})
}
