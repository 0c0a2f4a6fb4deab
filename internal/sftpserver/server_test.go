package sftpserver

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/s3ftp/s3ftp-go/internal/credentials"
	"github.com/s3ftp/s3ftp-go/internal/gateway"
	"github.com/s3ftp/s3ftp-go/internal/logging"
	"github.com/s3ftp/s3ftp-go/internal/storage/memory"
)

func startServer(t *testing.T) (string, *memory.Store) {
	t.Helper()
	store := memory.New()
	accounts, err := credentials.Parse(strings.NewReader("alice,secret,n\n"))
	require.NoError(t, err)
	driver, err := gateway.New(gateway.Options{Store: store, Accounts: accounts, Logger: logging.Discard()})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, Options{
			Listener:    ln,
			Driver:      driver,
			HostKeyPath: filepath.Join(t.TempDir(), "host_key"),
			Spool:       afero.NewMemMapFs(),
			SpoolDir:    "/spool",
			Logger:      logging.Discard(),
		})
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ln.Addr().String(), store
}

func dial(t *testing.T, addr, user, pass string) (*sftp.Client, error) {
	t.Helper()
	conn, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(pass)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	t.Cleanup(func() {
		client.Close()
		conn.Close()
	})
	return client, nil
}

func TestSession(t *testing.T) {
	addr, store := startServer(t)
	client, err := dial(t, addr, "alice", "secret")
	require.NoError(t, err)

	require.NoError(t, client.Mkdir("/docs"))
	assert.Contains(t, store.Keys(), "alice/docs/.dir")

	f, err := client.Create("/docs/a.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello sftp"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Contains(t, store.Keys(), "alice/docs/a.txt")

	infos, err := client.ReadDir("/docs")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "a.txt", infos[0].Name())
	assert.Equal(t, int64(10), infos[0].Size())

	info, err := client.Stat("/docs")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	r, err := client.Open("/docs/a.txt")
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = io.Copy(&buf, r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "hello sftp", buf.String())

	require.NoError(t, client.Rename("/docs/a.txt", "/b.txt"))
	assert.Contains(t, store.Keys(), "alice/b.txt")

	require.NoError(t, client.Remove("/b.txt"))
	require.NoError(t, client.RemoveDirectory("/docs"))
	assert.Empty(t, store.Keys())

	_, err = client.Stat("/missing")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoginRefused(t *testing.T) {
	addr, _ := startServer(t)
	_, err := dial(t, addr, "alice", "wrong")
	assert.Error(t, err)
}

func TestLoadOrCreateHostKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "host_key")

	first, err := LoadOrCreateHostKey(path)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Equal(t, ssh.KeyAlgoED25519, first.PublicKey().Type())

	second, err := LoadOrCreateHostKey(path)
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey().Marshal(), second.PublicKey().Marshal())
}

func TestLoadOrCreateHostKeyRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_key")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))
	_, err := LoadOrCreateHostKey(path)
	assert.Error(t, err)
}

func TestStaticLister(t *testing.T) {
	l := staticLister(make([]os.FileInfo, 3))
	dst := make([]os.FileInfo, 2)

	n, err := l.ListAt(dst, 0)
	assert.Equal(t, 2, n)
	assert.NoError(t, err)

	n, err = l.ListAt(dst, 2)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, io.EOF)

	n, err = l.ListAt(dst, 5)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}
