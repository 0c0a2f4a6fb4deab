package webdavserver

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3ftp/s3ftp-go/internal/credentials"
	"github.com/s3ftp/s3ftp-go/internal/gateway"
	"github.com/s3ftp/s3ftp-go/internal/logging"
	"github.com/s3ftp/s3ftp-go/internal/metrics"
	"github.com/s3ftp/s3ftp-go/internal/storage/memory"
)

func newHandler(t *testing.T) (*Handler, *memory.Store) {
	t.Helper()
	store := memory.New()
	accounts, err := credentials.Parse(strings.NewReader("alice,secret,n\n"))
	require.NoError(t, err)
	driver, err := gateway.New(gateway.Options{Store: store, Accounts: accounts, Logger: logging.Discard()})
	require.NoError(t, err)
	return &Handler{
		Driver:   driver,
		Prefix:   "/dav/",
		Spool:    afero.NewMemMapFs(),
		SpoolDir: "/spool",
		Logger:   logging.Discard(),
		Metrics:  metrics.New(),
	}, store
}

func do(t *testing.T, srv *httptest.Server, method, path, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.SetBasicAuth("alice", "secret")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestRequiresAuth(t *testing.T) {
	h, _ := newHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/dav/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, realm, resp.Header.Get("WWW-Authenticate"))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/dav/", nil)
	require.NoError(t, err)
	req.SetBasicAuth("alice", "wrong")
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFileLifecycle(t *testing.T) {
	h, store := newHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp := do(t, srv, "MKCOL", "/dav/docs", "", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, store.Keys(), "alice/docs/.dir")

	resp = do(t, srv, http.MethodPut, "/dav/docs/a.txt", "hello dav", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, store.Keys(), "alice/docs/a.txt")

	resp = do(t, srv, http.MethodGet, "/dav/docs/a.txt", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello dav", readBody(t, resp))

	resp = do(t, srv, "PROPFIND", "/dav/docs/", "", map[string]string{"Depth": "1"})
	assert.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "a.txt")

	resp = do(t, srv, "MOVE", "/dav/docs/a.txt", "", map[string]string{"Destination": srv.URL + "/dav/b.txt"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, store.Keys(), "alice/b.txt")
	assert.NotContains(t, store.Keys(), "alice/docs/a.txt")

	resp = do(t, srv, http.MethodDelete, "/dav/b.txt", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, srv, http.MethodDelete, "/dav/docs", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, store.Keys())

	resp = do(t, srv, http.MethodGet, "/dav/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeStopsWithContext(t *testing.T) {
	h, _ := newHandler(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, h) }()

	req, err := http.NewRequest(http.MethodPut, "http://"+ln.Addr().String()+"/dav/x", strings.NewReader("x"))
	require.NoError(t, err)
	req.SetBasicAuth("alice", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
