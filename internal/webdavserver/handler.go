// Package webdavserver serves the gateway over WebDAV.
package webdavserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/net/webdav"

	"github.com/s3ftp/s3ftp-go/internal/gateway"
	"github.com/s3ftp/s3ftp-go/internal/metrics"
	"github.com/s3ftp/s3ftp-go/internal/vfs"
)

const realm = `Basic realm="s3ftp WebDAV"`

// Handler authenticates every request with HTTP basic auth and serves it from
// the user's view of the bucket.
type Handler struct {
	Driver   gateway.FileSystem
	Prefix   string
	Spool    afero.Fs
	SpoolDir string
	Logger   *slog.Logger
	Metrics  *metrics.Collector

	once sync.Once
	ls   webdav.LockSystem
}

func (h *Handler) lockSystem() webdav.LockSystem {
	h.once.Do(func() {
		h.ls = webdav.NewMemLS()
	})
	return h.ls
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lg := h.Logger
	if lg == nil {
		lg = slog.Default()
	}

	username, password, ok := r.BasicAuth()
	if !ok || !h.Driver.Authenticate(r.Context(), username, password) {
		w.Header().Set("WWW-Authenticate", realm)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	lg.Debug("webdav request", "user", username, "method", r.Method, "path", r.URL.Path)
	h.Metrics.SessionOpened("webdav")
	defer h.Metrics.SessionClosed("webdav")

	opts := []vfs.Option{vfs.WithLogger(lg)}
	if h.Spool != nil {
		opts = append(opts, vfs.WithSpool(h.Spool, h.SpoolDir))
	}
	fsys := vfs.New(r.Context(), h.Driver, username, opts...)

	dav := &webdav.Handler{
		Prefix:     strings.TrimSuffix(h.Prefix, "/"),
		FileSystem: NewFS(fsys),
		LockSystem: h.lockSystem(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				lg.Warn("webdav request error", "user", username, "method", r.Method, "path", r.URL.Path, "error", err.Error())
			}
		},
	}
	dav.ServeHTTP(w, r)
}

// Serve runs h on ln until ctx is done.
func Serve(ctx context.Context, ln net.Listener, h *Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if h.Logger != nil {
		h.Logger.Info("webdav server listening", "addr", ln.Addr().String(), "prefix", h.Prefix)
	}
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
