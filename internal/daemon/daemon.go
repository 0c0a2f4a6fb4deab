// Package daemon wires configuration, storage and the protocol frontends into
// a running gateway process.
package daemon

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	ftp "github.com/fclairamb/ftpserverlib"
	"golang.org/x/sync/errgroup"

	"github.com/s3ftp/s3ftp-go/internal/config"
	"github.com/s3ftp/s3ftp-go/internal/credentials"
	"github.com/s3ftp/s3ftp-go/internal/ftpserver"
	"github.com/s3ftp/s3ftp-go/internal/gateway"
	"github.com/s3ftp/s3ftp-go/internal/metrics"
	"github.com/s3ftp/s3ftp-go/internal/sftpserver"
	"github.com/s3ftp/s3ftp-go/internal/storage"
	"github.com/s3ftp/s3ftp-go/internal/webdavserver"
)

// Usage is printed when the account list cannot be fetched at startup.
const Usage = `failed to download the password file from the bucket. Check that:
    - the storage settings and keys in the config file are correct
    - there is a passwd object in the root of the bucket (see passwd.key).

The passwd file has one account per line:
username,password,admin status
james,1234,y
user,3456,n

With passwd.hash set to bcrypt or argon2id, store a hash instead of the
password. Generate one with:

    s3ftp passwd -hash bcrypt
`

// ErrPasswdUnavailable is returned when the account list cannot be loaded.
var ErrPasswdUnavailable = errors.New("passwd file unavailable")

// Options configures a gateway process.
type Options struct {
	Config *config.Config
	Logger *slog.Logger
	// Stderr receives the usage text. Defaults to os.Stderr.
	Stderr io.Writer
}

// Daemon is a gateway with its listeners bound, ready to serve.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   storage.ObjectStore
	driver  *gateway.Driver
	metrics *metrics.Collector
	tls     *tls.Config
	passive *ftp.PortRange

	ftpLn     net.Listener
	sftpLn    net.Listener
	webdavLn  net.Listener
	metricsLn net.Listener
}

// Run starts the gateway and serves until ctx is done or a frontend fails.
func Run(ctx context.Context, opt Options) error {
	d, err := New(ctx, opt)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Serve(ctx)
}

// New opens the object store, loads the account list and binds every
// enabled listener. Nothing is served until Serve is called.
func New(ctx context.Context, opt Options) (*Daemon, error) {
	cfg := opt.Config
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	lg := opt.Logger
	if lg == nil {
		lg = slog.Default()
	}
	stderr := opt.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	d := &Daemon{cfg: cfg, logger: lg}
	if cfg.Metrics.Enable {
		d.metrics = metrics.New()
	}

	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	store, err := storage.Open(ctx, cfg, d.metrics, lg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	d.store = store

	accounts, err := LoadAccounts(ctx, store, cfg.Passwd, lg)
	if err != nil {
		fmt.Fprint(stderr, Usage)
		return nil, fmt.Errorf("%w: %v", ErrPasswdUnavailable, err)
	}
	lg.Info("loaded accounts", "count", accounts.Len(), "key", cfg.Passwd.Key)

	d.driver, err = gateway.New(gateway.Options{
		Store:             store,
		Accounts:          accounts,
		DeleteConcurrency: cfg.Gateway.DeleteConcurrency,
		Logger:            lg,
		Metrics:           d.metrics,
	})
	if err != nil {
		return nil, err
	}

	if d.tls, err = loadTLS(cfg.FTP.TLS); err != nil {
		return nil, err
	}
	if cfg.FTP.PassivePorts != "" {
		start, end, err := config.ParsePortRange(cfg.FTP.PassivePorts)
		if err != nil {
			return nil, err
		}
		d.passive = &ftp.PortRange{Start: start, End: end}
	}

	if err := d.bind(); err != nil {
		return nil, err
	}
	ok = true
	return d, nil
}

func (d *Daemon) bind() error {
	var err error
	ip := d.cfg.Listen.IP
	if d.ftpLn, err = listen(ip, d.cfg.Listen.Port); err != nil {
		return fmt.Errorf("ftp listener: %w", err)
	}
	if d.cfg.SFTP.Enable {
		if d.sftpLn, err = listen(ip, d.cfg.SFTP.Port); err != nil {
			return fmt.Errorf("sftp listener: %w", err)
		}
	}
	if d.cfg.WebDAV.Enable {
		if d.webdavLn, err = listen(ip, d.cfg.WebDAV.Port); err != nil {
			return fmt.Errorf("webdav listener: %w", err)
		}
	}
	if d.cfg.Metrics.Enable {
		if d.metricsLn, err = net.Listen("tcp", d.cfg.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
	}
	return nil
}

func listen(ip string, port int) (net.Listener, error) {
	return net.Listen("tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
}

// FTPAddr is the bound FTP control address.
func (d *Daemon) FTPAddr() net.Addr {
	return d.ftpLn.Addr()
}

// Addrs reports the bound address of every enabled listener by protocol.
func (d *Daemon) Addrs() map[string]net.Addr {
	addrs := map[string]net.Addr{"ftp": d.ftpLn.Addr()}
	if d.sftpLn != nil {
		addrs["sftp"] = d.sftpLn.Addr()
	}
	if d.webdavLn != nil {
		addrs["webdav"] = d.webdavLn.Addr()
	}
	if d.metricsLn != nil {
		addrs["metrics"] = d.metricsLn.Addr()
	}
	return addrs
}

// Serve writes the pid file, drops privileges and runs every frontend until
// ctx is done. The first frontend to fail stops the others.
func (d *Daemon) Serve(ctx context.Context) error {
	if err := writePidFile(d.cfg.Process.PidFile); err != nil {
		return err
	}
	if d.cfg.Process.PidFile != "" {
		defer os.Remove(d.cfg.Process.PidFile)
	}
	if err := dropPrivileges(d.cfg.Process, d.logger); err != nil {
		return err
	}

	tlsMode, err := ftpserver.ParseTLSMode(d.cfg.FTP.TLS.Mode)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ftpserver.Serve(gctx, ftpserver.Options{
			Listener:          d.ftpLn,
			Driver:            d.driver,
			TLSConfig:         d.tls,
			TLSMode:           tlsMode,
			PassivePorts:      d.passive,
			PublicHost:        d.cfg.FTP.PublicHost,
			IdleTimeout:       d.cfg.FTP.IdleTimeout,
			ConnectionTimeout: d.cfg.FTP.ConnectionTimeout,
			DisableActiveMode: d.cfg.FTP.DisableActiveMode,
			Banner:            d.cfg.FTP.Banner,
			Logger:            d.logger,
			Metrics:           d.metrics,
		})
	})
	if d.sftpLn != nil {
		g.Go(func() error {
			return sftpserver.Serve(gctx, sftpserver.Options{
				Listener:    d.sftpLn,
				Driver:      d.driver,
				HostKeyPath: d.cfg.SFTP.HostKeyPath,
				Logger:      d.logger,
				Metrics:     d.metrics,
			})
		})
	}
	if d.webdavLn != nil {
		g.Go(func() error {
			return webdavserver.Serve(gctx, d.webdavLn, &webdavserver.Handler{
				Driver:  d.driver,
				Prefix:  d.cfg.WebDAV.Prefix,
				Logger:  d.logger,
				Metrics: d.metrics,
			})
		})
	}
	if d.metricsLn != nil {
		g.Go(func() error {
			return d.serveMetrics(gctx)
		})
	}

	err = g.Wait()
	d.logger.Info("gateway stopped")
	return err
}

func (d *Daemon) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(d.cfg.Metrics.Path, d.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	d.logger.Info("metrics listening", "addr", d.metricsLn.Addr().String(), "path", d.cfg.Metrics.Path)
	if err := srv.Serve(d.metricsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the listeners and the object store.
func (d *Daemon) Close() error {
	for _, ln := range []net.Listener{d.ftpLn, d.sftpLn, d.webdavLn, d.metricsLn} {
		if ln != nil {
			_ = ln.Close()
		}
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// LoadAccounts fetches the account list from the bucket and parses it.
func LoadAccounts(ctx context.Context, store storage.ObjectStore, cfg config.PasswdConfig, lg *slog.Logger) (*credentials.Store, error) {
	mode, err := credentials.ParseHashMode(cfg.Hash)
	if err != nil {
		return nil, err
	}
	rc, err := store.Get(ctx, cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", cfg.Key, err)
	}
	defer rc.Close()
	return credentials.Parse(rc, credentials.WithHashMode(mode), credentials.WithLogger(lg))
}

func loadTLS(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		return nil, nil
	}
	pair, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{pair}, MinVersion: tls.VersionTLS12}, nil
}

func writePidFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}
