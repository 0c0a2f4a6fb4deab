// Package ftpserver serves the gateway over FTP and FTPS.
package ftpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"

	ftp "github.com/fclairamb/ftpserverlib"
	"github.com/spf13/afero"

	"github.com/s3ftp/s3ftp-go/internal/gateway"
	"github.com/s3ftp/s3ftp-go/internal/metrics"
	"github.com/s3ftp/s3ftp-go/internal/vfs"
)

// TLSMode selects how the control channel is protected.
type TLSMode int

const (
	// TLSNone serves plain FTP. AUTH TLS is offered when a TLS config is set.
	TLSNone TLSMode = iota
	// TLSExplicit offers AUTH TLS without requiring it.
	TLSExplicit
	// TLSRequired refuses login until AUTH TLS has succeeded.
	TLSRequired
	// TLSImplicit wraps the listener in TLS.
	TLSImplicit
)

// ParseTLSMode maps a configured mode name to a TLSMode.
func ParseTLSMode(s string) (TLSMode, error) {
	switch s {
	case "", "none":
		return TLSNone, nil
	case "explicit":
		return TLSExplicit, nil
	case "required":
		return TLSRequired, nil
	case "implicit":
		return TLSImplicit, nil
	}
	return TLSNone, fmt.Errorf("unknown tls mode %q", s)
}

func (m TLSMode) String() string {
	switch m {
	case TLSExplicit:
		return "explicit"
	case TLSRequired:
		return "required"
	case TLSImplicit:
		return "implicit"
	}
	return "none"
}

var errInvalidCredentials = errors.New("invalid credentials")

// Options configures the FTP server.
type Options struct {
	// Listener is bound by the caller so privileges can be dropped before
	// serving.
	Listener net.Listener
	Driver   gateway.FileSystem

	TLSConfig *tls.Config
	TLSMode   TLSMode

	PassivePorts      *ftp.PortRange
	PublicHost        string
	IdleTimeout       int
	ConnectionTimeout int
	DisableActiveMode bool
	Banner            string

	// Spool and SpoolDir hold uploads until the client closes them.
	// Defaults to the OS temporary directory.
	Spool    afero.Fs
	SpoolDir string

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Serve runs the FTP server on opt.Listener until ctx is done.
func Serve(ctx context.Context, opt Options) error {
	if opt.Listener == nil {
		return errors.New("listener is required")
	}
	if opt.Driver == nil {
		return errors.New("driver is required")
	}
	if opt.TLSMode != TLSNone && opt.TLSConfig == nil {
		return errors.New("tls config is required for FTPS")
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Spool == nil {
		opt.Spool = afero.NewOsFs()
	}

	ln := opt.Listener
	if opt.TLSMode == TLSImplicit {
		ln = tls.NewListener(ln, opt.TLSConfig)
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	drv := newMainDriver(ctx, opt, ln)
	srv := ftp.NewFtpServer(drv)
	srv.Logger = opt.Logger.With("component", "ftp")

	opt.Logger.Info("ftp server listening", "addr", opt.Listener.Addr().String(), "tls", opt.TLSMode.String())
	err := srv.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// mainDriver connects ftpserverlib callbacks to the gateway.
type mainDriver struct {
	ctx      context.Context
	opt      Options
	listener net.Listener
}

func newMainDriver(ctx context.Context, opt Options, ln net.Listener) *mainDriver {
	return &mainDriver{ctx: ctx, opt: opt, listener: ln}
}

// GetSettings returns server settings for ftpserverlib.
func (d *mainDriver) GetSettings() (*ftp.Settings, error) {
	idle := d.opt.IdleTimeout
	if idle == 0 {
		idle = 900
	}
	connTimeout := d.opt.ConnectionTimeout
	if connTimeout == 0 {
		connTimeout = 30
	}
	tlsReq := ftp.ClearOrEncrypted
	switch d.opt.TLSMode {
	case TLSRequired:
		tlsReq = ftp.MandatoryEncryption
	case TLSImplicit:
		tlsReq = ftp.ImplicitEncryption
	}

	s := &ftp.Settings{
		Listener:               d.listener,
		Banner:                 d.banner(),
		PublicHost:             d.opt.PublicHost,
		IdleTimeout:            idle,
		ConnectionTimeout:      connTimeout,
		DisableActiveMode:      d.opt.DisableActiveMode,
		TLSRequired:            tlsReq,
		ActiveConnectionsCheck: ftp.IPMatchRequired,
		PasvConnectionsCheck:   ftp.IPMatchRequired,
	}
	// A nil *PortRange stored in the interface would not read as unset.
	if d.opt.PassivePorts != nil {
		s.PassiveTransferPortRange = d.opt.PassivePorts
	}
	return s, nil
}

// ClientConnected greets a new control connection.
func (d *mainDriver) ClientConnected(cc ftp.ClientContext) (string, error) {
	d.opt.Metrics.SessionOpened("ftp")
	d.opt.Logger.Debug("ftp client connected", "client_id", cc.ID(), "remote", cc.RemoteAddr().String())
	return d.banner(), nil
}

// ClientDisconnected records the end of a session.
func (d *mainDriver) ClientDisconnected(cc ftp.ClientContext) {
	d.opt.Metrics.SessionClosed("ftp")
	d.opt.Logger.Debug("ftp client disconnected", "client_id", cc.ID())
}

// AuthUser checks the credentials and hands the session a filesystem scoped
// to the user.
func (d *mainDriver) AuthUser(cc ftp.ClientContext, user, pass string) (ftp.ClientDriver, error) {
	if !d.opt.Driver.Authenticate(d.ctx, user, pass) {
		d.opt.Logger.Info("ftp login refused", "user", user, "remote", cc.RemoteAddr().String())
		return nil, errInvalidCredentials
	}
	d.opt.Logger.Info("ftp login", "user", user, "remote", cc.RemoteAddr().String())

	cc.SetPath("/")
	return vfs.New(d.ctx, d.opt.Driver, user,
		vfs.WithSpool(d.opt.Spool, d.opt.SpoolDir),
		vfs.WithLogger(d.opt.Logger),
	), nil
}

// GetTLSConfig provides the certificate for AUTH TLS and implicit FTPS.
func (d *mainDriver) GetTLSConfig() (*tls.Config, error) {
	if d.opt.TLSConfig == nil {
		return nil, errors.New("tls not configured")
	}
	// Control and data connections share one config so clients can resume
	// the TLS session.
	return d.opt.TLSConfig, nil
}

// PreAuthUser accepts every USER command; the check happens in AuthUser so
// usernames cannot be probed.
func (d *mainDriver) PreAuthUser(cc ftp.ClientContext, user string) error {
	if d.opt.TLSMode == TLSRequired {
		_ = cc.SetTLSRequirement(ftp.MandatoryEncryption)
	}
	return nil
}

func (d *mainDriver) banner() string {
	if d.opt.Banner != "" {
		return d.opt.Banner
	}
	return "s3ftp ready"
}

var (
	_ ftp.MainDriver                      = (*mainDriver)(nil)
	_ ftp.MainDriverExtensionUserVerifier = (*mainDriver)(nil)
	_ ftp.ClientDriverExtensionFileList   = (*vfs.FS)(nil)
	_ ftp.ClientDriverExtensionRemoveDir  = (*vfs.FS)(nil)
)
