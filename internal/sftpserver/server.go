// Package sftpserver serves the gateway over SFTP.
package sftpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/pkg/sftp"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"

	"github.com/s3ftp/s3ftp-go/internal/gateway"
	"github.com/s3ftp/s3ftp-go/internal/metrics"
	"github.com/s3ftp/s3ftp-go/internal/vfs"
)

const handshakeTimeout = 30 * time.Second

// Options configures the SFTP server.
type Options struct {
	Listener    net.Listener
	Driver      gateway.FileSystem
	HostKeyPath string

	Spool    afero.Fs
	SpoolDir string

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Serve accepts SSH connections on opt.Listener until ctx is done.
func Serve(ctx context.Context, opt Options) error {
	if opt.Listener == nil {
		return errors.New("listener is required")
	}
	if opt.Driver == nil {
		return errors.New("driver is required")
	}
	if opt.HostKeyPath == "" {
		return errors.New("host key path is required")
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Spool == nil {
		opt.Spool = afero.NewOsFs()
	}

	hostSigner, err := LoadOrCreateHostKey(opt.HostKeyPath)
	if err != nil {
		return err
	}

	conf := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if !opt.Driver.Authenticate(ctx, c.User(), string(pass)) {
				opt.Logger.Info("sftp login refused", "user", c.User(), "remote", c.RemoteAddr().String())
				return nil, errors.New("invalid credentials")
			}
			return &ssh.Permissions{}, nil
		},
	}
	conf.AddHostKey(hostSigner)

	ln := opt.Listener
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	opt.Logger.Info("sftp server listening", "addr", ln.Addr().String())
	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		go handleConn(ctx, opt, conf, c)
	}
}

func handleConn(ctx context.Context, opt Options, conf *ssh.ServerConfig, netConn net.Conn) {
	defer netConn.Close()
	_ = netConn.SetDeadline(time.Now().Add(handshakeTimeout))
	serverConn, chans, reqs, err := ssh.NewServerConn(netConn, conf)
	if err != nil {
		opt.Logger.Debug("ssh handshake failed", "remote", netConn.RemoteAddr().String(), "error", err)
		return
	}
	defer serverConn.Close()
	_ = netConn.SetDeadline(time.Time{})

	opt.Metrics.SessionOpened("sftp")
	defer opt.Metrics.SessionClosed("sftp")

	go ssh.DiscardRequests(reqs)

	user := serverConn.User()
	opt.Logger.Info("sftp login", "user", user, "remote", serverConn.RemoteAddr().String())

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported channel")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range chReqs {
				if req.Type == "subsystem" && len(req.Payload) >= 4 && string(req.Payload[4:]) == "sftp" {
					_ = req.Reply(true, nil)
					fsys := vfs.New(ctx, opt.Driver, user,
						vfs.WithSpool(opt.Spool, opt.SpoolDir),
						vfs.WithLogger(opt.Logger),
					)
					h := Handlers{FS: fsys}
					s := sftp.NewRequestServer(ch, sftp.Handlers{FileGet: h, FilePut: h, FileCmd: h, FileList: h})
					if err := s.Serve(); err != nil && !errors.Is(err, io.EOF) {
						opt.Logger.Debug("sftp session ended", "user", user, "error", err)
					}
					return
				}
				_ = req.Reply(false, nil)
			}
		}()
	}
}
