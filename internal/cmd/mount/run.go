// Package mount implements the "s3ftp mount" subcommand, which mounts one
// account's view of the bucket with FUSE.
package mount

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/s3ftp/s3ftp-go/internal/cmd/server"
	"github.com/s3ftp/s3ftp-go/internal/config"
	"github.com/s3ftp/s3ftp-go/internal/daemon"
	"github.com/s3ftp/s3ftp-go/internal/fuse"
	"github.com/s3ftp/s3ftp-go/internal/gateway"
	"github.com/s3ftp/s3ftp-go/internal/logging"
	"github.com/s3ftp/s3ftp-go/internal/storage"
	"github.com/s3ftp/s3ftp-go/internal/vfs"
)

type Options struct {
	ConfigPath string
	User       string
	Mountpoint string
	AttrTTL    time.Duration
}

// Run mounts the account given by -user at the directory argument and
// serves until interrupted or unmounted.
func Run(args []string) error {
	fs := flag.NewFlagSet("mount", flag.ContinueOnError)
	var opt Options
	fs.StringVar(&opt.ConfigPath, "config", server.DefaultConfigPath, "path to the YAML config file")
	fs.StringVar(&opt.User, "user", "", "account whose files are mounted")
	fs.DurationVar(&opt.AttrTTL, "attr-ttl", time.Second, "how long file attributes are cached; 0 disables")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if opt.User == "" {
		return errors.New("-user is required")
	}
	if fs.NArg() != 1 {
		return errors.New("usage: s3ftp mount [-config path] [-attr-ttl d] -user name <dir>")
	}
	opt.Mountpoint = fs.Arg(0)

	cfg, err := config.Load(opt.ConfigPath)
	if err != nil {
		return err
	}
	lg, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, SetDefault: true})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	store, err := storage.Open(ctx, cfg, nil, lg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	accounts, err := daemon.LoadAccounts(ctx, store, cfg.Passwd, lg)
	if err != nil {
		fmt.Fprint(os.Stderr, daemon.Usage)
		return fmt.Errorf("%w: %v", daemon.ErrPasswdUnavailable, err)
	}
	if _, ok := accounts.Lookup(opt.User); !ok {
		return fmt.Errorf("unknown user %q", opt.User)
	}

	driver, err := gateway.New(gateway.Options{
		Store:             store,
		Accounts:          accounts,
		DeleteConcurrency: cfg.Gateway.DeleteConcurrency,
		Logger:            lg,
	})
	if err != nil {
		return err
	}

	fsys := vfs.New(ctx, driver, opt.User, vfs.WithLogger(lg))
	return fuse.Mount(ctx, opt.Mountpoint, fsys, opt.AttrTTL, lg)
}
