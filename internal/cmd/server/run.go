// Package server implements the "s3ftp server" subcommand.
package server

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/s3ftp/s3ftp-go/internal/config"
	"github.com/s3ftp/s3ftp-go/internal/daemon"
	"github.com/s3ftp/s3ftp-go/internal/logging"
	"github.com/s3ftp/s3ftp-go/internal/version"
)

// DefaultConfigPath is used when -config is not given.
const DefaultConfigPath = "s3ftp.yaml"

type Options struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

// Run loads the configuration, creating it on first run, and serves until
// SIGINT, SIGTERM or SIGQUIT.
func Run(args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	var opt Options
	var showVersion bool
	fs.StringVar(&opt.ConfigPath, "config", DefaultConfigPath, "path to the YAML config file (written with defaults when missing)")
	fs.StringVar(&opt.LogLevel, "log-level", "", "override log.level: debug|info|warn|error")
	fs.StringVar(&opt.LogFormat, "log-format", "", "override log.format: text|json")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVersion {
		fmt.Printf("s3ftp server %s\n", version.Version)
		return nil
	}

	cfg, err := config.Load(opt.ConfigPath)
	if err != nil {
		return err
	}
	// CLI overrides config.
	if s := strings.TrimSpace(opt.LogLevel); s != "" {
		cfg.Log.Level = s
	}
	if s := strings.TrimSpace(opt.LogFormat); s != "" {
		cfg.Log.Format = s
	}
	lg, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, SetDefault: true})
	if err != nil {
		return err
	}
	lg.Info("starting s3ftp", "version", version.Version, "config", opt.ConfigPath, "bucket", cfg.Bucket, "storage", cfg.Storage.Type)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	return daemon.Run(ctx, daemon.Options{Config: cfg, Logger: lg})
}
