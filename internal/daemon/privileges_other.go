//go:build !unix

package daemon

import (
	"log/slog"

	"github.com/s3ftp/s3ftp-go/internal/config"
)

func dropPrivileges(p config.ProcessConfig, lg *slog.Logger) error {
	if p.User != "" || p.Group != "" {
		lg.Warn("switching user is not supported on this platform", "user", p.User, "group", p.Group)
	}
	return nil
}
