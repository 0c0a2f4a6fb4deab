//go:build unix

package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"strconv"
	"syscall"

	"github.com/s3ftp/s3ftp-go/internal/config"
)

// dropPrivileges switches to the configured group, then user. It only acts
// when the process runs as root; otherwise a configured account is logged
// and ignored.
func dropPrivileges(p config.ProcessConfig, lg *slog.Logger) error {
	if p.User == "" && p.Group == "" {
		return nil
	}
	if os.Geteuid() != 0 {
		lg.Warn("not running as root, keeping the current user", "user", p.User, "group", p.Group)
		return nil
	}

	if p.Group != "" {
		gid, err := lookupGroup(p.Group)
		if err != nil {
			return err
		}
		if err := syscall.Setgid(gid); err != nil {
			return fmt.Errorf("setgid %d: %w", gid, err)
		}
	}
	if p.User != "" {
		uid, err := lookupUser(p.User)
		if err != nil {
			return err
		}
		if err := syscall.Setuid(uid); err != nil {
			return fmt.Errorf("setuid %d: %w", uid, err)
		}
	}
	lg.Info("dropped privileges", "uid", os.Getuid(), "gid", os.Getgid())
	return nil
}

func lookupUser(name string) (int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, fmt.Errorf("user must be empty or a real account: %w", err)
	}
	return strconv.Atoi(u.Uid)
}

func lookupGroup(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("group must be empty or a real group: %w", err)
	}
	return strconv.Atoi(g.Gid)
}
