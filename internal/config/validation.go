package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags and the rules that span fields.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	switch cfg.Storage.Type {
	case StoragePostgres:
		if cfg.Storage.Postgres.DSN == "" {
			return errors.New("storage.postgres.dsn is required")
		}
	case StorageSQLite:
		if cfg.Storage.SQLite.Path == "" {
			return errors.New("storage.sqlite.path is required")
		}
	case StorageMongoDB:
		if cfg.Storage.MongoDB.URI == "" {
			return errors.New("storage.mongodb.uri is required")
		}
	case StorageBadger:
		if cfg.Storage.Badger.Dir == "" && !cfg.Storage.Badger.InMemory {
			return errors.New("storage.badger.dir is required unless in_memory is set")
		}
	}

	if (cfg.Storage.S3.AccessKey == "") != (cfg.Storage.S3.SecretKey == "") {
		return errors.New("storage.s3.access_key and storage.s3.secret_key must be set together")
	}

	tls := cfg.FTP.TLS
	if (tls.CertPath == "") != (tls.KeyPath == "") {
		return errors.New("ftp.tls.cert_path and ftp.tls.key_path must be set together")
	}
	if tls.Mode != TLSModeNone && tls.CertPath == "" {
		return fmt.Errorf("ftp.tls.mode %q needs ftp.tls.cert_path and ftp.tls.key_path", tls.Mode)
	}

	if _, _, err := ParsePortRange(cfg.FTP.PassivePorts); err != nil {
		return fmt.Errorf("ftp.passive_ports: %w", err)
	}
	return nil
}

// ParsePortRange parses an inclusive "start-end" port range.
func ParsePortRange(s string) (int, int, error) {
	lo, hi, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid port range %q", s)
	}
	start, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port range %q: %w", s, err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port range %q: %w", s, err)
	}
	if start < 1 || end > 65535 || start > end {
		return 0, 0, fmt.Errorf("invalid port range %q", s)
	}
	return start, end, nil
}

// formatValidationError reports the first failing field.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
