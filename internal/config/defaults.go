package config

import "strings"

// Default returns the configuration written for a first run.
func Default() *Config {
	cfg := &Config{
		Bucket: "my-bucket",
		Storage: StorageConfig{
			Type: StorageS3,
			S3: S3Config{
				Region: "us-east-1",
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values. Explicit values are kept.
func ApplyDefaults(cfg *Config) {
	applyPasswdDefaults(&cfg.Passwd)
	applyListenDefaults(&cfg.Listen)
	applyFTPDefaults(&cfg.FTP)
	applySFTPDefaults(&cfg.SFTP)
	applyWebDAVDefaults(&cfg.WebDAV)
	applyStorageDefaults(&cfg.Storage)

	if cfg.Gateway.DeleteConcurrency == 0 {
		cfg.Gateway.DeleteConcurrency = 5
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "127.0.0.1:9464"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func applyPasswdDefaults(cfg *PasswdConfig) {
	if cfg.Key == "" {
		cfg.Key = "passwd"
	}
	if cfg.Hash == "" {
		cfg.Hash = "plain"
	}
}

func applyListenDefaults(cfg *ListenConfig) {
	if cfg.IP == "" {
		cfg.IP = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 21
	}
}

func applyFTPDefaults(cfg *FTPConfig) {
	if cfg.PassivePorts == "" {
		cfg.PassivePorts = "50000-50100"
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 900
	}
	if cfg.ConnectionTimeout == 0 {
		cfg.ConnectionTimeout = 30
	}
	if cfg.Banner == "" {
		cfg.Banner = "s3ftp ready"
	}
	if cfg.TLS.Mode == "" {
		cfg.TLS.Mode = TLSModeNone
	}
}

func applySFTPDefaults(cfg *SFTPConfig) {
	if cfg.Port == 0 {
		cfg.Port = 2022
	}
	if cfg.HostKeyPath == "" {
		cfg.HostKeyPath = "ssh_host_ed25519_key"
	}
}

func applyWebDAVDefaults(cfg *WebDAVConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/"
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = StorageS3
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	if cfg.Postgres.Table == "" {
		cfg.Postgres.Table = "objects"
	}
	if cfg.SQLite.Table == "" {
		cfg.SQLite.Table = "objects"
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "s3ftp.db"
	}
	if cfg.MongoDB.Database == "" {
		cfg.MongoDB.Database = "s3ftp"
	}
	if cfg.MongoDB.Collection == "" {
		cfg.MongoDB.Collection = "objects"
	}
	if cfg.Badger.Dir == "" {
		cfg.Badger.Dir = "s3ftp-data"
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = int(cfg.RateLimit.RequestsPerSecond)
		if cfg.RateLimit.Burst < 1 {
			cfg.RateLimit.Burst = 1
		}
	}
}
