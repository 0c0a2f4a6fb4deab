// Package config loads the gateway configuration.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (S3FTP_*, e.g. S3FTP_STORAGE_TYPE)
//  2. The YAML configuration file
//  3. Built-in defaults
//
// A missing configuration file is created from the defaults before it is
// read, so a first run leaves an editable file behind.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "S3FTP"

// Config is the complete gateway configuration.
type Config struct {
	// Bucket holds both the user files and the passwd file.
	Bucket string `mapstructure:"bucket" yaml:"bucket" validate:"required"`

	Passwd  PasswdConfig  `mapstructure:"passwd" yaml:"passwd"`
	Listen  ListenConfig  `mapstructure:"listen" yaml:"listen"`
	FTP     FTPConfig     `mapstructure:"ftp" yaml:"ftp"`
	SFTP    SFTPConfig    `mapstructure:"sftp" yaml:"sftp"`
	WebDAV  WebDAVConfig  `mapstructure:"webdav" yaml:"webdav"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Gateway GatewayConfig `mapstructure:"gateway" yaml:"gateway"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Process ProcessConfig `mapstructure:"process" yaml:"process"`
}

// PasswdConfig locates the account list inside the bucket.
type PasswdConfig struct {
	// Key is the object key of the passwd file.
	Key string `mapstructure:"key" yaml:"key" validate:"required"`

	// Hash is how the password column is stored.
	Hash string `mapstructure:"hash" yaml:"hash" validate:"required,oneof=plain bcrypt argon2id" jsonschema:"enum=plain,enum=bcrypt,enum=argon2id"`
}

// ListenConfig is the FTP control connection address.
type ListenConfig struct {
	IP   string `mapstructure:"ip" yaml:"ip" validate:"required,ip"`
	Port int    `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
}

// FTPConfig tunes the FTP frontend.
type FTPConfig struct {
	// PassivePorts is an inclusive "start-end" range for data connections.
	PassivePorts string `mapstructure:"passive_ports" yaml:"passive_ports"`

	// PublicHost is the address announced in PASV replies.
	PublicHost string `mapstructure:"public_host" yaml:"public_host"`

	// IdleTimeout disconnects idle clients, in seconds.
	IdleTimeout int `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"min=0"`

	// ConnectionTimeout bounds data connection setup, in seconds.
	ConnectionTimeout int `mapstructure:"connection_timeout" yaml:"connection_timeout" validate:"min=0"`

	DisableActiveMode bool   `mapstructure:"disable_active_mode" yaml:"disable_active_mode"`
	Banner            string `mapstructure:"banner" yaml:"banner"`

	TLS TLSConfig `mapstructure:"tls" yaml:"tls"`
}

// TLS modes for the FTP frontend.
const (
	TLSModeNone     = "none"
	TLSModeExplicit = "explicit"
	TLSModeRequired = "required"
	TLSModeImplicit = "implicit"
)

// TLSConfig holds certificate paths and how FTPS is offered.
type TLSConfig struct {
	CertPath string `mapstructure:"cert_path" yaml:"cert_path"`
	KeyPath  string `mapstructure:"key_path" yaml:"key_path"`
	Mode     string `mapstructure:"mode" yaml:"mode" validate:"required,oneof=none explicit required implicit" jsonschema:"enum=none,enum=explicit,enum=required,enum=implicit"`
}

// SFTPConfig enables the SFTP frontend.
type SFTPConfig struct {
	Enable bool `mapstructure:"enable" yaml:"enable"`
	Port   int  `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`

	// HostKeyPath is generated on first start when missing.
	HostKeyPath string `mapstructure:"host_key_path" yaml:"host_key_path"`
}

// WebDAVConfig enables the WebDAV frontend.
type WebDAVConfig struct {
	Enable bool   `mapstructure:"enable" yaml:"enable"`
	Port   int    `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	Prefix string `mapstructure:"prefix" yaml:"prefix" validate:"required,startswith=/"`
}

// Storage backend types.
const (
	StorageS3       = "s3"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageMongoDB  = "mongodb"
	StorageBadger   = "badger"
	StorageMemory   = "memory"
)

// StorageConfig selects the object store. Only the section matching Type is
// used.
type StorageConfig struct {
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=s3 postgres sqlite mongodb badger memory" jsonschema:"enum=s3,enum=postgres,enum=sqlite,enum=mongodb,enum=badger,enum=memory"`

	S3        S3Config        `mapstructure:"s3" yaml:"s3"`
	Postgres  PostgresConfig  `mapstructure:"postgres" yaml:"postgres"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite" yaml:"sqlite"`
	MongoDB   MongoDBConfig   `mapstructure:"mongodb" yaml:"mongodb"`
	Badger    BadgerConfig    `mapstructure:"badger" yaml:"badger"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// S3Config reaches an S3 or S3-compatible endpoint. Without keys the default
// AWS credential chain is used.
type S3Config struct {
	Region       string `mapstructure:"region" yaml:"region" validate:"required"`
	Endpoint     string `mapstructure:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	AccessKey    string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey    string `mapstructure:"secret_key" yaml:"secret_key"`
	SessionToken string `mapstructure:"session_token" yaml:"session_token"`

	// CredentialsFile holds "ACCESS_KEY:SECRET_KEY" and is read when the keys
	// above are empty.
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`

	PathStyle bool `mapstructure:"path_style" yaml:"path_style"`

	// MultipartThreshold is the upload size in bytes above which uploads are
	// split into parts.
	MultipartThreshold int64 `mapstructure:"multipart_threshold" yaml:"multipart_threshold" validate:"min=0"`
}

// PostgresConfig stores objects in a PostgreSQL table.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn" yaml:"dsn"`
	Table string `mapstructure:"table" yaml:"table"`
}

// SQLiteConfig stores objects in a SQLite file.
type SQLiteConfig struct {
	Path  string `mapstructure:"path" yaml:"path"`
	Table string `mapstructure:"table" yaml:"table"`
}

// MongoDBConfig stores objects as MongoDB documents.
type MongoDBConfig struct {
	URI        string `mapstructure:"uri" yaml:"uri"`
	Database   string `mapstructure:"database" yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// BadgerConfig stores objects in an embedded Badger database.
type BadgerConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir"`
	InMemory bool   `mapstructure:"in_memory" yaml:"in_memory"`
}

// RateLimitConfig caps storage requests per second. Zero disables the limit.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"min=0"`
	Burst             int     `mapstructure:"burst" yaml:"burst" validate:"min=0"`
}

// GatewayConfig tunes the operation mapper.
type GatewayConfig struct {
	// DeleteConcurrency caps parallel deletes during a recursive delete.
	DeleteConcurrency int `mapstructure:"delete_concurrency" yaml:"delete_concurrency" validate:"min=1,max=1000"`
}

// MetricsConfig exposes Prometheus metrics over HTTP.
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable" yaml:"enable"`
	Addr   string `mapstructure:"addr" yaml:"addr" validate:"required,hostname_port"`
	Path   string `mapstructure:"path" yaml:"path" validate:"required,startswith=/"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json" jsonschema:"enum=text,enum=json"`
}

// ProcessConfig controls the server process after its listeners are bound.
type ProcessConfig struct {
	// User and Group are switched to after binding, when running as root.
	User    string `mapstructure:"user" yaml:"user"`
	Group   string `mapstructure:"group" yaml:"group"`
	PidFile string `mapstructure:"pid_file" yaml:"pid_file"`
}

// Load reads the configuration at path, creating it from the defaults when it
// does not exist, then applies environment overrides, defaults and
// validation.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := WriteDefault(path); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	v := viper.New()
	if err := setupViper(v, path); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper seeds v with the defaults, so every key can be overridden from
// the environment, then merges the file on top.
func setupViper(v *viper.Viper, path string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return fmt.Errorf("failed to load defaults: %w", err)
	}

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// WriteDefault writes the default configuration as YAML. The file may end
// up holding storage secrets, so it is only readable by its owner.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	return nil
}
