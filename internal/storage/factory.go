package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/s3ftp/s3ftp-go/internal/config"
	"github.com/s3ftp/s3ftp-go/internal/credentials"
	"github.com/s3ftp/s3ftp-go/internal/metrics"
	"github.com/s3ftp/s3ftp-go/internal/s3client"
	"github.com/s3ftp/s3ftp-go/internal/storage/badgerstore"
	"github.com/s3ftp/s3ftp-go/internal/storage/memory"
	"github.com/s3ftp/s3ftp-go/internal/storage/mongodb"
	"github.com/s3ftp/s3ftp-go/internal/storage/sqlstore"
)

// Open creates the backend selected by cfg.Storage.Type for cfg.Bucket and
// wraps it with the configured rate limit and m's request metrics.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Collector, logger *slog.Logger) (ObjectStore, error) {
	store, err := NewBackend(ctx, cfg.Bucket, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	store = WithObserver(store, m)
	rl := cfg.Storage.RateLimit
	return WithRateLimit(store, rl.RequestsPerSecond, rl.Burst), nil
}

// NewBackend creates a bare backend. Database backends namespace their rows
// by bucket so several gateways can share one database.
func NewBackend(ctx context.Context, bucket string, cfg config.StorageConfig, logger *slog.Logger) (ObjectStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("backend", cfg.Type)

	switch cfg.Type {
	case config.StorageS3:
		keys, err := s3Keys(cfg.S3)
		if err != nil {
			return nil, err
		}
		if !keys.Valid() {
			logger.Info("no static keys configured, using the default AWS credential chain")
		}
		return s3client.NewClient(ctx, s3client.Options{
			Bucket:             bucket,
			Region:             cfg.S3.Region,
			Endpoint:           cfg.S3.Endpoint,
			PathStyle:          cfg.S3.PathStyle,
			Keys:               keys,
			MultipartThreshold: cfg.S3.MultipartThreshold,
		})

	case config.StoragePostgres:
		if cfg.Postgres.DSN == "" {
			return nil, fmt.Errorf("PostgreSQL connection string is required")
		}
		return sqlstore.Open(ctx, sqlstore.Postgres, cfg.Postgres.DSN, cfg.Postgres.Table, bucket)

	case config.StorageSQLite:
		if cfg.SQLite.Path == "" {
			return nil, fmt.Errorf("SQLite path is required")
		}
		return sqlstore.Open(ctx, sqlstore.SQLite, cfg.SQLite.Path, cfg.SQLite.Table, bucket)

	case config.StorageMongoDB:
		if cfg.MongoDB.URI == "" {
			return nil, fmt.Errorf("MongoDB URI is required")
		}
		return mongodb.Open(ctx, cfg.MongoDB.URI, cfg.MongoDB.Database, cfg.MongoDB.Collection, bucket)

	case config.StorageBadger:
		if cfg.Badger.InMemory {
			logger.Warn("badger runs in memory, objects are lost on exit")
		}
		return badgerstore.Open(cfg.Badger.Dir, bucket, cfg.Badger.InMemory)

	case config.StorageMemory:
		logger.Warn("memory backend selected, objects are lost on exit")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// s3Keys resolves static keys: configured values, then the credentials file,
// then the AWS_* environment. Empty keys leave the choice to the AWS default
// chain.
func s3Keys(cfg config.S3Config) (credentials.Keys, error) {
	return credentials.ResolveKeys(credentials.Keys{
		AccessKeyID:     cfg.AccessKey,
		SecretAccessKey: cfg.SecretKey,
		SessionToken:    cfg.SessionToken,
	}, cfg.CredentialsFile)
}
