// Package sqlstore keeps objects in a SQL table. PostgreSQL and SQLite are
// supported through the same schema.
package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/s3ftp/s3ftp-go/internal/listing"
	"github.com/s3ftp/s3ftp-go/internal/storage/types"
)

// Dialect selects the SQL driver and placeholder syntax.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store implements types.ObjectStore on a SQL table
type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string // Table name for storing objects
	bucket  string // "Bucket" name (namespace)
}

// Open connects to the database and creates the table if needed
func Open(ctx context.Context, dialect Dialect, dsn, table, bucket string) (*Store, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if dialect != Postgres && dialect != SQLite {
		return nil, fmt.Errorf("unknown SQL dialect %q", dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// One writer at a time avoids SQLITE_BUSY under concurrent deletes.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, dialect: dialect, table: table, bucket: bucket}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the necessary tables
func (s *Store) initSchema(ctx context.Context) error {
	blob := "BYTEA"
	if s.dialect == SQLite {
		blob = "BLOB"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			bucket VARCHAR(255) NOT NULL,
			object_key VARCHAR(4096) NOT NULL,
			data %s,
			size BIGINT NOT NULL DEFAULT 0,
			mtime BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (bucket, object_key)
		)`, s.table, blob),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// q rewrites ? placeholders for the dialect and fills in the table name
func (s *Store) q(query string) string {
	query = strings.ReplaceAll(query, "{table}", s.table)
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get reads object data
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.q("SELECT data FROM {table} WHERE bucket = ? AND object_key = ?"), s.bucket, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Put writes object data
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	return s.upsert(ctx, s.db, key, data)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) upsert(ctx context.Context, db execer, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	query := s.q(`
		INSERT INTO {table} (bucket, object_key, data, size, mtime)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (bucket, object_key)
		DO UPDATE SET
			data = EXCLUDED.data,
			size = EXCLUDED.size,
			mtime = EXCLUDED.mtime`)
	_, err := db.ExecContext(ctx, query, s.bucket, key, data, len(data), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// Head gets object metadata
func (s *Store) Head(ctx context.Context, key string) (types.ObjectInfo, error) {
	var size, mtime int64
	err := s.db.QueryRowContext(ctx, s.q("SELECT size, mtime FROM {table} WHERE bucket = ? AND object_key = ?"), s.bucket, key).Scan(&size, &mtime)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ObjectInfo{}, fmt.Errorf("head %s: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return types.ObjectInfo{}, fmt.Errorf("failed to get attributes: %w", err)
	}
	return types.ObjectInfo{Key: key, Size: size, ModTime: time.Unix(0, mtime)}, nil
}

// Delete deletes an object
func (s *Store) Delete(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, s.q("DELETE FROM {table} WHERE bucket = ? AND object_key = ?"), s.bucket, key)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("delete %s: %w", key, types.ErrNotFound)
	}
	return nil
}

// Copy duplicates an object inside one transaction
func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin copy: %w", err)
	}
	defer tx.Rollback()

	var data []byte
	err = tx.QueryRowContext(ctx, s.q("SELECT data FROM {table} WHERE bucket = ? AND object_key = ?"), s.bucket, srcKey).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("copy %s: %w", srcKey, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read copy source: %w", err)
	}
	if err := s.upsert(ctx, tx, dstKey, data); err != nil {
		return err
	}
	return tx.Commit()
}

// List lists objects under prefix
func (s *Store) List(ctx context.Context, prefix, delimiter string) (*listing.Result, error) {
	query := s.q(`SELECT object_key, size FROM {table} WHERE bucket = ? AND object_key LIKE ? ESCAPE '\' ORDER BY object_key`)
	rows, err := s.db.QueryContext(ctx, query, s.bucket, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer rows.Close()

	var objects []listing.Object
	for rows.Next() {
		var obj listing.Object
		if err := rows.Scan(&obj.Key, &obj.Size); err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return listing.Build(prefix, delimiter, objects), nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

var _ types.ObjectStore = (*Store)(nil)
