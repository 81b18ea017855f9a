// internal/common/database/sql.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"aptitude-client/internal/common/config"

	_ "github.com/lib/pq"
	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax and column types.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLClient wraps the SQL database connection and implements KV over a single table.
type SQLClient struct {
	DB      *sql.DB
	dialect Dialect
	queries sqlQueries
}

type sqlQueries struct {
	create string
	get    string
	set    string
	delete string
}

func queriesFor(d Dialect) sqlQueries {
	switch d {
	case DialectPostgres:
		return sqlQueries{
			create: `CREATE TABLE IF NOT EXISTS test_kv (
				kv_key TEXT PRIMARY KEY,
				kv_value BYTEA NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			get: `SELECT kv_value FROM test_kv WHERE kv_key = $1`,
			set: `INSERT INTO test_kv (kv_key, kv_value, updated_at) VALUES ($1, $2, $3)
				ON CONFLICT (kv_key) DO UPDATE SET kv_value = excluded.kv_value, updated_at = excluded.updated_at`,
			delete: `DELETE FROM test_kv WHERE kv_key = $1`,
		}
	default:
		return sqlQueries{
			create: `CREATE TABLE IF NOT EXISTS test_kv (
				kv_key TEXT PRIMARY KEY,
				kv_value BLOB NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			get: `SELECT kv_value FROM test_kv WHERE kv_key = ?`,
			set: `INSERT INTO test_kv (kv_key, kv_value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT (kv_key) DO UPDATE SET kv_value = excluded.kv_value, updated_at = excluded.updated_at`,
			delete: `DELETE FROM test_kv WHERE kv_key = ?`,
		}
	}
}

// NewSQL wraps an open database. Call Migrate before first use.
func NewSQL(db *sql.DB, d Dialect) *SQLClient {
	return &SQLClient{DB: db, dialect: d, queries: queriesFor(d)}
}

// NewPostgres opens a PostgreSQL-backed store and ensures the table exists.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*SQLClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	c := NewSQL(db, DialectPostgres)
	if err := c.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// NewSQLite opens the on-device SQLite store at cfg.Path, creating parent directories.
func NewSQLite(ctx context.Context, cfg config.SQLiteConfig) (*SQLClient, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// Single writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	c := NewSQL(db, DialectSQLite)
	if err := c.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Migrate creates the key/value table if it does not exist.
func (c *SQLClient) Migrate(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, c.queries.create); err != nil {
		return fmt.Errorf("create test_kv: %w", err)
	}
	return nil
}

// Ping tests the database connection
func (c *SQLClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Close closes the database connection
func (c *SQLClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

func (c *SQLClient) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := c.DB.QueryRowContext(ctx, c.queries.get, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s get %s: %w", c.dialect, key, err)
	}
	return value, nil
}

func (c *SQLClient) Set(ctx context.Context, key string, value []byte) error {
	if _, err := c.DB.ExecContext(ctx, c.queries.set, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("%s set %s: %w", c.dialect, key, err)
	}
	return nil
}

func (c *SQLClient) Delete(ctx context.Context, key string) error {
	if _, err := c.DB.ExecContext(ctx, c.queries.delete, key); err != nil {
		return fmt.Errorf("%s delete %s: %w", c.dialect, key, err)
	}
	return nil
}
