// Package storage is the query-execution collaborator of the loading engine.
// It wraps a database/sql connection (sqlite through modernc.org/sqlite or
// postgres through pgx) behind sqlx, rebinds placeholders per dialect, lists
// table columns, registers the spatial predicates sqlite lacks, and imports
// JSONL files into physical tables.
package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-faster/errors"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/canopy/pkg/types"
)

// DatabaseFile is the sqlite file created inside DataDir.
const DatabaseFile = "canopy.db"

// Backend owns one database handle. It is safe for concurrent use, though the
// engine drives it from a single goroutine.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sqlx.DB
	dialect  Dialect
	log      *logrus.Entry
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the entry used for query tracing and lifecycle events.
func WithLogger(log *logrus.Entry) Option {
	return func(b *Backend) {
		if log != nil {
			b.log = log
		}
	}
}

// NewBackend creates a detached backend. Call Attach to connect.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{log: logrus.NewEntry(logrus.StandardLogger())}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.WithField("component", "storage")
	return b
}

// Open wraps an existing connection and marks the backend attached. The
// schema is not touched; call EnsureSchema when needed.
func Open(db *sql.DB, dialect Dialect, opts ...Option) *Backend {
	b := NewBackend(opts...)
	if dialect == DialectSQLite {
		registerSpatialFunctions()
		if spatialErr != nil {
			b.log.WithError(spatialErr).Warn("spatial functions unavailable")
		}
	}
	b.db = sqlx.NewDb(db, dialect.DriverName())
	b.dialect = dialect
	b.config = types.Config{Backend: string(dialect)}
	b.attached = true
	return b
}

// Attach connects to the backend described by config and creates the
// registry schema if it is missing. Existing data is kept.
func (b *Backend) Attach(ctx context.Context, config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dialect := Dialect(config.Backend)
	var dsn string
	switch dialect {
	case DialectPostgres:
		dsn = config.DSN
	default:
		dataDir := config.DataDir
		if dataDir == "" {
			dataDir = "."
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return errors.Wrap(err, "create data dir")
		}
		registerSpatialFunctions()
		if spatialErr != nil {
			return errors.Wrap(spatialErr, "register spatial functions")
		}
		dsn = "file:" + filepath.Join(dataDir, DatabaseFile) + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sqlx.Open(dialect.DriverName(), dsn)
	if err != nil {
		return errors.Wrapf(err, "open %s", config.Backend)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.Wrapf(err, "ping %s", config.Backend)
	}

	b.db = db
	b.dialect = dialect
	b.config = config
	b.attached = true

	if err := b.ensureSchemaLocked(ctx); err != nil {
		_ = db.Close()
		b.db = nil
		b.attached = false
		return err
	}

	b.log.WithFields(logrus.Fields{
		"backend":  config.Backend,
		"data_dir": config.DataDir,
	}).Debug("backend attached")
	return nil
}

// Detach closes the connection. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return errors.Wrap(err, "close database")
		}
		b.db = nil
	}
	b.attached = false
	return nil
}

// EnsureSchema creates the registry table and indexes when absent.
func (b *Backend) EnsureSchema(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return types.ErrBackendDetached
	}
	return b.ensureSchemaLocked(ctx)
}

func (b *Backend) ensureSchemaLocked(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return &types.QueryError{Op: "create schema", Table: types.RegistryTable, Err: err}
		}
	}
	return nil
}

// Config returns the configuration the backend was attached with.
func (b *Backend) Config() types.Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

// Dialect returns the SQL dialect of the attached database.
func (b *Backend) Dialect() Dialect {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dialect
}

// Query runs a read statement and collects every row.
func (b *Backend) Query(ctx context.Context, query string, args ...any) (*types.RowSet, error) {
	c, err := b.conn()
	if err != nil {
		return nil, err
	}
	return c.Query(ctx, query, args...)
}

// Exec runs a write statement and returns the number of affected rows.
func (b *Backend) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	c, err := b.conn()
	if err != nil {
		return 0, err
	}
	return c.Exec(ctx, query, args...)
}

// Columns lists the columns of table in declaration order. An unknown table
// yields an empty slice.
func (b *Backend) Columns(ctx context.Context, table string) ([]string, error) {
	c, err := b.conn()
	if err != nil {
		return nil, err
	}
	return c.Columns(ctx, table)
}

// WithTx runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (b *Backend) WithTx(ctx context.Context, fn func(q Querier) error) (retErr error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return types.ErrBackendDetached
	}

	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return &types.QueryError{Op: "begin", Err: err}
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if err := fn(conn{ext: tx, dialect: b.dialect, log: b.log}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &types.QueryError{Op: "commit", Err: err}
	}
	return nil
}

// DB exposes the underlying handle for tests and bulk tooling.
func (b *Backend) DB() *sqlx.DB {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.db
}

func (b *Backend) conn() (conn, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return conn{}, types.ErrBackendDetached
	}
	return conn{ext: b.db, dialect: b.dialect, log: b.log}, nil
}
