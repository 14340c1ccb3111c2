// Package db provides the embedded storage layer for swarmstore.
//
// It owns the on-disk tables, indices, and raw read/write primitives.
// DuckDB is the backing database: query patterns here are relational
// (filter + range + aggregate), and a single database file keeps
// backup/restore down to copying one file.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	apperrors "github.com/veyrok/swarmstore/internal/errors"
	"github.com/veyrok/swarmstore/internal/storage/config"
)

// DB provides the storage primitives over a pooled DuckDB handle.
//
// DB is safe for concurrent use. Readers share the pool; batch writes,
// compaction transactions and vacuum serialize on a maintenance mutex so
// they never contend with each other, while reads proceed unblocked.
type DB struct {
	db  *sql.DB
	cfg config.StoreConfig

	// maintMu serializes flush writes, compaction transactions and
	// vacuum against one another.
	maintMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if necessary) the database and initializes the
// schema. An empty path opens an in-memory database, used by tests.
func Open(cfg config.StoreConfig) (*DB, error) {
	sqlDB, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	d := &DB{db: sqlDB, cfg: cfg}
	if err := d.initSchema(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return d, nil
}

// Close closes the database. Safe to call more than once.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	return d.db.Close()
}

// isClosed reports whether Close has been called.
func (d *DB) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// opCtx bounds ctx with the configured query timeout unless the caller
// already set a deadline.
func (d *DB) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.cfg.QueryTimeout)
}

// mapErr translates driver and context errors into the error taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
	}
	return err
}

// Transaction executes fn within a database transaction.
//
// If fn returns an error, the transaction is rolled back. A panic inside
// fn rolls back before re-panicking.
func (d *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if d.isClosed() {
		return apperrors.ErrClosed
	}

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapErr(err))
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return mapErr(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapErr(err))
	}

	return nil
}

// MaintenanceTransaction is Transaction under the maintenance mutex.
// Flush, compaction and vacuum go through here so they are mutually
// exclusive; reads never take this lock.
func (d *DB) MaintenanceTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	d.maintMu.Lock()
	defer d.maintMu.Unlock()
	return d.Transaction(ctx, fn)
}

// Vacuum reclaims space after deletes. It is safe to run concurrently
// with reads and excludes itself (and flush/compaction) via the
// maintenance mutex.
func (d *DB) Vacuum(ctx context.Context) error {
	if d.isClosed() {
		return apperrors.ErrClosed
	}

	d.maintMu.Lock()
	defer d.maintMu.Unlock()

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	if _, err := d.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return apperrors.Wrap(mapErr(err), "vacuum")
	}
	return nil
}

// Health checks database connectivity.
func (d *DB) Health(ctx context.Context) error {
	if d.isClosed() {
		return apperrors.ErrClosed
	}
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	return mapErr(d.db.PingContext(ctx))
}
