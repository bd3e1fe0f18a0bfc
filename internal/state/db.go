// Package state keeps appimg's host side bookkeeping in a local SQLite file.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	appconfig "github.com/0xa1bed0/appimg/internal/apps/appimg/config"
	"github.com/0xa1bed0/appimg/internal/logs"
)

type Config struct {
	// Path of the sqlite file, e.g. ~/.local/state/appimg/state.db.
	Path string

	// BusyTimeout in milliseconds a writer waits on a locked database.
	// Defaults to 5000.
	BusyTimeout int

	// JournalMode defaults to WAL.
	JournalMode string
}

type DB struct {
	sql *sql.DB
}

var (
	defaultOnce sync.Once
	defaultDB   *DB
	defaultErr  error
)

// OpenDefault opens the per-user database once per process.
func OpenDefault(ctx context.Context) (*DB, error) {
	defaultOnce.Do(func() {
		path := appconfig.StateDBFile()
		logs.Debugf("opening state database at %s", path)
		defaultDB, defaultErr = Open(ctx, Config{Path: path})
	})
	return defaultDB, defaultErr
}

// Open opens or creates the database. It is closed when ctx is done.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db: Path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5000
	}
	if cfg.JournalMode == "" {
		cfg.JournalMode = "WAL"
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("db: create dir: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(%s)",
		url.PathEscape(cfg.Path),
		cfg.BusyTimeout,
		url.QueryEscape(cfg.JournalMode),
	)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	// one writer at a time keeps SQLITE_BUSY away from concurrent claims
	sqlDB.SetMaxOpenConns(1)

	go func() {
		<-ctx.Done()
		if err := sqlDB.Close(); err != nil {
			logs.Errorf("db close error: %v", err)
		}
	}()

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}

	return &DB{sql: sqlDB}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

func (d *DB) Raw() *sql.DB {
	return d.sql
}

// WithTx runs fn in a transaction, committing only if fn succeeds.
func (d *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db: commit tx: %w", err)
	}
	return nil
}
