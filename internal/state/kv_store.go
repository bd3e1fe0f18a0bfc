package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type KVStoreKey string

type Entry struct {
	Key       KVStoreKey
	Value     string
	CreatedAt time.Time
	LastUsed  time.Time
}

type KVStore struct {
	db *DB
}

// NewKVStore wraps database and creates the table if needed.
func NewKVStore(ctx context.Context, database *DB) (*KVStore, error) {
	if database == nil {
		return nil, errors.New("kv_store: database is nil")
	}
	s := &KVStore{db: database}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func DefaultKVStore(ctx context.Context) (*KVStore, error) {
	db, err := OpenDefault(ctx)
	if err != nil {
		return nil, err
	}
	return NewKVStore(ctx, db)
}

func (s *KVStore) ensureSchema(ctx context.Context) error {
	const createTable = `
CREATE TABLE IF NOT EXISTS kv_store (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	last_used  INTEGER NOT NULL
);
`
	if _, err := s.db.Raw().ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("kv_store: ensure schema: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var created, used int64
	if err := row.Scan(&e.Key, &e.Value, &created, &used); err != nil {
		return Entry{}, err
	}
	e.CreatedAt = time.Unix(created, 0).UTC()
	e.LastUsed = time.Unix(used, 0).UTC()
	return e, nil
}

// Get returns the entry for key and marks it used.
func (s *KVStore) Get(ctx context.Context, key KVStoreKey) (Entry, bool, error) {
	const q = `SELECT key, value, created_at, last_used FROM kv_store WHERE key = ?`

	e, err := scanEntry(s.db.Raw().QueryRowContext(ctx, q, key))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("kv_store: get: %w", err)
	}
	_ = s.Touch(ctx, key)
	return e, true, nil
}

// List returns the entries whose key starts with prefix, most recently
// used first.
func (s *KVStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	const q = `
SELECT key, value, created_at, last_used
FROM kv_store
WHERE substr(key, 1, length(?)) = ?
ORDER BY last_used DESC, key ASC
`
	rows, err := s.db.Raw().QueryContext(ctx, q, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("kv_store: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("kv_store: list: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kv_store: list: %w", err)
	}
	return out, nil
}

func (s *KVStore) Upsert(ctx context.Context, key KVStoreKey, value string) error {
	const stmt = `
INSERT INTO kv_store (key, value, created_at, last_used)
VALUES (?, ?, strftime('%s','now'), strftime('%s','now'))
ON CONFLICT(key) DO UPDATE SET
	value = excluded.value,
	last_used = strftime('%s','now');
`
	if _, err := s.db.Raw().ExecContext(ctx, stmt, key, value); err != nil {
		return fmt.Errorf("kv_store: upsert: %w", err)
	}
	return nil
}

// CompareAndSwap sets key to next only while its value is still prev. An
// empty prev means the key must be absent. It reports whether it wrote.
func (s *KVStore) CompareAndSwap(ctx context.Context, key KVStoreKey, prev, next string) (bool, error) {
	swapped := false
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			current = ""
		case err != nil:
			return err
		}
		if current != prev {
			return nil
		}

		const upsert = `
INSERT INTO kv_store (key, value, created_at, last_used)
VALUES (?, ?, strftime('%s','now'), strftime('%s','now'))
ON CONFLICT(key) DO UPDATE SET
	value = excluded.value,
	last_used = strftime('%s','now');
`
		if _, err := tx.ExecContext(ctx, upsert, key, next); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("kv_store: compare and swap: %w", err)
	}
	return swapped, nil
}

func (s *KVStore) Touch(ctx context.Context, key KVStoreKey) error {
	const stmt = `UPDATE kv_store SET last_used = strftime('%s','now') WHERE key = ?`
	if _, err := s.db.Raw().ExecContext(ctx, stmt, key); err != nil {
		return fmt.Errorf("kv_store: touch: %w", err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key KVStoreKey) error {
	const stmt = `DELETE FROM kv_store WHERE key = ?`
	if _, err := s.db.Raw().ExecContext(ctx, stmt, key); err != nil {
		return fmt.Errorf("kv_store: delete: %w", err)
	}
	return nil
}

// DeleteIfValue deletes key only while it still holds value.
func (s *KVStore) DeleteIfValue(ctx context.Context, key KVStoreKey, value string) (bool, error) {
	const stmt = `DELETE FROM kv_store WHERE key = ? AND value = ?`
	res, err := s.db.Raw().ExecContext(ctx, stmt, key, value)
	if err != nil {
		return false, fmt.Errorf("kv_store: delete if value: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteUnusedBefore deletes the entries under prefix not used since cutoff.
func (s *KVStore) DeleteUnusedBefore(ctx context.Context, prefix string, cutoff time.Time) (int64, error) {
	const stmt = `DELETE FROM kv_store WHERE substr(key, 1, length(?)) = ? AND last_used < ?`
	res, err := s.db.Raw().ExecContext(ctx, stmt, prefix, prefix, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("kv_store: delete unused: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
