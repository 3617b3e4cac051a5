package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/catalogsync/internal/db"
)

const (
	sqlGet    = "SELECT value FROM kv_store WHERE key = ?"
	sqlSet    = "INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at"
	sqlRemove = "DELETE FROM kv_store WHERE key = ?"
)

// SQLiteStore is the default durable Store, backed by the kv_store table of
// the local SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// Prepared statements are created on first use and cached for reuse
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewSQLiteStore creates a Store on an opened and migrated database.
func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{db: database.DB}
}

// prepare gets or creates a prepared statement from cache.
func (s *SQLiteStore) prepare(query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// If another goroutine stored one first, use theirs and close ours
	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(key string) ([]byte, error) {
	stmt, err := s.prepare(sqlGet)
	if err != nil {
		return nil, err
	}

	var value []byte
	if err := stmt.QueryRow(key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(key string, value []byte) error {
	stmt, err := s.prepare(sqlSet)
	if err != nil {
		return err
	}

	if _, err := stmt.Exec(key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// Remove implements Store.
func (s *SQLiteStore) Remove(key string) error {
	stmt, err := s.prepare(sqlRemove)
	if err != nil {
		return err
	}

	if _, err := stmt.Exec(key); err != nil {
		return fmt.Errorf("failed to remove key %q: %w", key, err)
	}
	return nil
}

// Atomically implements AtomicStore with an immediate transaction, which takes
// the database write lock up front so other processes on the same file wait
// on the busy timeout instead of interleaving.
func (s *SQLiteStore) Atomically(keys []string, fn func(Store) error) (err error) {
	ctx := context.Background()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	if err := fn(&sqliteTx{ctx: ctx, conn: conn}); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// sqliteTx is the Store view handed to an Atomically callback.
type sqliteTx struct {
	ctx  context.Context
	conn *sql.Conn
}

func (t *sqliteTx) Get(key string) ([]byte, error) {
	var value []byte
	if err := t.conn.QueryRowContext(t.ctx, sqlGet, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, nil
}

func (t *sqliteTx) Set(key string, value []byte) error {
	if _, err := t.conn.ExecContext(t.ctx, sqlSet, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

func (t *sqliteTx) Remove(key string) error {
	if _, err := t.conn.ExecContext(t.ctx, sqlRemove, key); err != nil {
		return fmt.Errorf("failed to remove key %q: %w", key, err)
	}
	return nil
}

// Close closes all cached prepared statements. The database itself is owned
// by the caller.
func (s *SQLiteStore) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.stmtCache.Delete(key)
		return true
	})
	return firstErr
}
