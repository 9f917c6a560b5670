// Package cache persists facts that never change for a given key, such as
// the version a contract reports at an address. Values survive restarts and
// are shared between concurrent processes; writes are serialized by a file
// lock.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

type Fact struct {
	Value      []byte
	ObservedAt time.Time
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	queries := []string{
		"PRAGMA busy_timeout=5000;",
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"CREATE TABLE IF NOT EXISTS facts (namespace TEXT NOT NULL, key TEXT NOT NULL, value BLOB NOT NULL, observed_at INTEGER NOT NULL, PRIMARY KEY (namespace, key));",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup returns the fact stored under namespace/key, if any.
func (s *Store) Lookup(namespace, key string) (Fact, bool, error) {
	var value []byte
	var observedUnix int64
	err := s.db.QueryRow("SELECT value, observed_at FROM facts WHERE namespace = ? AND key = ?", namespace, key).Scan(&value, &observedUnix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Fact{}, false, nil
		}
		return Fact{}, false, fmt.Errorf("cache read: %w", err)
	}
	return Fact{Value: value, ObservedAt: time.Unix(observedUnix, 0).UTC()}, true, nil
}

// Remember stores value under namespace/key, replacing any earlier value.
func (s *Store) Remember(namespace, key string, value []byte) error {
	return s.withLock(func() error {
		_, err := s.db.Exec(`
			INSERT INTO facts (namespace, key, value, observed_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(namespace, key) DO UPDATE SET
				value=excluded.value,
				observed_at=excluded.observed_at
		`, namespace, key, value, time.Now().UTC().Unix())
		if err != nil {
			return fmt.Errorf("cache write: %w", err)
		}
		return nil
	})
}

func (s *Store) Forget(namespace, key string) error {
	return s.withLock(func() error {
		if _, err := s.db.Exec("DELETE FROM facts WHERE namespace = ? AND key = ?", namespace, key); err != nil {
			return fmt.Errorf("cache delete: %w", err)
		}
		return nil
	})
}

// Prune deletes facts observed more than maxAge ago. A non-positive maxAge
// keeps everything.
func (s *Store) Prune(maxAge time.Duration) error {
	if s == nil || s.db == nil || maxAge <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-maxAge).Unix()
	return s.withLock(func() error {
		if _, err := s.db.Exec("DELETE FROM facts WHERE observed_at < ?", cutoff); err != nil {
			return fmt.Errorf("prune cache: %w", err)
		}
		return nil
	})
}

func (s *Store) withLock(fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}
