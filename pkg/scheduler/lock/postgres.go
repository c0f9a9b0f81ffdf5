package lock

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"
)

// PostgresLock is a session level advisory lock. The session is pinned to one pooled connection
// while held, and PostgreSQL drops the lock when that session ends, so a crashed holder never
// blocks later runs.
type PostgresLock struct {
	db  *sql.DB
	key string

	mu   sync.Mutex
	conn *sql.Conn
}

func NewPostgresLock(db *sql.DB, key string) *PostgresLock {
	return &PostgresLock{db: db, key: key}
}

func (l *PostgresLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return false, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}

	var acquired bool

	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", l.key).Scan(&acquired)
	if err != nil {
		discard(conn)

		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}

	if !acquired {
		_ = conn.Close()

		return false, nil
	}

	l.conn = conn

	return true, nil
}

func (l *PostgresLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return ErrNotHeld
	}

	conn := l.conn
	l.conn = nil

	var released bool

	err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock(hashtext($1))", l.key).Scan(&released)
	if err != nil {
		// Dropping the session releases the lock.
		discard(conn)

		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}

	err = conn.Close()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}

	if !released {
		return ErrNotHeld
	}

	return nil
}

// discard closes the underlying session instead of returning it to the pool.
func discard(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = conn.Close()
}
