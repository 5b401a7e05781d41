package lock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

const advisoryLockTimeout = 5 * time.Second

// PostgresDistributedLockManager holds session level advisory locks. Each held
// lock keeps its own pooled connection until released, since
// pg_advisory_unlock only succeeds on the session that took the lock.
type PostgresDistributedLockManager struct {
	db    *sql.DB
	mu    sync.Mutex
	conns map[int]*sql.Conn
}

func NewPostgresDistributedLockManager(db *sql.DB) *PostgresDistributedLockManager {
	return &PostgresDistributedLockManager{
		db:    db,
		conns: make(map[int]*sql.Conn),
	}
}

func (l *PostgresDistributedLockManager) Acquire(ctx context.Context, lockID int) error {
	ctx, cancel := context.WithTimeout(ctx, advisoryLockTimeout)
	defer cancel()

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire lock %d: %w", lockID, err)
	}
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to acquire lock %d: %w", lockID, err)
	}

	l.mu.Lock()
	l.conns[lockID] = conn
	l.mu.Unlock()
	return nil
}

func (l *PostgresDistributedLockManager) Release(ctx context.Context, lockID int) error {
	l.mu.Lock()
	conn, ok := l.conns[lockID]
	delete(l.conns, lockID)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, advisoryLockTimeout)
	defer cancel()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockID); err != nil {
		return fmt.Errorf("failed to release lock %d: %w", lockID, err)
	}
	return nil
}

// ReleaseAll drops every lock still held by this manager.
func (l *PostgresDistributedLockManager) ReleaseAll(ctx context.Context) {
	l.mu.Lock()
	ids := make([]int, 0, len(l.conns))
	for id := range l.conns {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	for _, id := range ids {
		_ = l.Release(ctx, id)
	}
}
