// Package distlock keeps two sync processes from writing to the same list at
// once. Redis is preferred; a PostgreSQL advisory lock is the fallback.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/contact-sync/internal/pkg/logger"
)

var (
	// ErrHeld is returned by Hold when another process owns the lock.
	ErrHeld = errors.New("lock held by another process")
	// ErrLost means the lock expired or was taken over while we held it.
	ErrLost = errors.New("lock no longer owned")
	// ErrNoBackend means neither Redis nor PostgreSQL was configured.
	ErrNoBackend = errors.New("no lock backend configured")
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Extender is implemented by locks that expire unless refreshed.
type Extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// RunKey is the lock key for syncing into the named list.
func RunKey(listName string) string {
	name := strings.ToLower(strings.TrimSpace(listName))
	if name == "" {
		name = "_default"
	}
	return "contact-sync:list:" + name
}

// NewLock creates a distributed lock using the best available backend.
// If redisClient is non-nil, uses Redis (preferred for cross-host locking).
// Otherwise falls back to PostgreSQL advisory locks.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) (DistLock, error) {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl), nil
	}
	if db != nil {
		return NewPGAdvisoryLock(db, key), nil
	}
	return nil, ErrNoBackend
}

// Hold acquires lock and, for expiring locks, refreshes it every ttl/3 until
// the returned release function is called. If a refresh fails the lost
// channel receives the error and the caller should stop.
func Hold(ctx context.Context, lock DistLock, ttl time.Duration, log *logger.Logger) (release func(), lost <-chan error, err error) {
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrHeld
	}
	if log == nil {
		log = logger.Default()
	}

	lostCh := make(chan error, 1)
	stop := make(chan struct{})
	done := make(chan struct{})

	ext, canExtend := lock.(Extender)
	go func() {
		defer close(done)
		if !canExtend || ttl <= 0 {
			<-stop
			return
		}
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := ext.Extend(context.Background(), ttl); err != nil {
					log.Error("run lock refresh failed", "error", err)
					lostCh <- err
					return
				}
			}
		}
	}()

	release = func() {
		close(stop)
		<-done
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			log.Warn("run lock release failed", "error", err)
		}
	}
	return release, lostCh, nil
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// pg_try_advisory_lock is session-scoped, so the lock pins one connection from
// the pool and unlocks on that same connection. The lock goes away with the
// connection if the process dies.

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	conn   *sql.Conn
	lockID int64
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock. Returns true if successful.
// Uses pg_try_advisory_lock which returns immediately (non-blocking).
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get connection for advisory lock: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release releases the advisory lock and returns its connection to the pool.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
