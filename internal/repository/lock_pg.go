package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Domenick1991/venuebooking/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const (
	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock(hashtextextended($1, 0))`

	lockQueryTimeout = 5 * time.Second
	lockPollMin      = 5 * time.Millisecond
	lockPollMax      = 100 * time.Millisecond
)

// AdvisoryLocker holds lock keys as Postgres session advisory locks, so
// every process sharing the database serializes on the same keys. All keys
// of one process live on a single session taken out of the pool; the
// process-local registry in front of it admits one holder per key.
type AdvisoryLocker struct {
	db     *pgxpool.Pool
	logger *logrus.Logger

	mu   sync.Mutex
	conn *pgx.Conn
	held int
}

func NewAdvisoryLocker(db *pgxpool.Pool, logger *logrus.Logger) *AdvisoryLocker {
	return &AdvisoryLocker{db: db, logger: logger}
}

// Lock polls until key is free in every process or ctx is done.
func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	wait := lockPollMin
	for {
		ok, err := l.try(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			var once sync.Once
			return func() { once.Do(func() { l.unlock(key) }) }, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		wait = min(2*wait, lockPollMax)
	}
}

func (l *AdvisoryLocker) try(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	conn, err := l.session(ctx)
	if err != nil {
		return false, err
	}
	// A cancelled query may close the session and with it every held key.
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockQueryTimeout)
	defer cancel()

	var ok bool
	if err := conn.QueryRow(qctx, tryAdvisoryLockSQL, key).Scan(&ok); err != nil {
		return false, err
	}
	if ok {
		l.held++
	}
	return ok, nil
}

func (l *AdvisoryLocker) unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.held--
	if l.conn == nil || l.conn.IsClosed() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), lockQueryTimeout)
	defer cancel()
	if _, err := l.conn.Exec(ctx, advisoryUnlockSQL, key); err != nil {
		l.logger.WithError(err).WithField("key", key).Warn("advisory unlock failed, dropping lock session")
		_ = l.conn.Close(ctx)
	}
}

// session returns the connection holding this process's keys, opening a
// new one if the previous session is gone.
func (l *AdvisoryLocker) session(ctx context.Context) (*pgx.Conn, error) {
	if l.conn != nil && !l.conn.IsClosed() {
		return l.conn, nil
	}
	if l.conn != nil && l.held > 0 {
		metrics.TrackFatal("LockSessionLost")
		l.logger.WithFields(logrus.Fields{"held": l.held, "fatal": true}).
			Error("advisory lock session closed while keys were held")
	}
	pooled, err := l.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock session: %w", err)
	}
	l.conn = pooled.Hijack()
	return l.conn, nil
}

// Close ends the lock session, releasing whatever it still holds.
func (l *AdvisoryLocker) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), lockQueryTimeout)
	defer cancel()
	err := l.conn.Close(ctx)
	l.conn = nil
	return err
}
