package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// LeaseLock is a row-per-job lock in job_locks. A lease that has expired can
// be taken over, so a crashed run never blocks the next one for longer than
// its TTL.
type LeaseLock struct {
	repo  *Repository
	owner string
}

// NewLeaseLock returns a lock handle with a fresh owner id.
func (r *Repository) NewLeaseLock() *LeaseLock {
	return &LeaseLock{repo: r, owner: uuid.NewString()}
}

// TryLock takes the named lease for ttl. It returns false when another owner
// holds an unexpired lease.
func (l *LeaseLock) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO job_locks (name, owner, acquired_at, expires_at)
		VALUES ($1, $2, NOW(), NOW() + make_interval(secs => $3))
		ON CONFLICT (name) DO UPDATE
		SET owner = EXCLUDED.owner,
		    acquired_at = EXCLUDED.acquired_at,
		    expires_at = EXCLUDED.expires_at
		WHERE job_locks.expires_at < NOW() OR job_locks.owner = EXCLUDED.owner
		RETURNING owner
	`

	var owner string
	err := l.repo.db.Pool().QueryRow(ctx, query, name, l.owner, ttl.Seconds()).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		l.repo.logger.Error("failed to acquire job lock",
			zap.Error(err),
			zap.String("lock", name),
		)
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return true, nil
}

// Unlock releases the lease if this handle still owns it
func (l *LeaseLock) Unlock(ctx context.Context, name string) error {
	_, err := l.repo.db.Pool().Exec(ctx,
		"DELETE FROM job_locks WHERE name = $1 AND owner = $2", name, l.owner)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}
