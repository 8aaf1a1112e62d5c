package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// unlockScript deletes the key only while it still holds our owner id, so a
// lease that expired and was taken by another process is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// JobLock is a per-job lease in Redis. It lets several scheduler processes
// share one deployment without running the same workflow twice.
type JobLock struct {
	client *Client
	owner  string
	logger *zap.Logger
}

func NewJobLock(client *Client, logger *zap.Logger) *JobLock {
	return &JobLock{
		client: client,
		owner:  uuid.NewString(),
		logger: logger,
	}
}

func (l *JobLock) key(name string) string {
	return l.client.key("joblock", name)
}

// TryLock takes the lease for name if nobody holds it. Returns false when held.
func (l *JobLock) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.rdb.SetNX(ctx, l.key(name), l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		l.logger.Info("job lock held elsewhere", zap.String("job", name))
	}
	return ok, nil
}

// Unlock releases the lease if this process still owns it.
func (l *JobLock) Unlock(ctx context.Context, name string) error {
	n, err := unlockScript.Run(ctx, l.client.rdb, []string{l.key(name)}, l.owner).Int()
	if err != nil {
		return fmt.Errorf("redis unlock failed: %w", err)
	}
	if n == 0 {
		l.logger.Warn("job lock was no longer owned at release", zap.String("job", name))
	}
	return nil
}
