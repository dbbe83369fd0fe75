package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const lockKey = "pixora:reconcile:lock"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock keeps sweeps from overlapping across API instances. The grant guard rows are
// the real protection; without Redis the lock is a no-op.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLock{client: client, ttl: ttl}
}

// Acquire takes the lock and returns its release function.
func (l *RedisLock) Acquire(ctx context.Context) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		log.Warn().Err(err).Msg("Reconcile lock unavailable, continuing without it")
		return func() {}, nil
	}
	if !ok {
		return nil, ErrSweepInProgress
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err(); err != nil {
			log.Warn().Err(err).Msg("Failed to release reconcile lock")
		}
	}, nil
}
