package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes users across several app instances sharing one store
type RedisLocker struct {
	rdb       *redis.Client
	keyPrefix string
	ttl       time.Duration
	retry     time.Duration
}

// NewRedisLocker creates a locker on top of an existing client.
// ttl bounds how long a crashed holder can block a user.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisLocker{
		rdb:       rdb,
		keyPrefix: "tradeguard:lock:",
		ttl:       ttl,
		retry:     20 * time.Millisecond,
	}
}

// NewRedisClient parses a redis:// URL
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Lock polls SET NX until it wins or ctx is done
func (l *RedisLocker) Lock(ctx context.Context, userID string) (func(), error) {
	key := l.keyPrefix + userID
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to acquire lock for %s: %w", userID, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	return func() {
		// fresh context: the caller's may already be cancelled
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// on failure the TTL reclaims the key
		_ = releaseScript.Run(relCtx, l.rdb, []string{key}, token).Err()
	}, nil
}
