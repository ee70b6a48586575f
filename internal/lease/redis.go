package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "marketsync:lease:"

// releaseScript deletes the key only when it still carries our owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker takes leases with SET NX PX.
type RedisLocker struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisLocker(client redis.UniversalClient, keyPrefix string) *RedisLocker {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisLocker{client: client, keyPrefix: keyPrefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	owner := newOwner()
	ok, err := l.client.SetNX(ctx, l.keyPrefix+key, owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &redisLease{locker: l, key: key, owner: owner}, nil
}

type redisLease struct {
	locker *RedisLocker
	key    string
	owner  string
}

func (r *redisLease) Key() string   { return r.key }
func (r *redisLease) Owner() string { return r.owner }

func (r *redisLease) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, r.locker.client, []string{r.locker.keyPrefix + r.key}, r.owner).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("release lease %s: %w", r.key, err)
	}
	return nil
}

var _ Locker = (*RedisLocker)(nil)
