package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ami:lock:"

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// refreshScript extends the key's TTL only while it still holds our token.
const refreshScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis is a cross-process Locker built on SET NX PX. The TTL bounds how
// long a crashed holder can block others; a live holder renews it every
// third of the TTL until it unlocks.
type Redis struct {
	client  redisClient
	ttl     time.Duration
	poll    time.Duration
	refresh time.Duration
	logger  *slog.Logger
}

// NewRedis creates a Locker on client. ttl <= 0 defaults to two minutes.
func NewRedis(client redisClient, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	refresh := ttl / 3
	if refresh <= 0 {
		refresh = ttl
	}
	return &Redis{client: client, ttl: ttl, poll: 100 * time.Millisecond, refresh: refresh, logger: logger}
}

// Dial connects to Redis at addr and returns a Locker and the client.
func Dial(ctx context.Context, addr, password string, ttl time.Duration, logger *slog.Logger) (*Redis, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("lock: ping redis %s: %w", addr, err)
	}
	return NewRedis(rdb, ttl, logger), rdb, nil
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := keyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(k, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// Release even if the caller's context is already done.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.client.Eval(ctx, releaseScript, []string{k}, token).Err(); err != nil {
				r.logger.Warn("lock: release failed", "key", key, "error", err)
			}
		})
	}, nil
}

func (r *Redis) keepAlive(k, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.refresh)
		n, err := r.client.Eval(ctx, refreshScript, []string{k}, token, r.ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			r.logger.Warn("lock: refresh failed", "key", k, "error", err)
		case n == 0:
			r.logger.Warn("lock: lost before unlock", "key", k)
			return
		}
	}
}
