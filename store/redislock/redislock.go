/*
Package redislock provides an advance.Locker backed by Redis.

PURPOSE:
  Serializes operations on the same advance across several server
  processes sharing one database. Each lock is a key set with SETNX and a
  TTL; the value is a random token so only the holder can release it.

ACQUISITION:
  SETNX is retried every RetryInterval until it succeeds or the context is
  done. A holder that crashes loses the lock after TTL.

RELEASE:
  A Lua script deletes the key only if it still holds the caller's token,
  so an expired lock taken over by someone else is left alone.
*/
package redislock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/household-ledger/advance"
)

const (
	DefaultTTL           = 30 * time.Second
	DefaultRetryInterval = 50 * time.Millisecond
	DefaultKeyPrefix     = "ledger:lock:"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config holds Redis connection and lock settings.
type Config struct {
	Addr          string
	Password      string
	DB            int
	KeyPrefix     string
	TTL           time.Duration
	RetryInterval time.Duration
}

type Locker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	log    *zap.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Locker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewWithClient(client, cfg, log), nil
}

// NewWithClient creates a Locker with an existing Redis client.
func NewWithClient(client *redis.Client, cfg Config, log *zap.Logger) *Locker {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Locker{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		retry:  cfg.RetryInterval,
		log:    log,
	}
}

// Lock blocks until key is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return l.unlockFunc(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", advance.ErrLockUnavailable, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *Locker) unlockFunc(redisKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled; release anyway.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.log.Warn("failed to release lock", zap.String("key", redisKey), zap.Error(err))
			}
		})
	}
}

// Close closes the Redis client.
func (l *Locker) Close() error {
	return l.client.Close()
}

var _ advance.Locker = (*Locker)(nil)
