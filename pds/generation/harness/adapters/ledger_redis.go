package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	ports "github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness/ports"
)

// RedisConfig holds configuration for Redis connection
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisLedger claims persona/post pairs with SET NX so every process sharing the redis
// instance agrees on who dispatched what.
type RedisLedger struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisLedger connects and pings redis.
func NewRedisLedger(cfg RedisConfig, ttl time.Duration) (*RedisLedger, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisLedger{rdb: rdb, ttl: ttl}, nil
}

// Claim returns true only when this call created the key.
func (l *RedisLedger) Claim(ctx context.Context, personaID, postID string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, ledgerKey(personaID, postID), time.Now().UTC().Format(time.RFC3339Nano), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// Close closes the redis connection
func (l *RedisLedger) Close() error {
	return l.rdb.Close()
}

var _ ports.DispatchLedger = (*RedisLedger)(nil)
