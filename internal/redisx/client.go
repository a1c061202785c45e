package redisx

import (
	"context"
	"github.com/redis/go-redis/v9"
	"time"
)

// New returns a client for lock and notification traffic. Lock commands are
// short, so a single timeout governs dial, read and write.
func New(addr string, timeout time.Duration) *redis.Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
}

// Ping is the health probe used by /healthz.
func Ping(ctx context.Context, rdb *redis.Client) error {
	return rdb.Ping(ctx).Err()
}
