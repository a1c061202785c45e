package redisx

import (
	"context"
	"github.com/ariefcatur/go-order-orchestrator/internal/locking"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"time"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is the cross-process product lock: SET NX PX per product key.
type Locker struct {
	Redis   *redis.Client
	Backoff locking.Backoff
	Log     *zap.Logger
}

func NewLocker(rdb *redis.Client, b locking.Backoff, log *zap.Logger) *Locker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Locker{Redis: rdb, Backoff: b, Log: log}
}

func (l *Locker) Session() orders.LockSession {
	return &session{l: l}
}

type held struct {
	key   string
	token string
}

type session struct {
	l    *Locker
	held []held
}

func (s *session) AcquireForProducts(ctx context.Context, productIDs []int64, ttl time.Duration) (bool, error) {
	s.held = nil
	for _, id := range locking.Ordered(productIDs) {
		key := ProductLockKey(id)
		token := uuid.NewString()
		ok, err := s.l.Backoff.Retry(ctx, func(ctx context.Context) (bool, error) {
			return s.l.Redis.SetNX(ctx, key, token, ttl).Result()
		})
		if err != nil || !ok {
			s.l.Log.Warn("lock_acquire_failed",
				zap.String("key", key),
				zap.Int64s("product_ids", productIDs),
				zap.Error(err),
			)
			// A SET whose reply was lost may still have landed under our token.
			s.held = append(s.held, held{key: key, token: token})
			s.ReleaseAll(ctx)
			return false, err
		}
		s.held = append(s.held, held{key: key, token: token})
	}
	return true, nil
}

// ReleaseAll releases in reverse acquisition order. Failures are logged;
// the TTL reclaims anything left behind.
func (s *session) ReleaseAll(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(s.held) - 1; i >= 0; i-- {
		h := s.held[i]
		if err := releaseScript.Run(ctx, s.l.Redis, []string{h.key}, h.token).Err(); err != nil {
			s.l.Log.Warn("lock_release_failed", zap.String("key", h.key), zap.Error(err))
		}
	}
	s.held = nil
}
