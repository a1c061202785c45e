package locking

import (
	"context"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"sync"
	"time"
)

// Registry is an in-process lock table keyed by product id. Entries expire
// after their TTL even without release.
type Registry struct {
	mu    sync.Mutex
	locks map[int64]entry
	now   func() time.Time
}

type entry struct {
	token   string
	expires time.Time
}

func NewRegistry() *Registry {
	return &Registry{locks: make(map[int64]entry), now: time.Now}
}

func (r *Registry) tryAcquire(id int64, token string, ttl time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if e, ok := r.locks[id]; ok && now.Before(e.expires) {
		return false
	}
	r.locks[id] = entry{token: token, expires: now.Add(ttl)}
	return true
}

// release deletes the entry only if token still owns it.
func (r *Registry) release(id int64, token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.locks[id]; ok && e.token == token {
		delete(r.locks, id)
		return true
	}
	return false
}

// Held reports whether a live lock exists for id.
func (r *Registry) Held(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.locks[id]
	return ok && r.now().Before(e.expires)
}

// Reset drops every lock. Tests call it between cases.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locks = make(map[int64]entry)
}

// MemoryLocker is the single-process stand-in for the redis lock.
type MemoryLocker struct {
	Registry *Registry
	Backoff  Backoff
	Log      *zap.Logger
}

func NewMemoryLocker(reg *Registry, b Backoff, log *zap.Logger) *MemoryLocker {
	if reg == nil {
		reg = NewRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryLocker{Registry: reg, Backoff: b, Log: log}
}

func (l *MemoryLocker) Session() orders.LockSession {
	return &memorySession{l: l}
}

type heldLock struct {
	id    int64
	token string
}

type memorySession struct {
	l    *MemoryLocker
	held []heldLock
}

func (s *memorySession) AcquireForProducts(ctx context.Context, productIDs []int64, ttl time.Duration) (bool, error) {
	s.held = nil
	for _, id := range Ordered(productIDs) {
		token := uuid.NewString()
		ok, err := s.l.Backoff.Retry(ctx, func(context.Context) (bool, error) {
			return s.l.Registry.tryAcquire(id, token, ttl), nil
		})
		if err != nil || !ok {
			s.l.Log.Warn("lock_acquire_failed", zap.Int64("failed_product_id", id), zap.Int64s("product_ids", productIDs))
			s.ReleaseAll(ctx)
			return false, err
		}
		s.held = append(s.held, heldLock{id: id, token: token})
	}
	return true, nil
}

func (s *memorySession) ReleaseAll(context.Context) {
	for i := len(s.held) - 1; i >= 0; i-- {
		s.l.Registry.release(s.held[i].id, s.held[i].token)
	}
	s.held = nil
}
