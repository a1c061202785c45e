package queue

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"go.uber.org/zap"
	"sync"
)

var ErrQueueClosed = errors.New("queue: closed")

type TaskHandler func(ctx context.Context, task orders.ProcessOrderTask) error

// Memory is a buffered channel with a fixed worker pool. It satisfies
// orders.Dispatcher for single-process deployments and tests.
type Memory struct {
	jobs chan orders.ProcessOrderTask
	log  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewMemory(buf int, log *zap.Logger) *Memory {
	if buf <= 0 {
		buf = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Memory{jobs: make(chan orders.ProcessOrderTask, buf), log: log}
}

func (q *Memory) Enqueue(ctx context.Context, task orders.ProcessOrderTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches workers that drain the queue until Close.
func (q *Memory) Start(ctx context.Context, workers int, h TaskHandler) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func(id int) {
			defer q.wg.Done()
			for task := range q.jobs {
				if err := h(ctx, task); err != nil {
					q.log.Error("worker error", zap.Int("worker", id), zap.Int64("order_id", task.OrderID), zap.Error(err))
				}
			}
		}(i)
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (q *Memory) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Len is the number of tasks waiting for a worker.
func (q *Memory) Len() int { return len(q.jobs) }
