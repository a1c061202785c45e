package queue

import (
	"context"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"go.uber.org/zap"
	"time"
)

type Settler interface {
	ProcessOrder(ctx context.Context, orderID int64) error
}

// Worker applies the retry policy to one settlement task.
type Worker struct {
	Settler Settler
	Policy  RetryPolicy
	Log     *zap.Logger
	// Sleep is replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewWorker(s Settler, p RetryPolicy, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{Settler: s, Policy: p, Log: log, Sleep: sleep}
}

// Handle retries ProcessOrder up to Policy.Attempts times. A task that keeps
// failing is logged and dropped; the error is returned so the transport can
// decide whether to commit. Context cancellation stops the retries.
func (w *Worker) Handle(ctx context.Context, task orders.ProcessOrderTask) error {
	log := w.Log.With(zap.Int64("order_id", task.OrderID), zap.String("trace_id", task.TraceID))
	attempts := max(w.Policy.Attempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = w.Settler.ProcessOrder(ctx, task.OrderID); err == nil {
			return nil
		}
		log.Warn("settlement_attempt_failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == attempts {
			break
		}
		if serr := w.sleep(ctx, w.Policy.Delay(attempt)); serr != nil {
			return serr
		}
	}
	log.Error("settlement_permanently_failed", zap.Int("attempts", attempts), zap.Error(err))
	return err
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	if w.Sleep != nil {
		return w.Sleep(ctx, d)
	}
	return sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
