package orders

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-order-orchestrator/internal/logging"
	"github.com/ariefcatur/go-order-orchestrator/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"time"
)

const DefaultLockTTL = 10 * time.Second

var tracer = otel.Tracer("github.com/ariefcatur/go-order-orchestrator/internal/orders")

// Service hosts the create, process and cancel orchestrators.
// Dispatcher, Notifier, Metrics and Log may be nil.
type Service struct {
	Orders     OrderStore
	Products   InventoryLedger
	Tx         Transactor
	Locker     ProductLocker
	Payments   PaymentGateway
	Dispatcher Dispatcher
	Notifier   Notifier
	Metrics    *metrics.Registry
	Log        *zap.Logger
	LockTTL    time.Duration
	Now        func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL > 0 {
		return s.LockTTL
	}
	return DefaultLockTTL
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	base := s.Log
	if base == nil {
		base = zap.NewNop()
	}
	return logging.FromContext(ctx, base)
}

// notify runs after commit; a failed publish is logged and swallowed.
func (s *Service) notify(ctx context.Context, n Notification) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		s.Metrics.CountNotifyFailure(n.Event)
		s.logger(ctx).Warn("notify_failed",
			zap.String("event", n.Event),
			zap.Int64("order_id", n.OrderID),
			zap.Error(err),
		)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// outcome maps an orchestration result to a metric label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrLockAcquisition):
		return "lock_conflict"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, ErrOrderNotCancellable), errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "error"
	}
}
