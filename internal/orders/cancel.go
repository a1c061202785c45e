package orders

import (
	"context"
	"fmt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"time"
)

// CancelOrder moves a PENDING order to CANCELLED and restores exactly the
// reserved stock. Cancelling an already cancelled order returns it unchanged.
func (s *Service) CancelOrder(ctx context.Context, orderID int64) (_ *Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.CancelOrder", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	label := "cancelled"
	defer func() {
		if err != nil {
			label = outcome(err)
		}
		s.Metrics.CountCancel(label)
		endSpan(span, err)
	}()

	log := s.logger(ctx).With(zap.Int64("order_id", orderID))

	order, err := s.Orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == StatusCancelled {
		label = "already_cancelled"
		log.Info("cancel_noop_already_cancelled")
		return order, nil
	}
	if !order.IsCancellable() {
		return nil, &NotCancellableError{Status: order.Status}
	}

	productIDs := order.ProductIDs()
	lock := s.Locker.Session()
	defer lock.ReleaseAll(context.WithoutCancel(ctx))

	start := time.Now()
	ok, err := lock.AcquireForProducts(ctx, productIDs, s.lockTTL())
	if err != nil {
		s.Metrics.ObserveLock("error", time.Since(start))
		return nil, fmt.Errorf("orders: acquire locks: %w", err)
	}
	if !ok {
		s.Metrics.ObserveLock("failed", time.Since(start))
		log.Warn("lock_acquire_failed", zap.Int64s("product_ids", productIDs))
		return nil, &LockAcquisitionError{ProductIDs: productIDs}
	}
	s.Metrics.ObserveLock("acquired", time.Since(start))

	restored := false
	err = s.Tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.FindOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		// a concurrent cancel may have won between the read above and the row lock
		if o.Status == StatusCancelled {
			order = o
			return nil
		}
		if !o.IsCancellable() {
			return &NotCancellableError{Status: o.Status}
		}
		if err := o.MarkCancelled(s.now()); err != nil {
			return err
		}
		if err := tx.UpdateOrderStatus(ctx, o); err != nil {
			return err
		}
		for _, it := range o.Items {
			if err := tx.IncrementStock(ctx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}
		order, restored = o, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !restored {
		label = "already_cancelled"
		log.Info("cancel_noop_already_cancelled")
		return order, nil
	}

	log.Info("order_cancelled", zap.Int("items_restored", len(order.Items)))
	s.notify(ctx, NewOrderCancelled(order, s.now()))
	return order, nil
}
