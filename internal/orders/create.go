package orders

import (
	"context"
	"errors"
	"fmt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"time"
)

type CreateOrderResult struct {
	Order *Order
	// Created is false when an earlier request with the same key already produced Order.
	Created bool
}

// CreateOrder reserves stock and persists a PENDING order.
//
// Product locks are taken in ascending id order before the transaction opens
// and are released on every return path. Settlement is enqueued only after
// the transaction commits.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (res CreateOrderResult, err error) {
	ctx, span := tracer.Start(ctx, "orders.CreateOrder", trace.WithAttributes(
		attribute.Int64("order.user_id", in.UserID),
		attribute.String("order.idempotency_key", in.IdempotencyKey),
	))
	defer func() {
		label := outcome(err)
		if err == nil {
			label = "created"
			if !res.Created {
				label = "duplicate"
			}
		}
		s.Metrics.CountCreate(label)
		endSpan(span, err)
	}()

	if err := in.Validate(); err != nil {
		return res, err
	}
	log := s.logger(ctx).With(
		zap.Int64("user_id", in.UserID),
		zap.String("idempotency_key", in.IdempotencyKey),
		zap.String("trace_id", in.TraceID),
	)
	log.Info("create_order_started")

	if existing, ok, err := s.findByKey(ctx, in.IdempotencyKey); err != nil {
		return res, err
	} else if ok {
		log.Info("create_order_duplicate", zap.Int64("order_id", existing.ID))
		return CreateOrderResult{Order: existing}, nil
	}

	productIDs := in.DistinctProductIDs()
	lock := s.Locker.Session()
	defer lock.ReleaseAll(context.WithoutCancel(ctx))

	start := time.Now()
	ok, err := lock.AcquireForProducts(ctx, productIDs, s.lockTTL())
	if err != nil {
		s.Metrics.ObserveLock("error", time.Since(start))
		return res, fmt.Errorf("orders: acquire locks: %w", err)
	}
	if !ok {
		s.Metrics.ObserveLock("failed", time.Since(start))
		log.Warn("lock_acquire_failed", zap.Int64s("product_ids", productIDs))
		return res, &LockAcquisitionError{ProductIDs: productIDs}
	}
	s.Metrics.ObserveLock("acquired", time.Since(start))

	var order *Order
	err = s.Tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		items := make([]OrderItem, 0, len(in.Items))
		for _, it := range in.Items {
			p, err := tx.FindProductForUpdate(ctx, it.ProductID)
			if err != nil {
				return err
			}
			if p.Stock < it.Quantity {
				return &InsufficientStockError{ProductID: p.ID, Requested: it.Quantity, Available: p.Stock}
			}
			if err := tx.DecrementStock(ctx, p.ID, it.Quantity); err != nil {
				return err
			}
			// price comes from the locked row, never from the request
			items = append(items, NewOrderItem(p.ID, it.Quantity, p.Price))
		}

		o := NewOrder(in.UserID, in.IdempotencyKey, items)
		now := s.now()
		o.CreatedAt, o.UpdatedAt = now, now
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// lost the insert race; the winner's order is the answer
		existing, ok, lookupErr := s.findByKey(ctx, in.IdempotencyKey)
		if lookupErr != nil {
			return res, lookupErr
		}
		if ok {
			log.Info("create_order_duplicate", zap.Int64("order_id", existing.ID), zap.Bool("after_conflict", true))
			return CreateOrderResult{Order: existing}, nil
		}
		return res, fmt.Errorf("orders: idempotency conflict without visible order: %w", err)
	}
	if err != nil {
		log.Warn("create_order_rolled_back", zap.Error(err))
		return res, err
	}

	log.Info("order_created",
		zap.Int64("order_id", order.ID),
		zap.String("total", FormatMoney(order.TotalAmount)),
	)
	s.dispatch(ctx, ProcessOrderTask{OrderID: order.ID, TraceID: in.TraceID})
	s.notify(ctx, NewOrderCreated(order, s.now()))

	return CreateOrderResult{Order: order, Created: true}, nil
}

func (s *Service) findByKey(ctx context.Context, key string) (*Order, bool, error) {
	o, err := s.Orders.FindByIdempotencyKey(ctx, key)
	switch {
	case err == nil:
		return o, true, nil
	case errors.Is(err, ErrOrderNotFound):
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("orders: idempotency lookup: %w", err)
	}
}

// TODO: write the settlement task to an outbox table inside the creation
// transaction so a failed enqueue is retried instead of leaving the order PENDING.
func (s *Service) dispatch(ctx context.Context, task ProcessOrderTask) {
	if s.Dispatcher == nil {
		return
	}
	if err := s.Dispatcher.Enqueue(context.WithoutCancel(ctx), task); err != nil {
		s.Metrics.CountNotifyFailure("dispatch")
		s.logger(ctx).Error("settlement_dispatch_failed", zap.Int64("order_id", task.OrderID), zap.Error(err))
		return
	}
	s.logger(ctx).Info("settlement_dispatched", zap.Int64("order_id", task.OrderID), zap.String("trace_id", task.TraceID))
}
