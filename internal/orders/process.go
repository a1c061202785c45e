package orders

import (
	"context"
	"errors"
	"fmt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProcessOrder settles one order: PENDING -> PROCESSING -> PAID|FAILED.
//
// It is safe under at-least-once delivery: a missing order or one that is
// no longer PENDING is a silent no-op, and the PENDING check is repeated
// under the row lock so two concurrent deliveries never both charge.
func (s *Service) ProcessOrder(ctx context.Context, orderID int64) (err error) {
	ctx, span := tracer.Start(ctx, "orders.ProcessOrder", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	label := "skipped"
	defer func() {
		if err != nil {
			label = outcome(err)
		}
		s.Metrics.CountSettlement(label)
		endSpan(span, err)
	}()

	log := s.logger(ctx).With(zap.Int64("order_id", orderID))

	order, err := s.Orders.FindByID(ctx, orderID)
	if errors.Is(err, ErrOrderNotFound) {
		log.Warn("settlement_order_not_found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("orders: load order %d: %w", orderID, err)
	}
	if !order.IsProcessable() {
		log.Info("settlement_skipped", zap.String("status", string(order.Status)))
		return nil
	}

	claimed := false
	err = s.Tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.FindOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.IsProcessable() {
			order = o
			return nil
		}
		if err := o.MarkProcessing(s.now()); err != nil {
			return err
		}
		if err := tx.UpdateOrderStatus(ctx, o); err != nil {
			return err
		}
		order, claimed = o, true
		return nil
	})
	if errors.Is(err, ErrOrderNotFound) {
		log.Warn("settlement_order_not_found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("orders: mark processing %d: %w", orderID, err)
	}
	if !claimed {
		log.Info("settlement_skipped", zap.String("status", string(order.Status)))
		return nil
	}
	log.Info("order_processing_started")

	// the charge and the final write run to completion even if the caller goes away
	ctx = context.WithoutCancel(ctx)
	result, err := s.Payments.Charge(ctx, order.ID, order.TotalAmount)
	if err != nil {
		result = PaymentResult{Success: false, Message: err.Error()}
	}

	err = s.Tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var terr error
		if result.Success {
			terr = order.MarkPaid(s.now())
		} else {
			terr = order.MarkFailed(s.now())
		}
		if terr != nil {
			return terr
		}
		return tx.UpdateOrderStatus(ctx, order)
	})
	if err != nil {
		// the order stays PROCESSING and later deliveries skip it
		log.Error("settlement_stranded_processing",
			zap.Bool("payment_success", result.Success),
			zap.String("payment_message", result.Message),
			zap.Error(err),
		)
		return fmt.Errorf("orders: finalize settlement %d: %w", orderID, err)
	}

	if result.Success {
		label = "paid"
		log.Info("order_paid", zap.String("total", FormatMoney(order.TotalAmount)))
		s.notify(ctx, NewOrderPaid(order, s.now()))
	} else {
		label = "failed"
		log.Warn("order_payment_failed", zap.String("reason", result.Message))
		s.notify(ctx, NewOrderFailed(order, result.Message, s.now()))
	}
	return nil
}
