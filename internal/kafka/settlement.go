package kafka

import (
	"context"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/ariefcatur/go-order-orchestrator/internal/queue"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// SettlementHandler decodes ProcessOrder envelopes and hands them to the worker.
// Undecodable messages and foreign event types are acknowledged and skipped.
// A task that exhausted its retries is acknowledged too; the order stays in
// whatever state the last attempt left it.
func SettlementHandler(w *queue.Worker, log *zap.Logger) Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, m kafkago.Message) error {
		env, err := UnmarshalEnvelope(m.Value)
		if err != nil {
			log.Error("settlement_bad_message", zap.Int64("offset", m.Offset), zap.Error(err))
			return nil
		}
		if env.EventType != orders.TaskProcessOrder {
			return nil
		}
		task, err := UnwrapPayload[orders.ProcessOrderTask](env.Payload)
		if err != nil {
			log.Error("settlement_bad_payload", zap.String("event_id", env.EventID), zap.Error(err))
			return nil
		}
		if task.TraceID == "" {
			task.TraceID = env.TraceID
		}
		if err := w.Handle(ctx, task); err != nil {
			// shutdown: leave the offset uncommitted so another consumer picks it up
			if ctx.Err() != nil {
				return err
			}
		}
		return nil
	}
}
