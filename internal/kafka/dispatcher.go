package kafka

import (
	"context"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"strconv"
)

// publisher is implemented by *Producer.
type publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header) error
}

// Dispatcher enqueues settlement tasks on the order.process topic, keyed by
// order id so redeliveries of one order stay on one partition.
type Dispatcher struct {
	Producer publisher
	Service  string
}

func (d *Dispatcher) Enqueue(ctx context.Context, task orders.ProcessOrderTask) error {
	ev := NewEnvelope(orders.TaskProcessOrder, d.Service, task.TraceID, task.OrderID, task)
	return d.Producer.Publish(ctx, orders.PartitionKey(task.OrderID), MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.TaskProcessOrder)},
		kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(ev.EventVersion))},
	)
}

// Notifier publishes order notifications on the order.events topic, keyed
// by the owner's channel name.
type Notifier struct {
	Producer publisher
	Service  string
}

func (n *Notifier) Notify(ctx context.Context, note orders.Notification) error {
	ev := NewEnvelope(note.Event, n.Service, "", note.OrderID, note)
	return n.Producer.Publish(ctx, []byte(note.Channel()), MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(note.Event)},
		kafkago.Header{Key: "x-channel", Value: []byte(note.Channel())},
	)
}
