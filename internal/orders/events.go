package orders

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	EventOrderCreated   = "order.created"
	EventOrderPaid      = "order.paid"
	EventOrderFailed    = "order.failed"
	EventOrderCancelled = "order.cancelled"

	TaskProcessOrder = "ProcessOrder"
)

// Envelope wraps every message written to the broker.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// ProcessOrderTask asks the settlement worker to charge one order.
type ProcessOrderTask struct {
	OrderID int64  `json:"order_id"`
	TraceID string `json:"trace_id,omitempty"`
}

// Notification is broadcast on the owner's channel after a commit.
type Notification struct {
	Event       string     `json:"event"`
	OrderID     int64      `json:"order_id"`
	UserID      int64      `json:"user_id"`
	Status      Status     `json:"status"`
	Total       string     `json:"total,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

// Channel is the per-user broadcast channel, e.g. "orders.42".
func (n Notification) Channel() string { return UserChannel(n.UserID) }

func UserChannel(userID int64) string { return fmt.Sprintf("orders.%d", userID) }

func NewOrderCreated(o *Order, at time.Time) Notification {
	return Notification{
		Event: EventOrderCreated, OrderID: o.ID, UserID: o.UserID, Status: o.Status,
		Total: FormatMoney(o.TotalAmount), OccurredAt: at,
	}
}

func NewOrderPaid(o *Order, at time.Time) Notification {
	return Notification{
		Event: EventOrderPaid, OrderID: o.ID, UserID: o.UserID, Status: o.Status,
		Total: FormatMoney(o.TotalAmount), PaidAt: &at, OccurredAt: at,
	}
}

func NewOrderFailed(o *Order, reason string, at time.Time) Notification {
	return Notification{
		Event: EventOrderFailed, OrderID: o.ID, UserID: o.UserID, Status: o.Status,
		Reason: reason, FailedAt: &at, OccurredAt: at,
	}
}

func NewOrderCancelled(o *Order, at time.Time) Notification {
	return Notification{
		Event: EventOrderCancelled, OrderID: o.ID, UserID: o.UserID, Status: o.Status,
		CancelledAt: o.CancelledAt, OccurredAt: at,
	}
}
