package orders

import (
	"github.com/shopspring/decimal"
	"time"
)

type Product struct {
	ID        int64
	Name      string
	Price     decimal.Decimal
	Stock     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItem is a snapshot taken at creation; UnitPrice never follows later catalog changes.
type OrderItem struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

func NewOrderItem(productID int64, qty int, unitPrice decimal.Decimal) OrderItem {
	return OrderItem{ProductID: productID, Quantity: qty, UnitPrice: unitPrice.Round(MoneyScale)}
}

func (it OrderItem) LineTotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))).Round(MoneyScale)
}

type Order struct {
	ID             int64 // zero until persisted
	UserID         int64
	Status         Status
	TotalAmount    decimal.Decimal
	IdempotencyKey string
	Items          []OrderItem
	CancelledAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewOrder builds a PENDING order whose total is computed from the item snapshots.
func NewOrder(userID int64, idempotencyKey string, items []OrderItem) *Order {
	return &Order{
		UserID:         userID,
		Status:         StatusPending,
		TotalAmount:    CalculateTotal(items),
		IdempotencyKey: idempotencyKey,
		Items:          append([]OrderItem(nil), items...),
	}
}

func (o *Order) IsCancellable() bool { return o.Status == StatusPending }
func (o *Order) IsProcessable() bool { return o.Status == StatusPending }

func (o *Order) MarkProcessing(now time.Time) error { return o.transition(StatusProcessing, now) }
func (o *Order) MarkPaid(now time.Time) error       { return o.transition(StatusPaid, now) }
func (o *Order) MarkFailed(now time.Time) error     { return o.transition(StatusFailed, now) }

func (o *Order) MarkCancelled(now time.Time) error {
	if err := o.transition(StatusCancelled, now); err != nil {
		return err
	}
	t := now
	o.CancelledAt = &t
	return nil
}

// transition leaves the order untouched when the edge is not allowed.
func (o *Order) transition(to Status, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return &InvalidTransitionError{From: o.Status, To: to}
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}

// ProductIDs returns the distinct product ids of the order in item order.
func (o *Order) ProductIDs() []int64 {
	seen := make(map[int64]bool, len(o.Items))
	out := make([]int64, 0, len(o.Items))
	for _, it := range o.Items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			out = append(out, it.ProductID)
		}
	}
	return out
}
