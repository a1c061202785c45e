package orders

import (
	"fmt"
	"math"
)

const (
	MaxIdempotencyKeyLen = 255
	DefaultPerPage       = 15
	MaxPerPage           = 50
)

type ItemInput struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type CreateOrderInput struct {
	UserID         int64
	Items          []ItemInput
	IdempotencyKey string
	TraceID        string
}

func (in CreateOrderInput) Validate() error {
	if in.UserID <= 0 {
		return &ValidationError{Field: "user_id", Message: "user_id is required"}
	}
	if len(in.Items) == 0 {
		return &ValidationError{Field: "items", Message: "order must contain at least one item"}
	}
	for i, it := range in.Items {
		if it.ProductID <= 0 {
			return &ValidationError{Field: fmt.Sprintf("items.%d.product_id", i), Message: "product_id is required"}
		}
		if it.Quantity < 1 {
			return &ValidationError{Field: fmt.Sprintf("items.%d.quantity", i), Message: "quantity must be at least 1"}
		}
	}
	if in.IdempotencyKey == "" {
		return &ValidationError{Field: "idempotency_key", Message: "idempotency key is required for safe order creation"}
	}
	if len(in.IdempotencyKey) > MaxIdempotencyKeyLen {
		return &ValidationError{Field: "idempotency_key", Message: fmt.Sprintf("idempotency key must be at most %d characters", MaxIdempotencyKeyLen)}
	}
	return nil
}

// DistinctProductIDs keeps the first occurrence of each product id.
func (in CreateOrderInput) DistinctProductIDs() []int64 {
	seen := make(map[int64]bool, len(in.Items))
	out := make([]int64, 0, len(in.Items))
	for _, it := range in.Items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			out = append(out, it.ProductID)
		}
	}
	return out
}

// ListQuery selects one page of a user's orders, newest first. Empty Status means any.
type ListQuery struct {
	UserID  int64
	Status  Status
	Page    int
	PerPage int
}

// Normalize applies defaults and validates bounds.
func (q ListQuery) Normalize() (ListQuery, error) {
	if q.UserID <= 0 {
		return q, &ValidationError{Field: "user_id", Message: "user_id is required"}
	}
	if q.Status != "" && !q.Status.Valid() {
		return q, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", q.Status)}
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Page < 1 {
		return q, &ValidationError{Field: "page", Message: "page must be at least 1"}
	}
	if q.PerPage == 0 {
		q.PerPage = DefaultPerPage
	}
	if q.PerPage < 1 || q.PerPage > MaxPerPage {
		return q, &ValidationError{Field: "per_page", Message: fmt.Sprintf("per_page must be between 1 and %d", MaxPerPage)}
	}
	return q, nil
}

// Offset saturates at math.MaxInt so a far-away page reads as empty.
func (q ListQuery) Offset() int {
	if q.PerPage > 0 && q.Page-1 > math.MaxInt/q.PerPage {
		return math.MaxInt
	}
	return (q.Page - 1) * q.PerPage
}

type OrderPage struct {
	Orders  []*Order
	Page    int
	PerPage int
	Total   int
}

func (p OrderPage) LastPage() int {
	if p.PerPage <= 0 {
		return 0
	}
	return (p.Total + p.PerPage - 1) / p.PerPage
}
