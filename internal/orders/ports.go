package orders

import (
	"context"
	"github.com/shopspring/decimal"
	"time"
)

// OrderStore is the read side of order persistence. Missing orders yield ErrOrderNotFound.
type OrderStore interface {
	FindByID(ctx context.Context, id int64) (*Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	FindByUser(ctx context.Context, q ListQuery) ([]*Order, error)
	CountByUser(ctx context.Context, userID int64, status Status) (int, error)
}

// InventoryLedger is the non-locking read side of the product table.
type InventoryLedger interface {
	FindByID(ctx context.Context, id int64) (*Product, error)
	ListAll(ctx context.Context) ([]Product, error)
}

// Tx exposes the mutations that must happen inside one database transaction.
//
// FindProductForUpdate and FindOrderForUpdate hold a row lock until the
// transaction ends; a second transaction asking for the same row blocks.
// SaveOrder assigns the order id and fails with ErrDuplicateIdempotencyKey
// when the key is already taken.
type Tx interface {
	FindProductForUpdate(ctx context.Context, id int64) (*Product, error)
	DecrementStock(ctx context.Context, productID int64, qty int) error
	IncrementStock(ctx context.Context, productID int64, qty int) error

	FindOrderForUpdate(ctx context.Context, id int64) (*Order, error)
	SaveOrder(ctx context.Context, o *Order) error
	UpdateOrderStatus(ctx context.Context, o *Order) error
}

// Transactor commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// ProductLocker hands out one LockSession per orchestration call.
type ProductLocker interface {
	Session() LockSession
}

// LockSession acquires per-product locks in ascending id order.
// A false result means the retry budget ran out and nothing is held.
// ReleaseAll is idempotent.
type LockSession interface {
	AcquireForProducts(ctx context.Context, productIDs []int64, ttl time.Duration) (bool, error)
	ReleaseAll(ctx context.Context)
}

type PaymentResult struct {
	Success bool
	Message string
}

type PaymentGateway interface {
	Charge(ctx context.Context, orderID int64, amount decimal.Decimal) (PaymentResult, error)
}

// Dispatcher enqueues settlement work. Delivery is at-least-once.
type Dispatcher interface {
	Enqueue(ctx context.Context, task ProcessOrderTask) error
}

// Notifier is fire-and-forget; errors are logged, never rolled back.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
