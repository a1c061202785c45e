package postgres

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"time"
)

// Store is the postgres-backed Transactor.
type Store struct{ DB *pgxpool.Pool }

func (s *Store) Orders() *OrderRepo             { return &OrderRepo{DB: s.DB} }
func (s *Store) Products() *InventoryRepo       { return &InventoryRepo{DB: s.DB} }
func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

// InTx commits when fn returns nil; any error or panic rolls back.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", mapInsertErr(err))
	}
	return nil
}

type txRepo struct{ tx pgx.Tx }

func (r *txRepo) FindProductForUpdate(ctx context.Context, id int64) (*orders.Product, error) {
	p, err := scanProduct(r.tx.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &orders.ProductNotFoundError{ProductID: id}
	}
	return p, err
}

func (r *txRepo) DecrementStock(ctx context.Context, productID int64, qty int) error {
	ct, err := r.tx.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id=$1 AND stock >= $2`, productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("product %d: %w", productID, orders.ErrNegativeStock)
	}
	return nil
}

func (r *txRepo) IncrementStock(ctx context.Context, productID int64, qty int) error {
	ct, err := r.tx.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id=$1`, productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return &orders.ProductNotFoundError{ProductID: productID}
	}
	return nil
}

func (r *txRepo) FindOrderForUpdate(ctx context.Context, id int64) (*orders.Order, error) {
	return findOrder(ctx, r.tx, `id=$1 FOR UPDATE`, id)
}

func (r *txRepo) SaveOrder(ctx context.Context, o *orders.Order) error {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	err := r.tx.QueryRow(ctx, `
		INSERT INTO orders(user_id, status, total_amount, idempotency_key, cancelled_at, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
		RETURNING id`,
		o.UserID, string(o.Status), orders.FormatMoney(o.TotalAmount), o.IdempotencyKey,
		o.CancelledAt, o.CreatedAt, o.UpdatedAt,
	).Scan(&o.ID)
	if err != nil {
		return mapInsertErr(err)
	}

	for _, it := range o.Items {
		if _, err := r.tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4::numeric)`,
			o.ID, it.ProductID, it.Quantity, orders.FormatMoney(it.UnitPrice),
		); err != nil {
			return err
		}
	}
	return nil
}

// UpdateOrderStatus writes only the mutable columns; totals and items are frozen.
func (r *txRepo) UpdateOrderStatus(ctx context.Context, o *orders.Order) error {
	ct, err := r.tx.Exec(ctx, `
		UPDATE orders SET status=$2, cancelled_at=$3, updated_at=$4 WHERE id=$1`,
		o.ID, string(o.Status), o.CancelledAt, o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrOrderNotFound
	}
	return nil
}
