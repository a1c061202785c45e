package postgres

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// numerics travel as text so no precision is lost on the way to decimal
const (
	productCols = `id, name, price::text, stock, created_at, updated_at`
	orderCols   = `id, user_id, status, total_amount::text, idempotency_key, cancelled_at, created_at, updated_at`
)

func scanProduct(row pgx.Row) (*orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &price, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("postgres: product %d price %q: %w", p.ID, price, err)
	}
	p.Price = d
	return &p, nil
}

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o      orders.Order
		status string
		total  string
	)
	if err := row.Scan(&o.ID, &o.UserID, &status, &total, &o.IdempotencyKey, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("postgres: order %d total %q: %w", o.ID, total, err)
	}
	o.Status = orders.Status(status)
	o.TotalAmount = d
	return &o, nil
}

func findOrder(ctx context.Context, q querier, where string, arg any) (*orders.Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadItems(ctx, q, []*orders.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// loadItems fills Items for every order with one query.
func loadItems(ctx context.Context, q querier, list []*orders.Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(list))
	byID := make(map[int64]*orders.Order, len(list))
	for _, o := range list {
		ids = append(ids, o.ID)
		byID[o.ID] = o
		o.Items = nil
	}
	rows, err := q.Query(ctx, `
		SELECT order_id, product_id, quantity, unit_price::text
		FROM order_items WHERE order_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID int64
			it      orders.OrderItem
			price   string
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Quantity, &price); err != nil {
			return err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("postgres: order %d unit price %q: %w", orderID, price, err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}

// mapInsertErr turns a unique violation on the idempotency key into the domain error.
func mapInsertErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == uniqueIdempotencyKey {
		return orders.ErrDuplicateIdempotencyKey
	}
	return err
}
