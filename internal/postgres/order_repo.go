package postgres

import (
	"context"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OrderRepo struct{ DB *pgxpool.Pool }

func (r *OrderRepo) FindByID(ctx context.Context, id int64) (*orders.Order, error) {
	return findOrder(ctx, r.DB, `id=$1`, id)
}

func (r *OrderRepo) FindByIdempotencyKey(ctx context.Context, key string) (*orders.Order, error) {
	return findOrder(ctx, r.DB, `idempotency_key=$1`, key)
}

// FindByUser returns one page, newest first.
func (r *OrderRepo) FindByUser(ctx context.Context, q orders.ListQuery) ([]*orders.Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE user_id=$1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		q.UserID, string(q.Status), q.PerPage, q.Offset(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*orders.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	if err := loadItems(ctx, r.DB, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *OrderRepo) CountByUser(ctx context.Context, userID int64, status orders.Status) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders WHERE user_id=$1 AND ($2 = '' OR status = $2)`,
		userID, string(status),
	).Scan(&n)
	return n, err
}
