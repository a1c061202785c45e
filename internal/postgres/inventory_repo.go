package postgres

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InventoryRepo reads products without locking.
type InventoryRepo struct{ DB *pgxpool.Pool }

func (r *InventoryRepo) FindByID(ctx context.Context, id int64) (*orders.Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &orders.ProductNotFoundError{ProductID: id}
	}
	return p, err
}

func (r *InventoryRepo) ListAll(ctx context.Context) ([]orders.Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productCols+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []orders.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
