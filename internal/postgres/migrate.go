package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const uniqueIdempotencyKey = "orders_idempotency_key_uniq"

// Migrate creates the tables if they do not exist yet.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Seed loads the catalog into an empty products table and leaves a
// populated table alone.
func Seed(ctx context.Context, db *pgxpool.Pool, catalog []orders.Product) (int, error) {
	var n int
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	for _, p := range catalog {
		if _, err := db.Exec(ctx, `
			INSERT INTO products(id, name, price, stock)
			VALUES ($1, $2, $3::numeric, $4)
			ON CONFLICT (id) DO NOTHING`,
			p.ID, p.Name, orders.FormatMoney(p.Price), p.Stock,
		); err != nil {
			return 0, fmt.Errorf("postgres: seed product %d: %w", p.ID, err)
		}
	}
	// explicit ids do not advance the sequence
	if _, err := db.Exec(ctx, `
		SELECT setval(pg_get_serial_sequence('products','id'), (SELECT COALESCE(MAX(id), 1) FROM products))`,
	); err != nil {
		return 0, err
	}
	return len(catalog), nil
}
