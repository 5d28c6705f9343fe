package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// statements are idempotent; Migrate runs them in one transaction at boot.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id         TEXT PRIMARY KEY,
		sku        TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL,
		price      NUMERIC(12,2) NOT NULL CHECK (price >= 0),
		stock      INTEGER NOT NULL,
		active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	// stock is a running sum of commuting journal deltas that may arrive in
	// any order; the ledger enforces the floor, not the table
	`ALTER TABLE products DROP CONSTRAINT IF EXISTS products_stock_check`,
	`CREATE TABLE IF NOT EXISTS customers (
		id      TEXT PRIMARY KEY,
		name    TEXT NOT NULL,
		email   TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id               TEXT PRIMARY KEY,
		external_id      TEXT UNIQUE,
		customer_id      TEXT NOT NULL REFERENCES customers(id),
		status           TEXT NOT NULL,
		total_amount     NUMERIC(14,2) NOT NULL,
		shipping_address TEXT NOT NULL,
		reservation      JSONB,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS orders_customer_created_idx ON orders (customer_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS order_lines (
		order_id   TEXT NOT NULL REFERENCES orders(id),
		line_no    INTEGER NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(id),
		qty        INTEGER NOT NULL CHECK (qty > 0),
		unit_price NUMERIC(12,2) NOT NULL,
		PRIMARY KEY (order_id, line_no)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id             BIGSERIAL PRIMARY KEY,
		product_id     TEXT NOT NULL REFERENCES products(id),
		delta          INTEGER NOT NULL,
		reservation_id TEXT,
		reason         TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return tx.Commit(ctx)
}
