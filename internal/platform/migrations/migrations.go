// Package migrations applies the PostgreSQL schema for the storefront.
// Statements are idempotent so Apply can run on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS store_users (
		id UUID PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		balance DOUBLE PRECISION NOT NULL DEFAULT 0,
		role TEXT NOT NULL DEFAULT 'user',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS store_products (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price DOUBLE PRECISION NOT NULL,
		image_path TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS store_stock (
		id UUID PRIMARY KEY,
		product_id UUID NOT NULL REFERENCES store_products (id),
		credential_file TEXT NOT NULL,
		sold BOOLEAN NOT NULL DEFAULT FALSE,
		order_id UUID,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_store_stock_available
		ON store_stock (product_id, created_at) WHERE sold = FALSE`,
	`CREATE TABLE IF NOT EXISTS store_orders (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES store_users (id),
		product_id UUID NOT NULL REFERENCES store_products (id),
		stock_item_id UUID NOT NULL REFERENCES store_stock (id),
		link_method TEXT,
		customer_id TEXT,
		customer_pass TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_store_orders_user ON store_orders (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS store_topups (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES store_users (id),
		amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		method TEXT NOT NULL,
		reference_code TEXT NOT NULL UNIQUE,
		owner_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_store_topups_pending
		ON store_topups (created_at) WHERE status = 'pending'`,
}

// Apply runs every schema statement in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
