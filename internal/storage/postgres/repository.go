package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/order"
)

// Repository is the Postgres order.Store. Status changes are single
// conditional UPDATEs, so no application lock is needed.
type Repository struct {
	DB     *sql.DB
	logger *log.Logger
}

func NewRepository(db *sql.DB, logger *log.Logger) *Repository {
	if logger == nil {
		logger = log.Default()
	}
	return &Repository{DB: db, logger: logger}
}

var _ order.Store = (*Repository)(nil)

func (r *Repository) FindByID(ctx context.Context, id string) (order.Order, error) {
	if r.DB == nil {
		return order.Order{}, fmt.Errorf("database not initialized")
	}
	query := `
        SELECT id, customer_id, COALESCE(customer_email, ''), status, total_amount, updated_at
        FROM orders
        WHERE id = $1
    `
	var (
		o      order.Order
		status string
	)
	err := r.DB.QueryRowContext(ctx, query, id).
		Scan(&o.ID, &o.CustomerID, &o.CustomerEmail, &status, &o.TotalAmount, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, fmt.Errorf("%w: %s", order.ErrNotFound, id)
	}
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to load order %s: %w", id, err)
	}
	st, ok := order.ParseStatus(status)
	if !ok {
		return order.Order{}, fmt.Errorf("order %s has unknown status %q", id, status)
	}
	o.Status = st
	return o, nil
}

// UpdateStatus applies next only when the row still holds expected. Zero
// rows affected means either the status moved on or the order is missing.
func (r *Repository) UpdateStatus(ctx context.Context, id string, expected, next order.Status) (bool, error) {
	if r.DB == nil {
		return false, fmt.Errorf("database not initialized")
	}
	query := `
        UPDATE orders
        SET status = $1, updated_at = CURRENT_TIMESTAMP
        WHERE id = $2 AND status = $3
    `
	res, err := r.DB.ExecContext(ctx, query, string(next), id, string(expected))
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, fmt.Errorf("failed to check order %s: %w", id, err)
		}
		if !exists {
			return false, fmt.Errorf("%w: %s", order.ErrNotFound, id)
		}
		return false, nil
	}
	r.logger.Printf("[DB] Updated order status: %s %s -> %s", id, expected, next)
	return true, nil
}

// InsertOrder inserts or upserts an order row. Used by seeding and tests.
func (r *Repository) InsertOrder(ctx context.Context, o order.Order) error {
	if r.DB == nil {
		return fmt.Errorf("database not initialized")
	}
	query := `
        INSERT INTO orders (id, customer_id, customer_email, status, total_amount)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO UPDATE SET
            customer_id = EXCLUDED.customer_id,
            customer_email = EXCLUDED.customer_email,
            status = EXCLUDED.status,
            total_amount = EXCLUDED.total_amount,
            updated_at = CURRENT_TIMESTAMP
    `
	if _, err := r.DB.ExecContext(ctx, query, o.ID, o.CustomerID, o.CustomerEmail, string(o.Status), o.TotalAmount); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	r.logger.Printf("[DB] Inserted/Updated order: %s", o.ID)
	return nil
}
