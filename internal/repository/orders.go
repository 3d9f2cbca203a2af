package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/google/uuid"
)

const orderColumns = `id, user_id, status, total_cents, currency, shipping_name, shipping_phone, shipping_email, shipping_address, created_at, updated_at`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.Status,
		&o.TotalCents,
		&o.Currency,
		&o.Shipping.Name,
		&o.Shipping.Phone,
		&o.Shipping.Email,
		&o.Shipping.Address,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// InsertOrder inserts the order row and its line snapshot.
func (r *Repository) InsertOrder(ctx context.Context, o *domain.Order) error {
	query := `INSERT INTO orders (id, user_id, status, total_cents, currency, shipping_name, shipping_phone, shipping_email, shipping_address, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	          RETURNING created_at, updated_at`

	c := r.conn(ctx)
	err := c.QueryRowContext(ctx, query,
		o.ID,
		o.UserID,
		o.Status,
		o.TotalCents,
		o.Currency,
		o.Shipping.Name,
		o.Shipping.Phone,
		o.Shipping.Email,
		o.Shipping.Address,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	itemQuery := `INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price_cents, subtotal_cents)
	              VALUES ($1, $2, $3, $4, $5, $6)`
	for _, it := range o.Items {
		if _, err := c.ExecContext(ctx, itemQuery,
			o.ID, it.ProductID, it.ProductName, it.Quantity, it.UnitPriceCents, it.SubtotalCents); err != nil {
			return fmt.Errorf("insert order item %d: %w", it.ProductID, err)
		}
	}
	return nil
}

func (r *Repository) loadItems(ctx context.Context, o *domain.Order) error {
	query := `SELECT product_id, product_name, quantity, unit_price_cents, subtotal_cents
	          FROM order_items WHERE order_id = $1 ORDER BY id`

	rows, err := r.conn(ctx).QueryContext(ctx, query, o.ID)
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	o.Items = make([]domain.OrderItem, 0)
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPriceCents, &it.SubtotalCents); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (r *Repository) getOrder(ctx context.Context, query string, args ...any) (*domain.Order, error) {
	o, err := scanOrder(r.conn(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *Repository) GetOrderForUser(ctx context.Context, id uuid.UUID, userID string) (*domain.Order, error) {
	return r.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND user_id = $2`, id, userID)
}

func (r *Repository) ListOrdersForUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.conn(ctx).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders by user id: %w", err)
	}

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	rows.Close()

	for _, o := range orders {
		if err := r.loadItems(ctx, o); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *Repository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error {
	res, err := r.conn(ctx).ExecContext(ctx,
		`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// GetUserName returns the account holder name, or "" when the user row is absent.
func (r *Repository) GetUserName(ctx context.Context, userID string) (string, error) {
	var name string
	err := r.conn(ctx).QueryRowContext(ctx, `SELECT name FROM users WHERE id = $1`, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query user name: %w", err)
	}
	return name, nil
}

func (r *Repository) UpsertUser(ctx context.Context, id, name, email string) error {
	_, err := r.conn(ctx).ExecContext(ctx,
		`INSERT INTO users (id, name, email) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email`, id, name, email)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}
