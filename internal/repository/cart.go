package repository

import (
	"context"
	"fmt"

	"github.com/fjod/go_shop/internal/domain"
)

// LockCart returns the user's cart joined with product rows, locking those products
// so concurrent checkouts of the same stock serialize.
func (r *Repository) LockCart(ctx context.Context, userID string) ([]domain.CartLine, error) {
	query := `SELECT p.id, p.name, p.price_cents, c.quantity, p.stock
	          FROM cart_items c JOIN products p ON p.id = c.product_id
	          WHERE c.user_id = $1
	          ORDER BY p.id
	          FOR UPDATE OF p`

	rows, err := r.conn(ctx).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.ProductID, &l.ProductName, &l.PriceCents, &l.Quantity, &l.Stock); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// DecrementStock fails with ErrInsufficientStock instead of letting stock go negative.
func (r *Repository) DecrementStock(ctx context.Context, productID int64, qty int) error {
	res, err := r.conn(ctx).ExecContext(ctx,
		`UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`, productID, qty)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("product %d: %w", productID, domain.ErrInsufficientStock)
	}
	return nil
}

func (r *Repository) InsertStockLog(ctx context.Context, l domain.StockLog) error {
	_, err := r.conn(ctx).ExecContext(ctx,
		`INSERT INTO stock_logs (product_id, delta, reason) VALUES ($1, $2, $3)`, l.ProductID, l.Delta, l.Reason)
	if err != nil {
		return fmt.Errorf("insert stock log: %w", err)
	}
	return nil
}

func (r *Repository) ClearCart(ctx context.Context, userID string) error {
	if _, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// The calls below back seeding and tests; catalog and cart CRUD live elsewhere.

func (r *Repository) CreateProduct(ctx context.Context, name string, priceCents int64, stock int) (int64, error) {
	var id int64
	err := r.conn(ctx).QueryRowContext(ctx,
		`INSERT INTO products (name, price_cents, stock) VALUES ($1, $2, $3) RETURNING id`,
		name, priceCents, stock).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert product: %w", err)
	}
	return id, nil
}

func (r *Repository) ProductStock(ctx context.Context, productID int64) (int, error) {
	var stock int
	if err := r.conn(ctx).QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock); err != nil {
		return 0, fmt.Errorf("query stock: %w", err)
	}
	return stock, nil
}

func (r *Repository) AddCartItem(ctx context.Context, userID string, productID int64, qty int) error {
	_, err := r.conn(ctx).ExecContext(ctx,
		`INSERT INTO cart_items (user_id, product_id, quantity) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, product_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
		userID, productID, qty)
	if err != nil {
		return fmt.Errorf("add cart item: %w", err)
	}
	return nil
}

func (r *Repository) StockLogs(ctx context.Context, productID int64) ([]domain.StockLog, error) {
	rows, err := r.conn(ctx).QueryContext(ctx,
		`SELECT product_id, delta, reason FROM stock_logs WHERE product_id = $1 ORDER BY id`, productID)
	if err != nil {
		return nil, fmt.Errorf("query stock logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.StockLog
	for rows.Next() {
		var l domain.StockLog
		if err := rows.Scan(&l.ProductID, &l.Delta, &l.Reason); err != nil {
			return nil, fmt.Errorf("scan stock log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
