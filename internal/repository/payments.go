package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/google/uuid"
)

const paymentColumns = `p.id, p.order_id, p.provider, p.status, p.amount_cents, p.transaction_ref, p.meta, p.created_at, p.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p       domain.Payment
		ref     sql.NullString
		metaRaw []byte
	)
	if err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.Provider,
		&p.Status,
		&p.AmountCents,
		&ref,
		&metaRaw,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if ref.Valid {
		p.SetRef(ref.String)
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &p.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal payment meta: %w", err)
		}
	}
	return &p, nil
}

func (r *Repository) getPayment(ctx context.Context, query string, args ...any) (*domain.Payment, error) {
	p, err := scanPayment(r.conn(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query payment: %w", err)
	}
	return p, nil
}

func (r *Repository) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return r.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.id = $1`, id)
}

// GetPaymentForUpdate locks the payment row until the surrounding transaction ends.
func (r *Repository) GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return r.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.id = $1 FOR UPDATE`, id)
}

func (r *Repository) GetPaymentForUser(ctx context.Context, id uuid.UUID, userID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + `
	          FROM payments p JOIN orders o ON o.id = p.order_id
	          WHERE p.id = $1 AND o.user_id = $2`
	return r.getPayment(ctx, query, id, userID)
}

func (r *Repository) GetPaymentByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	return r.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.order_id = $1`, orderID)
}

// ListPendingPaymentsForUser returns the user's PENDING payments, oldest first.
func (r *Repository) ListPendingPaymentsForUser(ctx context.Context, userID string) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + `
	          FROM payments p JOIN orders o ON o.id = p.order_id
	          WHERE o.user_id = $1 AND p.status = $2
	          ORDER BY p.created_at`

	rows, err := r.conn(ctx).QueryContext(ctx, query, userID, domain.PaymentStatusPending)
	if err != nil {
		return nil, fmt.Errorf("query pending payments: %w", err)
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}
	return payments, nil
}

func (r *Repository) InsertPayment(ctx context.Context, p *domain.Payment) error {
	metaJSON, err := json.Marshal(p.Meta)
	if err != nil {
		return fmt.Errorf("failed to marshal payment meta: %w", err)
	}

	query := `INSERT INTO payments (id, order_id, provider, status, amount_cents, transaction_ref, meta, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	          RETURNING created_at, updated_at`

	err = r.conn(ctx).QueryRowContext(ctx, query,
		p.ID,
		p.OrderID,
		p.Provider,
		p.Status,
		p.AmountCents,
		p.TransactionRef,
		metaJSON,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// UpdatePayment writes the mutable payment fields: status, transaction reference and meta.
func (r *Repository) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	metaJSON, err := json.Marshal(p.Meta)
	if err != nil {
		return fmt.Errorf("failed to marshal payment meta: %w", err)
	}

	query := `UPDATE payments SET status = $2, transaction_ref = $3, meta = $4, updated_at = NOW()
	          WHERE id = $1
	          RETURNING updated_at`

	err = r.conn(ctx).QueryRowContext(ctx, query, p.ID, p.Status, p.TransactionRef, metaJSON).Scan(&p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrPaymentNotFound
	}
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}
