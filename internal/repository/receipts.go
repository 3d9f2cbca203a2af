package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const receiptColumns = `id, receipt_number, payment_id, order_id, payer_name, payer_phone, payer_name_source,
	subtotal_cents, tax_cents, shipping_fee_cents, total_cents, currency, items, meta, issued_at`

// InsertReceipt maps unique violations to ErrReceiptNumberTaken or ErrReceiptExists
// depending on the constraint hit.
func (r *Repository) InsertReceipt(ctx context.Context, rc *domain.Receipt) error {
	itemsJSON, err := json.Marshal(rc.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt items: %w", err)
	}
	metaJSON, err := json.Marshal(rc.Meta)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt meta: %w", err)
	}

	query := `INSERT INTO receipts (` + receiptColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, insertErr := r.conn(ctx).ExecContext(ctx, query,
		rc.ID,
		rc.Number,
		rc.PaymentID,
		rc.OrderID,
		rc.Payer.Name,
		rc.Payer.Phone,
		rc.Payer.Source,
		rc.SubtotalCents,
		rc.TaxCents,
		rc.ShippingFeeCents,
		rc.TotalCents,
		rc.Currency,
		itemsJSON,
		metaJSON,
		rc.IssuedAt,
	)
	if insertErr != nil {
		var pqErr *pq.Error
		if errors.As(insertErr, &pqErr) && pqErr.Code == "23505" {
			if pqErr.Constraint == "receipts_receipt_number_key" {
				return domain.ErrReceiptNumberTaken
			}
			return domain.ErrReceiptExists
		}
		return fmt.Errorf("insert receipt: %w", insertErr)
	}
	return nil
}

func (r *Repository) getReceipt(ctx context.Context, query string, arg any) (*domain.Receipt, error) {
	var (
		rc        domain.Receipt
		itemsJSON []byte
		metaJSON  []byte
	)
	err := r.conn(ctx).QueryRowContext(ctx, query, arg).Scan(
		&rc.ID,
		&rc.Number,
		&rc.PaymentID,
		&rc.OrderID,
		&rc.Payer.Name,
		&rc.Payer.Phone,
		&rc.Payer.Source,
		&rc.SubtotalCents,
		&rc.TaxCents,
		&rc.ShippingFeeCents,
		&rc.TotalCents,
		&rc.Currency,
		&itemsJSON,
		&metaJSON,
		&rc.IssuedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query receipt: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &rc.Items); err != nil {
		return nil, fmt.Errorf("unmarshal receipt items: %w", err)
	}
	if err := json.Unmarshal(metaJSON, &rc.Meta); err != nil {
		return nil, fmt.Errorf("unmarshal receipt meta: %w", err)
	}
	return &rc, nil
}

func (r *Repository) GetReceiptByPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Receipt, error) {
	return r.getReceipt(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE payment_id = $1`, paymentID)
}

func (r *Repository) GetReceiptByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Receipt, error) {
	return r.getReceipt(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE order_id = $1`, orderID)
}
