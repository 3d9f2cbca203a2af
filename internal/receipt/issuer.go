// Package receipt issues exactly one receipt per successful payment.
package receipt

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/pkg/logger"
	"github.com/google/uuid"
)

// DefaultMaxAttempts bounds receipt number regeneration after a collision.
const DefaultMaxAttempts = 5

const unknownPayer = "Unknown"

type Store interface {
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetReceiptByPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Receipt, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetUserName(ctx context.Context, userID string) (string, error)
	InsertReceipt(ctx context.Context, r *domain.Receipt) error
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Issuer struct {
	store       Store
	tx          TxRunner
	maxAttempts int
	newNumber   func(now time.Time) (string, error)
	now         func() time.Time
}

type Option func(*Issuer)

func WithMaxAttempts(n int) Option {
	return func(i *Issuer) {
		if n > 0 {
			i.maxAttempts = n
		}
	}
}

// WithNumberGenerator replaces the random receipt number source.
func WithNumberGenerator(fn func(now time.Time) (string, error)) Option {
	return func(i *Issuer) { i.newNumber = fn }
}

func NewIssuer(store Store, tx TxRunner, opts ...Option) *Issuer {
	i := &Issuer{
		store:       store,
		tx:          tx,
		maxAttempts: DefaultMaxAttempts,
		newNumber:   NewNumber,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue returns the payment's receipt, creating it on first call. A payment that is not
// SUCCESS yields (nil, nil) so callers may invoke it speculatively.
func (i *Issuer) Issue(ctx context.Context, paymentID uuid.UUID) (*domain.Receipt, error) {
	p, err := i.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PaymentStatusSuccess {
		return nil, nil
	}

	existing, err := i.store.GetReceiptByPayment(ctx, paymentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrReceiptNotFound) {
		return nil, fmt.Errorf("lookup receipt: %w", err)
	}

	for attempt := 1; attempt <= i.maxAttempts; attempt++ {
		issued, err := i.tryIssue(ctx, paymentID, attempt)
		switch {
		case err == nil:
			return issued, nil
		case errors.Is(err, domain.ErrReceiptNumberTaken):
			logger.FromContext(ctx).Warn("receipt number collision, regenerating",
				"payment_id", paymentID, "attempt", attempt)
			continue
		case errors.Is(err, domain.ErrReceiptExists):
			// another issuer won the insert
			return i.store.GetReceiptByPayment(ctx, paymentID)
		default:
			return nil, fmt.Errorf("issue receipt for payment %s: %w", paymentID, err)
		}
	}
	return nil, fmt.Errorf("payment %s after %d attempts: %w", paymentID, i.maxAttempts, domain.ErrReceiptNumberExhausted)
}

func (i *Issuer) tryIssue(ctx context.Context, paymentID uuid.UUID, attempt int) (*domain.Receipt, error) {
	var issued *domain.Receipt
	err := i.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := i.store.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != domain.PaymentStatusSuccess {
			return nil
		}
		existing, err := i.store.GetReceiptByPayment(ctx, paymentID)
		if err == nil {
			issued = existing
			return nil
		}
		if !errors.Is(err, domain.ErrReceiptNotFound) {
			return err
		}

		order, err := i.store.GetOrder(ctx, p.OrderID)
		if err != nil {
			return err
		}
		accountName, err := i.store.GetUserName(ctx, order.UserID)
		if err != nil {
			return err
		}

		now := i.now().UTC()
		number, err := i.newNumber(now)
		if err != nil {
			return fmt.Errorf("generate receipt number: %w", err)
		}

		rc := Build(p, order, accountName)
		rc.ID = uuid.New()
		rc.Number = number
		rc.IssuedAt = now
		rc.Meta.Attempts = attempt
		if err := i.store.InsertReceipt(ctx, rc); err != nil {
			return err
		}
		issued = rc
		return nil
	})
	return issued, err
}

// Build snapshots the financial and itemized state of a paid order.
func Build(p *domain.Payment, order *domain.Order, accountName string) *domain.Receipt {
	items := make([]domain.ReceiptItem, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, domain.ReceiptItem{
			ProductID:      it.ProductID,
			ProductName:    it.ProductName,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
			SubtotalCents:  it.SubtotalCents,
		})
	}

	subtotal := order.ItemsSubtotal()
	shipping := order.TotalCents - subtotal
	if shipping < 0 {
		shipping = 0
	}
	currency := order.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	rc := &domain.Receipt{
		PaymentID:        p.ID,
		OrderID:          order.ID,
		Payer:            ResolvePayer(p, order, accountName),
		SubtotalCents:    subtotal,
		TaxCents:         0,
		ShippingFeeCents: shipping,
		TotalCents:       order.TotalCents,
		Currency:         currency,
		Items:            items,
		Meta: domain.ReceiptMeta{
			Provider:       p.Provider,
			TransactionRef: p.Ref(),
		},
	}
	if ev, ok := p.Meta.Mpesa.LastEvent(domain.EventStatusChanged); ok && ev.To == domain.PaymentStatusSuccess {
		rc.Meta.RefSource = ev.RefSource
	}
	return rc
}

// ResolvePayer picks the payer name by priority: callback names, declared name,
// shipping name, account holder name, then unknown.
func ResolvePayer(p *domain.Payment, order *domain.Order, accountName string) domain.Payer {
	mp := p.Meta.Mpesa
	phone := firstNonEmpty(phoneOf(mp.Payer), mp.Phone, order.Shipping.Phone)

	if name := mp.Payer.FullName(); name != "" {
		return domain.Payer{Name: name, Phone: phone, Source: domain.NameFromMpesaCallback}
	}
	if name := strings.TrimSpace(mp.RequestedPayerName); name != "" {
		src := mp.RequestedNameFrom
		if src == "" {
			src = domain.NameFromCheckout
		}
		return domain.Payer{Name: name, Phone: phone, Source: src}
	}
	if name := strings.TrimSpace(order.Shipping.Name); name != "" {
		return domain.Payer{Name: name, Phone: phone, Source: domain.NameFromShipping}
	}
	if name := strings.TrimSpace(accountName); name != "" {
		return domain.Payer{Name: name, Phone: phone, Source: domain.NameFromAccount}
	}
	return domain.Payer{Name: unknownPayer, Phone: phone, Source: domain.NameUnknown}
}

func phoneOf(p *domain.PayerNames) string {
	if p == nil {
		return ""
	}
	return p.Phone
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// numberAlphabet leaves out characters that are easy to misread.
const numberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewNumber returns RCT-YYYYMMDD-XXXXXX with a random suffix.
func NewNumber(now time.Time) (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = numberAlphabet[int(b)%len(numberAlphabet)]
	}
	return fmt.Sprintf("RCT-%s-%s", now.Format("20060102"), buf), nil
}
