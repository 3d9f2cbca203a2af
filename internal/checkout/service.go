// Package checkout turns a user's cart into an order and its payment in one transaction.
package checkout

import (
	"context"
	"time"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/google/uuid"
)

type Store interface {
	LockCart(ctx context.Context, userID string) ([]domain.CartLine, error)
	DecrementStock(ctx context.Context, productID int64, qty int) error
	InsertStockLog(ctx context.Context, l domain.StockLog) error
	InsertOrder(ctx context.Context, o *domain.Order) error
	InsertPayment(ctx context.Context, p *domain.Payment) error
	ClearCart(ctx context.Context, userID string) error
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ConfirmationHook runs the post-payment effects for synchronously settled payments.
type ConfirmationHook interface {
	OnPaymentConfirmed(ctx context.Context, paymentID uuid.UUID, source domain.Source)
}

type CheckoutService interface {
	Checkout(ctx context.Context, userID string, req Request) (*Result, error)
}

type Request struct {
	Method    domain.PaymentProvider
	PayerName string
	Shipping  domain.Shipping
}

type Result struct {
	Order   *domain.Order
	Payment *domain.Payment
}

type Service struct {
	store    Store
	tx       TxRunner
	hook     ConfirmationHook
	currency string
	now      func() time.Time
}

func NewService(store Store, tx TxRunner, hook ConfirmationHook, currency string) *Service {
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return &Service{
		store:    store,
		tx:       tx,
		hook:     hook,
		currency: currency,
		now:      func() time.Time { return time.Now().UTC() },
	}
}
