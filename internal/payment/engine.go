// Package payment owns the order/payment state machine. Callbacks, polls and
// initiation all funnel through one status-guarded transactional update.
package payment

import (
	"context"
	"time"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/mpesa"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

type Store interface {
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetPaymentForUser(ctx context.Context, id uuid.UUID, userID string) (*domain.Payment, error)
	GetPaymentByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error)
	ListPendingPaymentsForUser(ctx context.Context, userID string) ([]*domain.Payment, error)
	UpdatePayment(ctx context.Context, p *domain.Payment) error
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderForUser(ctx context.Context, id uuid.UUID, userID string) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Gateway is the push-payment provider.
type Gateway interface {
	InitiateSTKPush(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error)
	QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*mpesa.STKQueryResult, error)
}

type ReceiptIssuer interface {
	Issue(ctx context.Context, paymentID uuid.UUID) (*domain.Receipt, error)
}

type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order *domain.Order, payment *domain.Payment) error
}

type EventPublisher interface {
	OrderConfirmed(ctx context.Context, order *domain.Order, payment *domain.Payment) error
	PaymentFailed(ctx context.Context, payment *domain.Payment) error
}

// PollGate limits how often a payment may be queried at the provider.
type PollGate interface {
	Allow(ctx context.Context, paymentID uuid.UUID) (bool, error)
}

type Deps struct {
	Store    Store
	Tx       TxRunner
	Gateway  Gateway
	Receipts ReceiptIssuer
	Notifier Notifier
	Events   EventPublisher
	PollGate PollGate
}

type Config struct {
	// CallbackBaseURL is the public base the provider calls back on.
	CallbackBaseURL string
	// TransactionDesc is shown on the customer's phone prompt.
	TransactionDesc string
	// PollTimeout bounds one provider status query and how long a reader waits for it.
	PollTimeout time.Duration
}

const (
	DefaultPollTimeout = 10 * time.Second

	// maxConcurrentPolls caps provider queries per order-list sweep.
	maxConcurrentPolls = 4
)

type Engine struct {
	store    Store
	tx       TxRunner
	gateway  Gateway
	receipts ReceiptIssuer
	notifier Notifier
	events   EventPublisher
	gate     PollGate
	cfg      Config
	now      func() time.Time

	sfg singleflight.Group
}

func NewEngine(deps Deps, cfg Config) *Engine {
	if cfg.TransactionDesc == "" {
		cfg.TransactionDesc = "Order payment"
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	return &Engine{
		store:    deps.Store,
		tx:       deps.Tx,
		gateway:  deps.Gateway,
		receipts: deps.Receipts,
		notifier: deps.Notifier,
		events:   deps.Events,
		gate:     deps.PollGate,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}
