package payment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/mpesa"
	"github.com/fjod/go_shop/internal/receipt"
	"github.com/fjod/go_shop/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu          sync.Mutex
	pushes      []mpesa.STKPushRequest
	queries     int
	pushResp    *mpesa.STKPushResponse
	pushErr     error
	queryRes    *mpesa.STKQueryResult
	queryErr    error
	beforeQuery func()
	// hang makes queries block until their context ends.
	hang bool
}

func (g *fakeGateway) InitiateSTKPush(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes = append(g.pushes, req)
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	if g.pushResp != nil {
		return g.pushResp, nil
	}
	return &mpesa.STKPushResponse{
		MerchantRequestID:   "29115-34620561-1",
		CheckoutRequestID:   "ws_CO_NEW",
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}, nil
}

func (g *fakeGateway) QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*mpesa.STKQueryResult, error) {
	g.mu.Lock()
	g.queries++
	hook, hang := g.beforeQuery, g.hang
	res, err := g.queryRes, g.queryErr
	g.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if hook != nil {
		hook()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	cp := *res
	return &cp, nil
}

func (g *fakeGateway) queryCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queries
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []uuid.UUID
	err  error
}

func (n *fakeNotifier) SendOrderConfirmation(ctx context.Context, order *domain.Order, p *domain.Payment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, order.ID)
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakeEvents struct {
	mu        sync.Mutex
	confirmed int
	failed    int
}

func (f *fakeEvents) OrderConfirmed(ctx context.Context, order *domain.Order, p *domain.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed++
	return nil
}

func (f *fakeEvents) PaymentFailed(ctx context.Context, p *domain.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed++
	return errors.New("broker down")
}

type fakeGate struct {
	allow bool
	err   error
}

func (g fakeGate) Allow(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	return g.allow, g.err
}

type harness struct {
	store    *memory.Store
	gateway  *fakeGateway
	notifier *fakeNotifier
	events   *fakeEvents
	engine   *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore()
	h := &harness{
		store:    store,
		gateway:  &fakeGateway{},
		notifier: &fakeNotifier{},
		events:   &fakeEvents{},
	}
	h.engine = NewEngine(Deps{
		Store:    store,
		Tx:       store,
		Gateway:  h.gateway,
		Receipts: receipt.NewIssuer(store, store),
		Notifier: h.notifier,
		Events:   h.events,
	}, Config{CallbackBaseURL: "https://shop.example.com"})
	return h
}

// seed creates a user order with a payment in the given status. A non-empty
// checkoutID marks the push as already sent.
func (h *harness) seed(t *testing.T, userID string, status domain.PaymentStatus, checkoutID string) (*domain.Order, *domain.Payment) {
	t.Helper()
	ctx := context.Background()
	orderStatus := domain.OrderStatusPendingPayment
	if status == domain.PaymentStatusSuccess {
		orderStatus = domain.OrderStatusConfirmed
	}
	order := &domain.Order{
		ID:         uuid.New(),
		UserID:     userID,
		Status:     orderStatus,
		TotalCents: 129999,
		Currency:   "KES",
		Shipping:   domain.Shipping{Name: "Jane Doe", Phone: "0712345678", Email: "jane@example.com", Address: "Nairobi"},
		Items: []domain.OrderItem{
			{ProductID: 1, ProductName: "Laptop", Quantity: 1, UnitPriceCents: 129999, SubtotalCents: 129999},
		},
	}
	p := &domain.Payment{
		ID:          uuid.New(),
		OrderID:     order.ID,
		Provider:    domain.ProviderMpesa,
		Status:      status,
		AmountCents: order.TotalCents,
	}
	p.Meta.Mpesa.RequestedPayerName = "Jane Doe"
	p.Meta.Mpesa.CheckoutRequestID = checkoutID
	if status == domain.PaymentStatusSuccess {
		p.SetRef("PAID0001")
	}
	require.NoError(t, h.store.InsertOrder(ctx, order))
	require.NoError(t, h.store.InsertPayment(ctx, p))
	return order, p
}

func (h *harness) payment(t *testing.T, id uuid.UUID) *domain.Payment {
	t.Helper()
	p, err := h.store.GetPayment(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (h *harness) order(t *testing.T, id uuid.UUID) *domain.Order {
	t.Helper()
	o, err := h.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}

func eventKinds(p *domain.Payment) []domain.MetaEventKind {
	kinds := make([]domain.MetaEventKind, 0, len(p.Meta.Mpesa.Events))
	for _, e := range p.Meta.Mpesa.Events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func intPtr(v int) *int { return &v }
