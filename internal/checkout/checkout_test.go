package checkout

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/payment"
	"github.com/fjod/go_shop/internal/receipt"
	"github.com/fjod/go_shop/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHook struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (h *recordingHook) OnPaymentConfirmed(ctx context.Context, paymentID uuid.UUID, source domain.Source) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, paymentID)
}

var shipping = domain.Shipping{Name: "Jane Doe", Phone: "0712345678", Email: "jane@example.com", Address: "Moi Avenue, Nairobi"}

func setup(t *testing.T) (*memory.Store, *Service, *recordingHook) {
	t.Helper()
	store := memory.NewStore()
	hook := &recordingHook{}
	return store, NewService(store, store, hook, ""), hook
}

func addProduct(t *testing.T, store *memory.Store, user string, price int64, stock, qty int) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := store.CreateProduct(ctx, "Product", price, stock)
	require.NoError(t, err)
	require.NoError(t, store.AddCartItem(ctx, user, id, qty))
	return id
}

func TestCheckout_MpesaCreatesPendingOrder(t *testing.T) {
	store, svc, hook := setup(t)
	ctx := context.Background()
	p1 := addProduct(t, store, "user-1", 100000, 5, 2)
	p2 := addProduct(t, store, "user-1", 29999, 1, 1)

	res, err := svc.Checkout(ctx, "user-1", Request{Method: domain.ProviderMpesa, PayerName: "  John Kamau ", Shipping: shipping})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPendingPayment, res.Order.Status)
	assert.Equal(t, int64(229999), res.Order.TotalCents)
	assert.Equal(t, "KES", res.Order.Currency)
	require.Len(t, res.Order.Items, 2)

	assert.Equal(t, domain.PaymentStatusPending, res.Payment.Status)
	assert.Nil(t, res.Payment.TransactionRef)
	assert.Equal(t, "John Kamau", res.Payment.Meta.Mpesa.RequestedPayerName)
	assert.Equal(t, domain.NameFromCheckout, res.Payment.Meta.Mpesa.RequestedNameFrom)

	stock, err := store.ProductStock(ctx, p1)
	require.NoError(t, err)
	assert.Equal(t, 3, stock)
	stock, err = store.ProductStock(ctx, p2)
	require.NoError(t, err)
	assert.Equal(t, 0, stock)

	logs, err := store.StockLogs(ctx, p1)
	require.NoError(t, err)
	assert.Equal(t, []domain.StockLog{{ProductID: p1, Delta: -2, Reason: res.Order.ID.String()}}, logs)

	assert.Equal(t, 0, store.CartSize("user-1"))
	assert.Empty(t, hook.calls)

	stored, err := store.GetPaymentByOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Payment.ID, stored.ID)
}

func TestCheckout_CardSettlesImmediately(t *testing.T) {
	store, svc, hook := setup(t)
	addProduct(t, store, "user-1", 5000, 10, 3)

	res, err := svc.Checkout(context.Background(), "user-1", Request{Method: domain.ProviderCard, Shipping: shipping})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusConfirmed, res.Order.Status)
	assert.Equal(t, domain.PaymentStatusSuccess, res.Payment.Status)
	assert.Regexp(t, regexp.MustCompile(`^CARD-\d+-[0-9a-f]{6}$`), res.Payment.Ref())
	assert.Equal(t, "Jane Doe", res.Payment.Meta.Mpesa.RequestedPayerName)
	assert.Equal(t, domain.NameFromShipping, res.Payment.Meta.Mpesa.RequestedNameFrom)
	assert.Equal(t, []uuid.UUID{res.Payment.ID}, hook.calls)
}

func TestCheckout_InsufficientStockRollsBackEverything(t *testing.T) {
	store, svc, _ := setup(t)
	ctx := context.Background()
	ok := addProduct(t, store, "user-1", 1000, 10, 2)
	short := addProduct(t, store, "user-1", 1000, 1, 2)

	_, err := svc.Checkout(ctx, "user-1", Request{Method: domain.ProviderMpesa, PayerName: "Jane", Shipping: shipping})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.ErrorIs(t, err, domain.ErrConflict)

	stock, _ := store.ProductStock(ctx, ok)
	assert.Equal(t, 10, stock)
	stock, _ = store.ProductStock(ctx, short)
	assert.Equal(t, 1, stock)
	logs, _ := store.StockLogs(ctx, ok)
	assert.Empty(t, logs)

	orders, err := store.ListOrdersForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, 2, store.CartSize("user-1"))
}

func TestCheckout_Validation(t *testing.T) {
	store, svc, _ := setup(t)
	addProduct(t, store, "user-1", 1000, 10, 1)

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"unknown method", Request{Method: "PAYPAL", Shipping: shipping}, domain.ErrValidation},
		{"mpesa without payer name", Request{Method: domain.ProviderMpesa, PayerName: "   ", Shipping: shipping}, domain.ErrPayerNameRequired},
		{"missing shipping email", Request{Method: domain.ProviderCard, Shipping: domain.Shipping{Name: "Jane", Phone: "0712345678", Address: "Nairobi"}}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Checkout(context.Background(), "user-1", tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, 1, store.CartSize("user-1"))
}

func TestCheckout_EmptyCart(t *testing.T) {
	_, svc, _ := setup(t)
	_, err := svc.Checkout(context.Background(), "user-1", Request{Method: domain.ProviderCard, Shipping: shipping})
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
}

func TestCheckout_PriceSnapshotIsFixed(t *testing.T) {
	store, svc, _ := setup(t)
	ctx := context.Background()
	pid := addProduct(t, store, "user-1", 2500, 10, 2)

	res, err := svc.Checkout(ctx, "user-1", Request{Method: domain.ProviderMpesa, PayerName: "Jane", Shipping: shipping})
	require.NoError(t, err)

	store.SetProductPrice(ctx, pid, 9900)

	order, err := store.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), order.Items[0].UnitPriceCents)
	assert.Equal(t, int64(5000), order.Items[0].SubtotalCents)
	assert.Equal(t, int64(5000), order.TotalCents)
}

func TestCheckout_ConcurrentBuyersNeverOversell(t *testing.T) {
	store, svc, _ := setup(t)
	ctx := context.Background()
	pid, err := store.CreateProduct(ctx, "Last one", 1000, 1)
	require.NoError(t, err)

	const buyers = 8
	users := make([]string, 0, buyers)
	for i := 0; i < buyers; i++ {
		u := uuid.NewString()
		require.NoError(t, store.AddCartItem(ctx, u, pid, 1))
		users = append(users, u)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	start := make(chan struct{})
	for _, u := range users {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			<-start
			_, err := svc.Checkout(ctx, user, Request{Method: domain.ProviderCard, Shipping: shipping})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		}(u)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	stock, err := store.ProductStock(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, 0, stock)
}

func TestCheckout_CardIssuesReceiptThroughEngine(t *testing.T) {
	store := memory.NewStore()
	engine := payment.NewEngine(payment.Deps{
		Store:    store,
		Tx:       store,
		Receipts: receipt.NewIssuer(store, store),
	}, payment.Config{})
	svc := NewService(store, store, engine, "KES")
	addProduct(t, store, "user-1", 150000, 2, 1)

	res, err := svc.Checkout(context.Background(), "user-1", Request{Method: domain.ProviderCard, Shipping: shipping})
	require.NoError(t, err)

	rc, err := store.GetReceiptByOrder(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Payment.ID, rc.PaymentID)
	assert.Equal(t, int64(150000), rc.TotalCents)
	assert.Equal(t, "Jane Doe", rc.Payer.Name)
	assert.Equal(t, domain.RefSynthesized, rc.Meta.RefSource)
}
