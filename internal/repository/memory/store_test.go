package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInTx_RollsBackEverything(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	pid, _ := s.CreateProduct(ctx, "Laptop", 1000, 5)
	require.NoError(t, s.AddCartItem(ctx, "u1", pid, 2))

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.DecrementStock(ctx, pid, 2))
		require.NoError(t, s.InsertOrder(ctx, &domain.Order{ID: uuid.New(), UserID: "u1"}))
		require.NoError(t, s.ClearCart(ctx, "u1"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stock, _ := s.ProductStock(ctx, pid)
	assert.Equal(t, 5, stock)
	assert.Equal(t, 1, s.CartSize("u1"))
	orders, _ := s.ListOrdersForUser(ctx, "u1")
	assert.Empty(t, orders)
}

func TestRunInTx_NestedJoinsOuter(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	pid, _ := s.CreateProduct(ctx, "Laptop", 1000, 5)

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		return s.RunInTx(ctx, func(ctx context.Context) error {
			return s.DecrementStock(ctx, pid, 1)
		})
	})
	require.NoError(t, err)

	stock, _ := s.ProductStock(ctx, pid)
	assert.Equal(t, 4, stock)
}

func TestInsertReceipt_Uniqueness(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	payment, order := uuid.New(), uuid.New()

	require.NoError(t, s.InsertReceipt(ctx, &domain.Receipt{ID: uuid.New(), Number: "N1", PaymentID: payment, OrderID: order}))
	assert.ErrorIs(t, s.InsertReceipt(ctx, &domain.Receipt{ID: uuid.New(), Number: "N2", PaymentID: payment, OrderID: order}), domain.ErrReceiptExists)
	assert.ErrorIs(t, s.InsertReceipt(ctx, &domain.Receipt{ID: uuid.New(), Number: "N1", PaymentID: uuid.New(), OrderID: uuid.New()}), domain.ErrReceiptNumberTaken)
	assert.Equal(t, 1, s.ReceiptCount())
}

func TestPaymentsAreCopied(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	p := &domain.Payment{ID: uuid.New(), OrderID: uuid.New(), Status: domain.PaymentStatusPending}
	require.NoError(t, s.InsertPayment(ctx, p))

	got, err := s.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	got.Status = domain.PaymentStatusSuccess

	again, _ := s.GetPayment(ctx, p.ID)
	assert.Equal(t, domain.PaymentStatusPending, again.Status)
}
