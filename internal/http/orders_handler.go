package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/pkg/logger"
)

type OrderReader interface {
	GetOrderForUser(ctx context.Context, id uuid.UUID, userID string) (*domain.Order, error)
	ListOrdersForUser(ctx context.Context, userID string) ([]*domain.Order, error)
	GetPaymentByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error)
}

type ReceiptIssuer interface {
	Issue(ctx context.Context, paymentID uuid.UUID) (*domain.Receipt, error)
}

type OrdersHandler struct {
	orders   OrderReader
	engine   PaymentEngine
	receipts ReceiptIssuer
	timeout  time.Duration
}

func NewOrdersHandler(orders OrderReader, engine PaymentEngine, receipts ReceiptIssuer, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		orders:   orders,
		engine:   engine,
		receipts: receipts,
		timeout:  timeout,
	}
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	if err := h.engine.ReconcileUserPayments(ctx, userID); err != nil {
		logger.FromContext(ctx).Warn("reconcile user payments", "user_id", userID, "error", err)
	}

	orders, err := h.orders.ListOrdersForUser(ctx, userID)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	dtos := make([]OrderResponseDTO, 0, len(orders))
	for _, o := range orders {
		p, err := h.orders.GetPaymentByOrder(ctx, o.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			handleError(ctx, w, err)
			return
		}
		dtos = append(dtos, convertOrder(o, p))
	}

	respondJSON(w, http.StatusOK, dtos)
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return
	}

	p, err := h.engine.ReconcileOrder(ctx, userID, orderID)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	order, err := h.orders.GetOrderForUser(ctx, orderID, userID)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	respondJSON(w, http.StatusOK, convertOrder(order, p))
}

// GET /api/v1/orders/{order_id}/receipt
func (h *OrdersHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return
	}

	p, err := h.engine.ReconcileOrder(ctx, userID, orderID)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	rc, err := h.receipts.Issue(ctx, p.ID)
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	if rc == nil {
		handleError(ctx, w, domain.ErrReceiptNotFound)
		return
	}

	respondJSON(w, http.StatusOK, convertReceipt(rc))
}
