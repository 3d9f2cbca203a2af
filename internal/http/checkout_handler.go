package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_shop/internal/checkout"
	"github.com/fjod/go_shop/internal/domain"
)

type CheckoutHandler struct {
	service checkout.CheckoutService
	timeout time.Duration
}

func NewCheckoutHandler(service checkout.CheckoutService, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		service: service,
		timeout: timeout,
	}
}

type CheckoutRequestDTO struct {
	PaymentMethod string      `json:"payment_method"`
	PayerName     string      `json:"payer_name"`
	Shipping      ShippingDTO `json:"shipping"`
}

type CheckoutResponseDTO struct {
	Order   OrderResponseDTO `json:"order"`
	Payment *PaymentDTO      `json:"payment"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	res, err := h.service.Checkout(ctx, userID, checkout.Request{
		Method:    domain.PaymentProvider(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		PayerName: req.PayerName,
		Shipping: domain.Shipping{
			Name:    req.Shipping.Name,
			Phone:   req.Shipping.Phone,
			Email:   req.Shipping.Email,
			Address: req.Shipping.Address,
		},
	})
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	respondJSON(w, http.StatusCreated, CheckoutResponseDTO{
		Order:   convertOrder(res.Order, nil),
		Payment: convertPayment(res.Payment),
	})
}
