package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fjod/go_shop/internal/archive"
	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/payment"
	"github.com/fjod/go_shop/pkg/logger"
)

// PaymentEngine is the reconciliation engine as seen by the HTTP layer.
type PaymentEngine interface {
	InitiatePush(ctx context.Context, userID string, paymentID uuid.UUID, phone string) (*payment.InitiateResult, error)
	HandleCallback(ctx context.Context, paymentID uuid.UUID, body []byte) (int, error)
	ReconcilePayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	ReconcileOrder(ctx context.Context, userID string, orderID uuid.UUID) (*domain.Payment, error)
	ReconcileUserPayments(ctx context.Context, userID string) error
}

type PaymentReader interface {
	GetPaymentForUser(ctx context.Context, id uuid.UUID, userID string) (*domain.Payment, error)
}

// CallbackArchiver keeps a copy of every inbound callback.
type CallbackArchiver interface {
	Save(ctx context.Context, rec archive.Record) error
}

type PaymentsHandler struct {
	engine      PaymentEngine
	payments    PaymentReader
	archive     CallbackArchiver
	timeout     time.Duration
	maxBodySize int64
}

func NewPaymentsHandler(engine PaymentEngine, payments PaymentReader, archiver CallbackArchiver, timeout time.Duration) *PaymentsHandler {
	return &PaymentsHandler{
		engine:      engine,
		payments:    payments,
		archive:     archiver,
		timeout:     timeout,
		maxBodySize: 1 << 20, // 1MB
	}
}

type InitiateRequestDTO struct {
	PaymentID string `json:"payment_id"`
	Phone     string `json:"phone"`
}

type InitiateResponseDTO struct {
	Payment           *PaymentDTO `json:"payment"`
	AlreadyPaid       bool        `json:"already_paid"`
	CheckoutRequestID string      `json:"checkout_request_id,omitempty"`
	MerchantRequestID string      `json:"merchant_request_id,omitempty"`
	CustomerMessage   string      `json:"customer_message,omitempty"`
}

type CallbackAckDTO struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// POST /api/v1/payments/mpesa/initiate
func (h *PaymentsHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req InitiateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	paymentID, err := uuid.Parse(req.PaymentID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payment_id", "payment_id must be a UUID")
		return
	}
	if req.Phone == "" {
		respondError(w, http.StatusBadRequest, "invalid_phone", "phone is required")
		return
	}

	res, err := h.engine.InitiatePush(ctx, userID, paymentID, req.Phone)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	respondJSON(w, http.StatusOK, InitiateResponseDTO{
		Payment:           convertPayment(res.Payment),
		AlreadyPaid:       res.AlreadyPaid,
		CheckoutRequestID: res.CheckoutRequestID,
		MerchantRequestID: res.MerchantRequestID,
		CustomerMessage:   res.CustomerMessage,
	})
}

// POST /api/v1/payments/mpesa/callback/{payment_id}
func (h *PaymentsHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	paymentID, err := uuid.Parse(chi.URLParam(r, "payment_id"))
	if err != nil {
		handleError(ctx, w, domain.ErrPaymentNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "unreadable body")
		return
	}

	code, err := h.engine.HandleCallback(ctx, paymentID, body)
	h.archiveCallback(ctx, r, paymentID, body, code, err)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	respondJSON(w, http.StatusOK, CallbackAckDTO{ResultCode: code, ResultDesc: "Accepted"})
}

func (h *PaymentsHandler) archiveCallback(ctx context.Context, r *http.Request, paymentID uuid.UUID, body []byte, code int, handleErr error) {
	if h.archive == nil {
		return
	}
	rec := archive.Record{
		PaymentID:  paymentID.String(),
		ReceivedAt: time.Now().UTC(),
		RemoteAddr: remoteIP(r),
		Body:       string(body),
	}
	if handleErr == nil {
		rec.ResultCode = &code
	}
	if err := h.archive.Save(context.WithoutCancel(ctx), rec); err != nil {
		logger.FromContext(ctx).Warn("archive callback", "payment_id", paymentID, "error", err)
	}
}

// GET /api/v1/payments/{payment_id}/status
func (h *PaymentsHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	paymentID, err := uuid.Parse(chi.URLParam(r, "payment_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payment_id", "payment_id must be a UUID")
		return
	}

	p, err := h.payments.GetPaymentForUser(ctx, paymentID, userID)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	reconciled, err := h.engine.ReconcilePayment(ctx, p.ID)
	switch {
	case err == nil:
		p = reconciled
	case errors.Is(err, domain.ErrNotFound):
		handleError(ctx, w, err)
		return
	default:
		logger.FromContext(ctx).Warn("reconcile payment", "payment_id", p.ID, "error", err)
	}

	respondJSON(w, http.StatusOK, convertPayment(p))
}
