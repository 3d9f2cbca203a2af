package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/mpesa"
	"github.com/fjod/go_shop/internal/payment"
)

// --- helper ---

func withUser(r *http.Request) *http.Request {
	return r.WithContext(withUserID(r.Context(), "user-1"))
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

type failingEngine struct {
	err error
}

func (e failingEngine) InitiatePush(ctx context.Context, userID string, paymentID uuid.UUID, phone string) (*payment.InitiateResult, error) {
	return nil, e.err
}

func (e failingEngine) HandleCallback(ctx context.Context, paymentID uuid.UUID, body []byte) (int, error) {
	return 0, e.err
}

func (e failingEngine) ReconcilePayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	return nil, e.err
}

func (e failingEngine) ReconcileOrder(ctx context.Context, userID string, orderID uuid.UUID) (*domain.Payment, error) {
	return nil, e.err
}

func (e failingEngine) ReconcileUserPayments(ctx context.Context, userID string) error {
	return e.err
}

// --- tests ---

func TestHandleError_Mapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", domain.ErrInvalidPhone, http.StatusBadRequest, "invalid_argument"},
		{"not found", domain.ErrOrderNotFound, http.StatusNotFound, "not_found"},
		{"conflict", fmt.Errorf("checkout: %w", domain.ErrInsufficientStock), http.StatusConflict, "conflict"},
		{"upstream", &mpesa.APIError{Op: "stk push", StatusCode: 400, Code: "400.002.02", Message: "Invalid Amount"}, http.StatusBadGateway, "upstream_error"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"internal", domain.ErrReceiptNumberExhausted, http.StatusInternalServerError, "internal_error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handleError(context.Background(), rec, tt.err)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), `"code":"`+tt.wantCode+`"`)
		})
	}
}

func TestHandleError_UpstreamDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	handleError(context.Background(), rec, fmt.Errorf("initiate stk push: %w",
		&mpesa.APIError{Op: "stk push", StatusCode: 400, Code: "400.002.02", Message: "Invalid Amount"}))
	assert.Contains(t, rec.Body.String(), `"details":"400.002.02: Invalid Amount"`)
}

func TestHandleError_HidesInternalMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	handleError(context.Background(), rec, errors.New("pq: password authentication failed"))
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestGetOrder_InvalidID(t *testing.T) {
	handler := NewOrdersHandler(nil, failingEngine{}, nil, 5*time.Second)
	recorder := httptest.NewRecorder()
	request := withURLParam(withUser(httptest.NewRequest("GET", "/api/v1/orders/abc", nil)), "order_id", "abc")

	handler.GetOrder(recorder, request)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestGetOrder_Unauthorized(t *testing.T) {
	handler := NewOrdersHandler(nil, failingEngine{}, nil, 5*time.Second)
	recorder := httptest.NewRecorder()

	handler.GetOrder(recorder, httptest.NewRequest("GET", "/api/v1/orders/abc", nil))
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestGetOrder_EngineNotFound(t *testing.T) {
	handler := NewOrdersHandler(nil, failingEngine{err: domain.ErrOrderNotFound}, nil, 5*time.Second)
	recorder := httptest.NewRecorder()
	id := uuid.NewString()
	request := withURLParam(withUser(httptest.NewRequest("GET", "/api/v1/orders/"+id, nil)), "order_id", id)

	handler.GetOrder(recorder, request)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestInitiate_UpstreamFailure(t *testing.T) {
	handler := NewPaymentsHandler(failingEngine{err: fmt.Errorf("initiate stk push: %w", domain.ErrUpstream)}, nil, nil, 5*time.Second)
	recorder := httptest.NewRecorder()
	body := fmt.Sprintf(`{"payment_id":%q,"phone":"0712345678"}`, uuid.NewString())
	request := withUser(httptest.NewRequest("POST", "/api/v1/payments/mpesa/initiate", strings.NewReader(body)))

	handler.Initiate(recorder, request)
	assert.Equal(t, http.StatusBadGateway, recorder.Code)
}

func TestInitiate_BadPaymentID(t *testing.T) {
	handler := NewPaymentsHandler(failingEngine{}, nil, nil, 5*time.Second)
	recorder := httptest.NewRecorder()
	request := withUser(httptest.NewRequest("POST", "/api/v1/payments/mpesa/initiate", strings.NewReader(`{"payment_id":"x","phone":"0712345678"}`)))

	handler.Initiate(recorder, request)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestIPRateLimiter(t *testing.T) {
	limiter := NewIPRateLimiter(1, 2)
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/cb", nil)
		req.RemoteAddr = "196.201.214.200:40000"
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/cb", nil)
	req.RemoteAddr = "196.201.214.201:40000"
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPRateLimiter_BoundsTrackedClients(t *testing.T) {
	limiter := NewIPRateLimiter(1000, 10)
	limiter.maxTracked = 100
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5000; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/cb", nil)
		req.RemoteAddr = fmt.Sprintf("10.%d.%d.%d:40000", i/65536, (i/256)%256, i%256)
		h.ServeHTTP(rec, req)
	}
	assert.Equal(t, 100, limiter.tracked())

	// an already tracked client keeps its own bucket
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/cb", nil)
	req.RemoteAddr = "10.0.0.0:40000"
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPRateLimiter_EvictsIdleClients(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	limiter := NewIPRateLimiter(1, 2)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		limiter.limiterFor(fmt.Sprintf("196.201.214.%d", i))
	}
	assert.Equal(t, 10, limiter.tracked())

	now = now.Add(limiterIdleTTL + time.Second)
	limiter.limiterFor("196.201.214.200")
	assert.Equal(t, 1, limiter.tracked())
}
