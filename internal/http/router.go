// Package http exposes the shop REST API.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	JWTSecret          []byte
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	// CallbackRateLimit is requests per second per client IP on the provider callback.
	CallbackRateLimit float64
}

type Handlers struct {
	Checkout *CheckoutHandler
	Payments *PaymentsHandler
	Orders   *OrdersHandler
}

func NewRouter(cfg RouterConfig, h Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(AccessLogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	if cfg.MaxRequestBodySize > 0 {
		r.Use(middleware.RequestSize(cfg.MaxRequestBodySize))
	}

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	limit := cfg.CallbackRateLimit
	if limit <= 0 {
		limit = 20
	}
	limiter := NewIPRateLimiter(limit, max(1, int(limit*2)))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// provider-originated, unauthenticated
		r.With(limiter.Middleware).Post("/payments/mpesa/callback/{payment_id}", h.Payments.Callback)

		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(cfg.JWTSecret))

			r.Post("/checkout", h.Checkout.Checkout)
			r.Post("/payments/mpesa/initiate", h.Payments.Initiate)
			r.Get("/payments/{payment_id}/status", h.Payments.Status)
			r.Get("/orders", h.Orders.ListOrders)
			r.Get("/orders/{order_id}", h.Orders.GetOrder)
			r.Get("/orders/{order_id}/receipt", h.Orders.GetReceipt)
		})
	})

	return otelhttp.NewHandler(r, "shop-api")
}
