package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/mpesa"
	"github.com/fjod/go_shop/pkg/logger"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleError maps an error class to an HTTP status code.
func handleError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		httpStatus int
		code       string
		details    string
	)

	switch {
	case errors.Is(err, domain.ErrValidation):
		httpStatus, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrNotFound):
		httpStatus, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrConflict):
		httpStatus, code = http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrUpstream):
		httpStatus, code = http.StatusBadGateway, "upstream_error"
		var apiErr *mpesa.APIError
		if errors.As(err, &apiErr) {
			details = apiErr.Message
			if apiErr.Code != "" {
				details = apiErr.Code + ": " + apiErr.Message
			}
		}
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus, code = http.StatusGatewayTimeout, "timeout"
	default:
		httpStatus, code = http.StatusInternalServerError, "internal_error"
	}

	message := err.Error()
	if httpStatus == http.StatusInternalServerError {
		logger.FromContext(ctx).Error("request failed", "error", err)
		message = "internal server error"
	} else {
		logger.FromContext(ctx).Warn("request rejected", "status", httpStatus, "error", err)
	}

	respondJSON(w, httpStatus, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
