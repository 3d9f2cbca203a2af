package mpesa

import (
	"errors"
	"fmt"

	"github.com/fjod/go_shop/internal/domain"
)

// codeProcessing is returned by the STK query while the customer has not answered the prompt yet.
const codeProcessing = "500.001.1001"

// APIError is a non-success answer from the Daraja API.
type APIError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("mpesa %s: status %d: %s (%s)", e.Op, e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("mpesa %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return domain.ErrUpstream
}

// processing reports whether the error only means "ask again later".
func (e *APIError) processing() bool {
	return e.Code == codeProcessing
}

// countsAsSuccess tells the breaker which outcomes must not trip it: client errors and
// the still-processing answer say nothing about provider health.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.processing() || (apiErr.StatusCode >= 400 && apiErr.StatusCode < 500)
	}
	return false
}
