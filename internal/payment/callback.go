package payment

import (
	"context"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/mpesa"
	"github.com/fjod/go_shop/pkg/logger"
	"github.com/google/uuid"
)

// HandleCallback processes a provider callback for paymentID and returns the result code it
// processed. Replays and late failures after SUCCESS are no-ops.
func (e *Engine) HandleCallback(ctx context.Context, paymentID uuid.UUID, body []byte) (int, error) {
	p, err := e.store.GetPayment(ctx, paymentID)
	if err != nil {
		return 0, err
	}

	cb, err := mpesa.ParseCallback(body)
	if err != nil {
		return 0, err
	}

	if known := p.Meta.Mpesa.CheckoutRequestID; known != "" && cb.CheckoutRequestID != "" && known != cb.CheckoutRequestID {
		logger.FromContext(ctx).Warn("callback for a previous push of this payment",
			"payment_id", paymentID, "expected", known, "got", cb.CheckoutRequestID)
	}

	code := cb.ResultCode
	payer := cb.Payer
	_, err = e.settle(ctx, paymentID, outcome{
		source:            domain.SourceCallback,
		kind:              domain.EventCallbackReceived,
		resultCode:        &code,
		resultDesc:        cb.ResultDesc,
		receiptNumber:     cb.ReceiptNumber,
		checkoutRequestID: cb.CheckoutRequestID,
		merchantRequestID: cb.MerchantRequestID,
		payer:             &payer,
		raw:               cb.Raw,
	})
	if err != nil {
		return code, err
	}
	return code, nil
}
