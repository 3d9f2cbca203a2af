package payment

import (
	"context"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/pkg/logger"
	"github.com/google/uuid"
)

// OnPaymentConfirmed runs the best-effort effects of a payment reaching SUCCESS:
// receipt issuance, confirmation email and the order.confirmed event. Failures are
// logged and never returned. Call it only after the transition has committed.
func (e *Engine) OnPaymentConfirmed(ctx context.Context, paymentID uuid.UUID, source domain.Source) {
	ctx = context.WithoutCancel(ctx)
	log := logger.FromContext(ctx).With("payment_id", paymentID, "source", source)

	p, err := e.store.GetPayment(ctx, paymentID)
	if err != nil {
		log.Error("load confirmed payment", "error", err)
		return
	}
	if p.Status != domain.PaymentStatusSuccess {
		log.Warn("confirmation effects skipped, payment not successful", "status", p.Status)
		return
	}
	log = log.With("order_id", p.OrderID)

	if e.receipts != nil {
		if rc, err := e.receipts.Issue(ctx, paymentID); err != nil {
			log.Error("issue receipt", "error", err)
		} else if rc != nil {
			log.Info("receipt issued", "receipt_number", rc.Number)
		}
	}

	order, err := e.store.GetOrder(ctx, p.OrderID)
	if err != nil {
		log.Error("load confirmed order", "error", err)
		return
	}

	if e.notifier != nil {
		if err := e.notifier.SendOrderConfirmation(ctx, order, p); err != nil {
			log.Warn("send confirmation email", "error", err)
		}
	}
	if e.events != nil {
		if err := e.events.OrderConfirmed(ctx, order, p); err != nil {
			log.Warn("publish order confirmed event", "error", err)
		}
	}
}
