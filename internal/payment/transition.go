package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/pkg/logger"
	"github.com/google/uuid"
)

// outcome is what a callback or poll learned about a payment.
type outcome struct {
	source            domain.Source
	kind              domain.MetaEventKind
	resultCode        *int
	resultDesc        string
	receiptNumber     string
	checkoutRequestID string
	merchantRequestID string
	payer             *domain.PayerNames
	raw               json.RawMessage
}

type transition struct {
	payment *domain.Payment
	from    domain.PaymentStatus
	to      domain.PaymentStatus
	// written is false when the guard turned the update into a no-op
	written bool
}

func (t transition) changed() bool {
	return t.written && t.from != t.to
}

// applyOutcome is the single guarded write path. It locks the payment, refuses to touch a
// SUCCESS payment, appends the audit event and, for a definite result code, moves payment
// and order together.
func (e *Engine) applyOutcome(ctx context.Context, paymentID uuid.UUID, o outcome) (transition, error) {
	var t transition
	err := e.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := e.store.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		t = transition{payment: p, from: p.Status, to: p.Status}
		if p.Status == domain.PaymentStatusSuccess {
			return nil
		}

		mp := &p.Meta.Mpesa
		mp.Append(domain.MetaEvent{
			Kind:       o.kind,
			At:         e.now(),
			Source:     o.source,
			ResultCode: o.resultCode,
			ResultDesc: o.resultDesc,
			Reference:  o.receiptNumber,
			Raw:        o.raw,
		})
		if o.payer != nil && (o.payer.FullName() != "" || o.payer.Phone != "") {
			payer := *o.payer
			mp.Payer = &payer
		}
		if mp.CheckoutRequestID == "" {
			mp.CheckoutRequestID = o.checkoutRequestID
		}
		if mp.MerchantRequestID == "" {
			mp.MerchantRequestID = o.merchantRequestID
		}

		if o.resultCode == nil {
			// indeterminate: audit only
			t.written = true
			return e.store.UpdatePayment(ctx, p)
		}

		to, orderStatus := domain.PaymentStatusFailed, domain.OrderStatusPendingPayment
		if *o.resultCode == 0 {
			to, orderStatus = domain.PaymentStatusSuccess, domain.OrderStatusConfirmed
		}
		if !p.Status.CanTransitionTo(to) {
			return fmt.Errorf("%s -> %s: %w", p.Status, to, domain.ErrIllegalTransition)
		}

		ref, refSource := resolveRef(p, to, o)
		if ref != "" {
			p.SetRef(ref)
		}
		p.Status = to
		mp.Append(domain.MetaEvent{
			Kind:      domain.EventStatusChanged,
			At:        e.now(),
			Source:    o.source,
			From:      t.from,
			To:        to,
			Reference: ref,
			RefSource: refSource,
		})

		if err := e.store.UpdatePayment(ctx, p); err != nil {
			return err
		}
		if err := e.store.UpdateOrderStatus(ctx, p.OrderID, orderStatus); err != nil {
			return err
		}
		t.to = to
		t.written = true
		return nil
	})
	if err != nil {
		return transition{}, err
	}
	return t, nil
}

// resolveRef picks the transaction reference for a settled payment. Success prefers the
// provider receipt and falls back to the checkout request id so it is never empty.
// Failure only fills an empty reference.
func resolveRef(p *domain.Payment, to domain.PaymentStatus, o outcome) (string, domain.RefSource) {
	checkoutID := p.Meta.Mpesa.CheckoutRequestID
	if checkoutID == "" {
		checkoutID = o.checkoutRequestID
	}
	if to == domain.PaymentStatusSuccess {
		if o.receiptNumber != "" {
			return o.receiptNumber, domain.RefFromReceipt
		}
		return checkoutID, domain.RefFromCheckoutRequest
	}
	if p.TransactionRef == nil && checkoutID != "" {
		return checkoutID, domain.RefFromCheckoutRequest
	}
	return "", ""
}

// settle applies an outcome and runs the post-commit effects of a real transition.
func (e *Engine) settle(ctx context.Context, paymentID uuid.UUID, o outcome) (transition, error) {
	t, err := e.applyOutcome(ctx, paymentID, o)
	if err != nil {
		return t, err
	}

	log := logger.FromContext(ctx).With("payment_id", paymentID, "source", o.source)
	if !t.written {
		log.Debug("payment already settled, outcome ignored", "status", t.payment.Status)
		return t, nil
	}
	if !t.changed() {
		return t, nil
	}

	log.Info("payment status changed", "from", t.from, "to", t.to, "ref", t.payment.Ref())
	switch t.to {
	case domain.PaymentStatusSuccess:
		e.OnPaymentConfirmed(ctx, paymentID, o.source)
	case domain.PaymentStatusFailed:
		if e.events != nil {
			if err := e.events.PaymentFailed(context.WithoutCancel(ctx), t.payment); err != nil {
				log.Warn("publish payment failed event", "error", err)
			}
		}
	}
	return t, nil
}
