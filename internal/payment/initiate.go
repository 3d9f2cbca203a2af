package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/mpesa"
	"github.com/fjod/go_shop/pkg/logger"
	"github.com/google/uuid"
)

type InitiateResult struct {
	Payment *domain.Payment
	// AlreadyPaid is set when the payment was SUCCESS and no push was sent.
	AlreadyPaid       bool
	CheckoutRequestID string
	MerchantRequestID string
	CustomerMessage   string
}

// InitiatePush sends an STK push for the user's payment and records the provider
// identifiers. A SUCCESS payment is reported as is and never charged twice.
func (e *Engine) InitiatePush(ctx context.Context, userID string, paymentID uuid.UUID, phone string) (*InitiateResult, error) {
	msisdn, err := mpesa.NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	p, err := e.store.GetPaymentForUser(ctx, paymentID, userID)
	if err != nil {
		return nil, err
	}
	if p.Status == domain.PaymentStatusSuccess {
		return &InitiateResult{Payment: p, AlreadyPaid: true}, nil
	}
	if p.Provider != domain.ProviderMpesa {
		return nil, domain.Validationf("payment %s is a %s payment", paymentID, p.Provider)
	}

	// the provider call happens outside any transaction
	resp, err := e.gateway.InitiateSTKPush(ctx, mpesa.STKPushRequest{
		Phone:            msisdn,
		Amount:           domain.ProviderAmount(p.AmountCents),
		CallbackURL:      mpesa.CallbackURL(e.cfg.CallbackBaseURL, p.ID.String()),
		AccountReference: accountReference(p.OrderID),
		TransactionDesc:  e.cfg.TransactionDesc,
	})
	if err != nil {
		return nil, fmt.Errorf("initiate stk push: %w", err)
	}

	result := &InitiateResult{
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}
	err = e.tx.RunInTx(ctx, func(ctx context.Context) error {
		cur, err := e.store.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if cur.Status == domain.PaymentStatusSuccess {
			result.Payment = cur
			result.AlreadyPaid = true
			return nil
		}

		from := cur.Status
		mp := &cur.Meta.Mpesa
		mp.Phone = msisdn
		mp.MerchantRequestID = resp.MerchantRequestID
		mp.CheckoutRequestID = resp.CheckoutRequestID
		mp.Append(domain.MetaEvent{
			Kind:       domain.EventPushInitiated,
			At:         e.now(),
			Source:     domain.SourceInitiation,
			ResultDesc: resp.ResponseDescription,
			Reference:  resp.CheckoutRequestID,
			Raw:        resp.Raw,
		})
		if from != domain.PaymentStatusPending {
			mp.Append(domain.MetaEvent{
				Kind:   domain.EventStatusChanged,
				At:     e.now(),
				Source: domain.SourceInitiation,
				From:   from,
				To:     domain.PaymentStatusPending,
			})
		}
		cur.Status = domain.PaymentStatusPending
		if err := e.store.UpdatePayment(ctx, cur); err != nil {
			return err
		}
		result.Payment = cur
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record stk push: %w", err)
	}

	logger.FromContext(ctx).Info("stk push initiated",
		"payment_id", paymentID,
		"checkout_request_id", resp.CheckoutRequestID,
		"already_paid", result.AlreadyPaid)
	return result, nil
}

// accountReference fits the order id into the provider's 12-character field.
func accountReference(orderID uuid.UUID) string {
	return "ORD" + strings.ToUpper(strings.ReplaceAll(orderID.String(), "-", "")[:9])
}
