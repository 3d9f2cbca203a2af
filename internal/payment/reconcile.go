package payment

import (
	"context"
	"time"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// needsPoll is true for a PENDING push payment whose provider session is known.
func needsPoll(p *domain.Payment) bool {
	return p.Status == domain.PaymentStatusPending &&
		p.Provider == domain.ProviderMpesa &&
		p.Meta.Mpesa.CheckoutRequestID != ""
}

// ReconcilePayment asks the provider for the outcome of a stuck PENDING payment and
// applies it. Provider failures are logged and the persisted state is returned.
// Only a missing payment is an error.
func (e *Engine) ReconcilePayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	p, err := e.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	wctx, cancel := e.waitContext(ctx)
	defer cancel()
	return e.reconcile(ctx, wctx, p), nil
}

// reconcile shares one provider query between concurrent readers of the same payment.
// The query runs detached from any single reader and is bounded by PollTimeout.
// A reader stops waiting when wait is done and gets the stored state back.
func (e *Engine) reconcile(ctx, wait context.Context, p *domain.Payment) *domain.Payment {
	if !needsPoll(p) {
		return p
	}

	snapshot := p.Clone()
	ch := e.sfg.DoChan(p.ID.String(), func() (any, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.PollTimeout)
		defer cancel()
		return e.poll(pctx, snapshot), nil
	})

	select {
	case r := <-ch:
		return r.Val.(*domain.Payment).Clone()
	case <-wait.Done():
		logger.FromContext(ctx).Warn("stk status query still running, serving stored state",
			"payment_id", p.ID, "source", domain.SourcePoll)
		return p
	}
}

// waitContext bounds how long a reader with a deadline waits on the provider: PollTimeout,
// capped at half of what is left so the reads that follow still fit. Readers without a
// deadline wait for the query, which PollTimeout already bounds.
func (e *Engine) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	dl, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, min(e.cfg.PollTimeout, time.Until(dl)/2))
}

func (e *Engine) poll(ctx context.Context, p *domain.Payment) *domain.Payment {
	log := logger.FromContext(ctx).With("payment_id", p.ID, "source", domain.SourcePoll)

	if e.gate != nil {
		ok, err := e.gate.Allow(ctx, p.ID)
		if err != nil {
			log.Warn("poll gate unavailable, polling anyway", "error", err)
		} else if !ok {
			log.Debug("poll throttled")
			return p
		}
	}

	res, err := e.gateway.QuerySTKStatus(ctx, p.Meta.Mpesa.CheckoutRequestID)
	if err != nil {
		log.Warn("stk status query failed", "error", err)
		return p
	}

	var payer *domain.PayerNames
	if res.Payer.FullName() != "" || res.Payer.Phone != "" {
		payer = &res.Payer
	}
	t, err := e.settle(ctx, p.ID, outcome{
		source:            domain.SourcePoll,
		kind:              domain.EventPollQueried,
		resultCode:        res.ResultCode,
		resultDesc:        res.ResultDesc,
		receiptNumber:     res.ReceiptNumber,
		checkoutRequestID: res.CheckoutRequestID,
		merchantRequestID: res.MerchantRequestID,
		payer:             payer,
		raw:               res.Raw,
	})
	if err != nil {
		log.Error("apply poll result", "error", err)
		return p
	}
	return t.payment
}

// ReconcileOrder reconciles the payment behind one of the user's orders.
func (e *Engine) ReconcileOrder(ctx context.Context, userID string, orderID uuid.UUID) (*domain.Payment, error) {
	if _, err := e.store.GetOrderForUser(ctx, orderID, userID); err != nil {
		return nil, err
	}
	p, err := e.store.GetPaymentByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return e.ReconcilePayment(ctx, p.ID)
}

// ReconcileUserPayments reconciles every PENDING payment the user owns. The whole
// sweep shares one wait budget; queries still running past it finish in the background.
func (e *Engine) ReconcileUserPayments(ctx context.Context, userID string) error {
	pending, err := e.store.ListPendingPaymentsForUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	sweepCtx, cancel := e.waitContext(ctx)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(maxConcurrentPolls)
	for _, p := range pending {
		if sweepCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if sweepCtx.Err() == nil {
				e.reconcile(ctx, sweepCtx, p)
			}
			return nil
		})
	}
	return g.Wait()
}
