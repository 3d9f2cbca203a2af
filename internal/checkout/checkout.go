package checkout

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/pkg/logger"
	"github.com/google/uuid"
)

// Checkout creates the order, its line snapshot and payment, decrements stock and clears
// the cart atomically. A CARD payment settles immediately and its confirmation effects run
// after commit.
func (s *Service) Checkout(ctx context.Context, userID string, req Request) (*Result, error) {
	req.PayerName = strings.TrimSpace(req.PayerName)
	if err := validate(req); err != nil {
		return nil, err
	}

	var res Result
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		lines, err := s.store.LockCart(ctx, userID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return domain.ErrEmptyCart
		}
		for _, l := range lines {
			if l.Quantity > l.Stock {
				return fmt.Errorf("product %d (%s) has %d left, %d requested: %w",
					l.ProductID, l.ProductName, l.Stock, l.Quantity, domain.ErrInsufficientStock)
			}
		}

		order := s.buildOrder(userID, req, lines)
		payment, err := s.buildPayment(order, req)
		if err != nil {
			return err
		}

		if err := s.store.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := s.store.InsertPayment(ctx, payment); err != nil {
			return err
		}
		for _, it := range order.Items {
			if err := s.store.DecrementStock(ctx, it.ProductID, it.Quantity); err != nil {
				return err
			}
			if err := s.store.InsertStockLog(ctx, domain.StockLog{
				ProductID: it.ProductID,
				Delta:     -it.Quantity,
				Reason:    order.ID.String(),
			}); err != nil {
				return err
			}
		}
		if err := s.store.ClearCart(ctx, userID); err != nil {
			return err
		}

		res = Result{Order: order, Payment: payment}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}

	logger.FromContext(ctx).Info("order created",
		"order_id", res.Order.ID,
		"payment_id", res.Payment.ID,
		"provider", res.Payment.Provider,
		"total", domain.FormatCents(res.Order.TotalCents))

	if res.Payment.Status == domain.PaymentStatusSuccess && s.hook != nil {
		s.hook.OnPaymentConfirmed(ctx, res.Payment.ID, domain.SourceCheckout)
	}
	return &res, nil
}

func validate(req Request) error {
	if !req.Method.Valid() {
		return domain.Validationf("unsupported payment method %q", req.Method)
	}
	sh := req.Shipping
	var missing []string
	if strings.TrimSpace(sh.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(sh.Phone) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(sh.Email) == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(sh.Address) == "" {
		missing = append(missing, "address")
	}
	if len(missing) > 0 {
		return domain.Validationf("shipping %s required", strings.Join(missing, ", "))
	}
	if req.Method.IsAsync() && req.PayerName == "" {
		return domain.ErrPayerNameRequired
	}
	return nil
}

func (s *Service) buildOrder(userID string, req Request, lines []domain.CartLine) *domain.Order {
	status := domain.OrderStatusPendingPayment
	if !req.Method.IsAsync() {
		status = domain.OrderStatusConfirmed
	}
	order := &domain.Order{
		ID:       uuid.New(),
		UserID:   userID,
		Status:   status,
		Currency: s.currency,
		Shipping: req.Shipping,
		Items:    make([]domain.OrderItem, 0, len(lines)),
	}
	for _, l := range lines {
		subtotal := l.PriceCents * int64(l.Quantity)
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:      l.ProductID,
			ProductName:    l.ProductName,
			Quantity:       l.Quantity,
			UnitPriceCents: l.PriceCents,
			SubtotalCents:  subtotal,
		})
		order.TotalCents += subtotal
	}
	return order
}

func (s *Service) buildPayment(order *domain.Order, req Request) (*domain.Payment, error) {
	p := &domain.Payment{
		ID:          uuid.New(),
		OrderID:     order.ID,
		Provider:    req.Method,
		Status:      domain.PaymentStatusPending,
		AmountCents: order.TotalCents,
	}
	mp := &p.Meta.Mpesa
	if req.PayerName != "" {
		mp.RequestedPayerName = req.PayerName
		mp.RequestedNameFrom = domain.NameFromCheckout
	} else {
		mp.RequestedPayerName = strings.TrimSpace(req.Shipping.Name)
		mp.RequestedNameFrom = domain.NameFromShipping
	}

	if req.Method.IsAsync() {
		return p, nil
	}

	ref, err := cardReference(s.now().Unix())
	if err != nil {
		return nil, err
	}
	p.Status = domain.PaymentStatusSuccess
	p.SetRef(ref)
	mp.Append(domain.MetaEvent{
		Kind:      domain.EventStatusChanged,
		At:        s.now(),
		Source:    domain.SourceCheckout,
		From:      domain.PaymentStatusPending,
		To:        domain.PaymentStatusSuccess,
		Reference: ref,
		RefSource: domain.RefSynthesized,
	})
	return p, nil
}

// cardReference builds CARD-<unix>-<6 hex>.
func cardReference(unix int64) (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: card reference: %v", domain.ErrInternal, err)
	}
	return fmt.Sprintf("CARD-%d-%s", unix, hex.EncodeToString(b)), nil
}
