package domain

import (
	"time"

	"github.com/google/uuid"
)

type PaymentProvider string

const (
	ProviderMpesa PaymentProvider = "MPESA"
	ProviderCard  PaymentProvider = "CARD"
)

// IsAsync reports whether the provider confirms payments out of band.
func (p PaymentProvider) IsAsync() bool {
	return p == ProviderMpesa
}

func (p PaymentProvider) Valid() bool {
	return p == ProviderMpesa || p == ProviderCard
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

func (s PaymentStatus) String() string {
	return string(s)
}

// IsTerminal is true only for SUCCESS. FAILED can be retried or proven paid later.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSuccess
}

// CanTransitionTo enforces the payment state machine. Staying PENDING is allowed so a
// push can be re-initiated while the previous one is still outstanding.
func (s PaymentStatus) CanTransitionTo(to PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return to == PaymentStatusPending || to == PaymentStatusSuccess || to == PaymentStatusFailed
	case PaymentStatusFailed:
		return to == PaymentStatusPending || to == PaymentStatusSuccess || to == PaymentStatusFailed
	default:
		return false
	}
}

type Payment struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	Provider       PaymentProvider
	Status         PaymentStatus
	AmountCents    int64
	TransactionRef *string
	Meta           PaymentMeta
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Ref returns the transaction reference or an empty string.
func (p *Payment) Ref() string {
	if p.TransactionRef == nil {
		return ""
	}
	return *p.TransactionRef
}

func (p *Payment) SetRef(ref string) {
	p.TransactionRef = &ref
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (p *Payment) Clone() *Payment {
	cp := *p
	if p.TransactionRef != nil {
		ref := *p.TransactionRef
		cp.TransactionRef = &ref
	}
	cp.Meta = p.Meta.Clone()
	return &cp
}
