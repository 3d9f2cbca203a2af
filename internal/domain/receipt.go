package domain

import (
	"time"

	"github.com/google/uuid"
)

// NameSource records where a receipt's payer name came from.
type NameSource string

const (
	NameFromMpesaCallback NameSource = "MPESA_CALLBACK"
	NameFromCheckout      NameSource = "CHECKOUT_DECLARED"
	NameFromShipping      NameSource = "SHIPPING"
	NameFromAccount       NameSource = "ACCOUNT"
	NameUnknown           NameSource = "UNKNOWN"
)

type Payer struct {
	Name   string     `json:"name"`
	Phone  string     `json:"phone,omitempty"`
	Source NameSource `json:"source"`
}

type ReceiptItem struct {
	ProductID      int64  `json:"product_id"`
	ProductName    string `json:"product_name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

type ReceiptMeta struct {
	Provider       PaymentProvider `json:"provider"`
	TransactionRef string          `json:"transactionRef,omitempty"`
	RefSource      RefSource       `json:"refSource,omitempty"`
	Attempts       int             `json:"attempts"`
}

// Receipt is immutable once inserted.
type Receipt struct {
	ID               uuid.UUID
	Number           string
	PaymentID        uuid.UUID
	OrderID          uuid.UUID
	Payer            Payer
	SubtotalCents    int64
	TaxCents         int64
	ShippingFeeCents int64
	TotalCents       int64
	Currency         string
	Items            []ReceiptItem
	Meta             ReceiptMeta
	IssuedAt         time.Time
}
