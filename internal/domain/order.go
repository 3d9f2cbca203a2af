package domain

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
)

func (s OrderStatus) String() string {
	return string(s)
}

// OrderItem is the line snapshot taken at checkout. Prices never follow later catalog changes.
type OrderItem struct {
	ProductID      int64  `json:"product_id"`
	ProductName    string `json:"product_name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

type Shipping struct {
	Name    string
	Phone   string
	Email   string
	Address string
}

type Order struct {
	ID         uuid.UUID
	UserID     string
	Status     OrderStatus
	TotalCents int64
	Currency   string
	Shipping   Shipping
	Items      []OrderItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ItemsSubtotal sums the line subtotals.
func (o *Order) ItemsSubtotal() int64 {
	var total int64
	for _, it := range o.Items {
		total += it.SubtotalCents
	}
	return total
}
