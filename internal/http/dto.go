package http

import (
	"encoding/json"
	"time"

	"github.com/fjod/go_shop/internal/domain"
)

type ShippingDTO struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

type OrderItemDTO struct {
	ProductID   int64       `json:"product_id"`
	ProductName string      `json:"product_name"`
	Quantity    int         `json:"quantity"`
	UnitPrice   json.Number `json:"unit_price"`
	Subtotal    json.Number `json:"subtotal"`
}

type PaymentDTO struct {
	ID                string      `json:"id"`
	OrderID           string      `json:"order_id"`
	Provider          string      `json:"provider"`
	Status            string      `json:"status"`
	Amount            json.Number `json:"amount"`
	TransactionRef    *string     `json:"transaction_ref"`
	CheckoutRequestID string      `json:"checkout_request_id,omitempty"`
	LastResultDesc    string      `json:"last_result_desc,omitempty"`
	UpdatedAt         string      `json:"updated_at"`
}

type OrderResponseDTO struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	TotalAmount json.Number    `json:"total_amount"`
	Currency    string         `json:"currency"`
	Shipping    ShippingDTO    `json:"shipping"`
	Items       []OrderItemDTO `json:"items"`
	Payment     *PaymentDTO    `json:"payment,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

type ReceiptPayerDTO struct {
	Name   string `json:"name"`
	Phone  string `json:"phone,omitempty"`
	Source string `json:"source"`
}

type ReceiptResponseDTO struct {
	ID             string          `json:"id"`
	ReceiptNumber  string          `json:"receipt_number"`
	OrderID        string          `json:"order_id"`
	PaymentID      string          `json:"payment_id"`
	Payer          ReceiptPayerDTO `json:"payer"`
	Items          []OrderItemDTO  `json:"items"`
	Subtotal       json.Number     `json:"subtotal"`
	Tax            json.Number     `json:"tax"`
	ShippingFee    json.Number     `json:"shipping_fee"`
	Total          json.Number     `json:"total"`
	Currency       string          `json:"currency"`
	Provider       string          `json:"provider"`
	TransactionRef string          `json:"transaction_ref"`
	IssuedAt       string          `json:"issued_at"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func convertPayment(p *domain.Payment) *PaymentDTO {
	if p == nil {
		return nil
	}
	return &PaymentDTO{
		ID:                p.ID.String(),
		OrderID:           p.OrderID.String(),
		Provider:          string(p.Provider),
		Status:            p.Status.String(),
		Amount:            domain.DecimalAmount(p.AmountCents),
		TransactionRef:    p.TransactionRef,
		CheckoutRequestID: p.Meta.Mpesa.CheckoutRequestID,
		LastResultDesc:    p.Meta.Mpesa.LastResultDesc,
		UpdatedAt:         formatTime(p.UpdatedAt),
	}
}

func convertItems(items []domain.OrderItem) []OrderItemDTO {
	dtoItems := make([]OrderItemDTO, 0, len(items))
	for _, it := range items {
		dtoItems = append(dtoItems, OrderItemDTO{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   domain.DecimalAmount(it.UnitPriceCents),
			Subtotal:    domain.DecimalAmount(it.SubtotalCents),
		})
	}
	return dtoItems
}

func convertOrder(o *domain.Order, p *domain.Payment) OrderResponseDTO {
	return OrderResponseDTO{
		ID:          o.ID.String(),
		Status:      o.Status.String(),
		TotalAmount: domain.DecimalAmount(o.TotalCents),
		Currency:    o.Currency,
		Shipping: ShippingDTO{
			Name:    o.Shipping.Name,
			Phone:   o.Shipping.Phone,
			Email:   o.Shipping.Email,
			Address: o.Shipping.Address,
		},
		Items:     convertItems(o.Items),
		Payment:   convertPayment(p),
		CreatedAt: formatTime(o.CreatedAt),
	}
}

func convertReceipt(rc *domain.Receipt) ReceiptResponseDTO {
	items := make([]OrderItemDTO, 0, len(rc.Items))
	for _, it := range rc.Items {
		items = append(items, OrderItemDTO{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   domain.DecimalAmount(it.UnitPriceCents),
			Subtotal:    domain.DecimalAmount(it.SubtotalCents),
		})
	}
	return ReceiptResponseDTO{
		ID:            rc.ID.String(),
		ReceiptNumber: rc.Number,
		OrderID:       rc.OrderID.String(),
		PaymentID:     rc.PaymentID.String(),
		Payer: ReceiptPayerDTO{
			Name:   rc.Payer.Name,
			Phone:  rc.Payer.Phone,
			Source: string(rc.Payer.Source),
		},
		Items:          items,
		Subtotal:       domain.DecimalAmount(rc.SubtotalCents),
		Tax:            domain.DecimalAmount(rc.TaxCents),
		ShippingFee:    domain.DecimalAmount(rc.ShippingFeeCents),
		Total:          domain.DecimalAmount(rc.TotalCents),
		Currency:       rc.Currency,
		Provider:       string(rc.Meta.Provider),
		TransactionRef: rc.Meta.TransactionRef,
		IssuedAt:       formatTime(rc.IssuedAt),
	}
}
