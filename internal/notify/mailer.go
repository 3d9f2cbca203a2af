package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/fjod/go_shop/internal/domain"
)

// Sender delivers a rendered HTML email.
type Sender interface {
	Send(ctx context.Context, to, name, subject, html string) error
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<html><body>
<h2>Thank you for your order, {{.Name}}!</h2>
<p>Order <strong>{{.OrderID}}</strong> is confirmed.</p>
<table cellpadding="4">
<tr><th align="left">Item</th><th>Qty</th><th align="right">Price</th><th align="right">Subtotal</th></tr>
{{range .Items}}<tr><td>{{.Name}}</td><td align="center">{{.Quantity}}</td><td align="right">{{.Price}}</td><td align="right">{{.Subtotal}}</td></tr>
{{end}}</table>
<p>Total paid: <strong>{{.Currency}} {{.Total}}</strong></p>
{{if .Reference}}<p>Payment reference: {{.Reference}}</p>{{end}}
<p>We will deliver to: {{.Address}}</p>
</body></html>`))

type confirmationItem struct {
	Name     string
	Quantity int
	Price    string
	Subtotal string
}

type confirmationData struct {
	Name      string
	OrderID   string
	Items     []confirmationItem
	Currency  string
	Total     string
	Reference string
	Address   string
}

// OrderMailer sends the order confirmation email.
type OrderMailer struct {
	sender Sender
}

func NewOrderMailer(sender Sender) *OrderMailer {
	return &OrderMailer{sender: sender}
}

func (m *OrderMailer) SendOrderConfirmation(ctx context.Context, order *domain.Order, p *domain.Payment) error {
	if order.Shipping.Email == "" {
		return domain.Validationf("order %s has no email address", order.ID)
	}
	html, err := RenderConfirmation(order, p)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("Order %s confirmed", shortID(order.ID.String()))
	return m.sender.Send(ctx, order.Shipping.Email, order.Shipping.Name, subject, html)
}

// RenderConfirmation builds the HTML body of the confirmation email.
func RenderConfirmation(order *domain.Order, p *domain.Payment) (string, error) {
	data := confirmationData{
		Name:     order.Shipping.Name,
		OrderID:  order.ID.String(),
		Currency: order.Currency,
		Total:    domain.FormatCents(order.TotalCents),
		Address:  order.Shipping.Address,
	}
	if p != nil {
		data.Reference = p.Ref()
	}
	for _, it := range order.Items {
		data.Items = append(data.Items, confirmationItem{
			Name:     it.ProductName,
			Quantity: it.Quantity,
			Price:    domain.FormatCents(it.UnitPriceCents),
			Subtotal: domain.FormatCents(it.SubtotalCents),
		})
	}

	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render confirmation email: %w", err)
	}
	return buf.String(), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// NoopMailer is used when email delivery is not configured.
type NoopMailer struct{}

func (NoopMailer) SendOrderConfirmation(ctx context.Context, order *domain.Order, p *domain.Payment) error {
	return nil
}
