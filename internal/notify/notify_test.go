package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder() *domain.Order {
	return &domain.Order{
		ID:         uuid.MustParse("3f2a9c1e-0000-4000-8000-000000000001"),
		Status:     domain.OrderStatusConfirmed,
		TotalCents: 129999,
		Currency:   "KES",
		Shipping:   domain.Shipping{Name: "Jane <Doe>", Phone: "0712345678", Email: "jane@example.com", Address: "Nairobi"},
		Items: []domain.OrderItem{
			{ProductID: 1, ProductName: "Laptop", Quantity: 1, UnitPriceCents: 129999, SubtotalCents: 129999},
		},
	}
}

func TestZeptoMailSender_Send(t *testing.T) {
	var got emailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Zoho-enczapikey secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewZeptoMailSender(ZeptoConfig{APIURL: srv.URL, APIKey: "Zoho-enczapikey secret", From: "noreply@shop.example.com"}, srv.Client())
	require.NoError(t, s.Send(context.Background(), "jane@example.com", "Jane", "Hi", "<p>hello</p>"))

	assert.Equal(t, "noreply@shop.example.com", got.From.Address)
	require.Len(t, got.To, 1)
	assert.Equal(t, "jane@example.com", got.To[0].Email.Address)
	assert.Equal(t, "Jane", got.To[0].Email.Name)
	assert.Equal(t, "Hi", got.Subject)
	assert.Equal(t, "<p>hello</p>", got.HtmlBody)
}

func TestZeptoMailSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewZeptoMailSender(ZeptoConfig{APIURL: srv.URL, APIKey: "k", From: "f@example.com"}, srv.Client())
	err := s.Send(context.Background(), "jane@example.com", "Jane", "Hi", "x")
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestZeptoMailSender_MissingConfig(t *testing.T) {
	s := NewZeptoMailSender(ZeptoConfig{}, nil)
	err := s.Send(context.Background(), "jane@example.com", "Jane", "Hi", "x")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

type captureSender struct {
	to, name, subject, html string
}

func (c *captureSender) Send(ctx context.Context, to, name, subject, html string) error {
	c.to, c.name, c.subject, c.html = to, name, subject, html
	return nil
}

func TestOrderMailer_SendOrderConfirmation(t *testing.T) {
	sender := &captureSender{}
	m := NewOrderMailer(sender)
	p := &domain.Payment{Status: domain.PaymentStatusSuccess}
	p.SetRef("ABC123")

	require.NoError(t, m.SendOrderConfirmation(context.Background(), testOrder(), p))

	assert.Equal(t, "jane@example.com", sender.to)
	assert.Equal(t, "Order 3f2a9c1e confirmed", sender.subject)
	assert.Contains(t, sender.html, "KES 1299.99")
	assert.Contains(t, sender.html, "ABC123")
	assert.Contains(t, sender.html, "Laptop")
	assert.Contains(t, sender.html, "Jane &lt;Doe&gt;")
}

func TestOrderMailer_NoEmail(t *testing.T) {
	order := testOrder()
	order.Shipping.Email = ""
	err := NewOrderMailer(&captureSender{}).SendOrderConfirmation(context.Background(), order, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
