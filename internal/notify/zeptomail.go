// Package notify sends customer email through the ZeptoMail HTTP API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/pkg/logger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// email request payload for ZeptoMail API
type emailRequest struct {
	From     emailAddress  `json:"from"`
	To       []toRecipient `json:"to"`
	Subject  string        `json:"subject"`
	HtmlBody string        `json:"htmlbody"`
}

type emailAddress struct {
	Address string `json:"address"`
}

type toRecipient struct {
	Email emailWithName `json:"email_address"`
}

type emailWithName struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type ZeptoConfig struct {
	APIURL string // e.g. https://api.zeptomail.com/v1.1/email
	APIKey string // e.g. Zoho-enczapikey xxxxx
	From   string
}

type ZeptoMailSender struct {
	cfg    ZeptoConfig
	client *http.Client
}

func NewZeptoMailSender(cfg ZeptoConfig, client *http.Client) *ZeptoMailSender {
	if client == nil {
		client = &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &ZeptoMailSender{cfg: cfg, client: client}
}

// Send delivers one HTML email.
func (s *ZeptoMailSender) Send(ctx context.Context, to, name, subject, html string) error {
	if s.cfg.APIURL == "" || s.cfg.APIKey == "" || s.cfg.From == "" {
		return fmt.Errorf("%w: missing ZEPTO_API_URL, ZEPTO_API_KEY, or EMAIL_FROM", domain.ErrValidation)
	}

	payload := emailRequest{
		From: emailAddress{Address: s.cfg.From},
		To: []toRecipient{
			{Email: emailWithName{Address: to, Name: name}},
		},
		Subject:  subject,
		HtmlBody: html,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: send email: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: zeptomail API error: %s", domain.ErrUpstream, resp.Status)
	}

	logger.FromContext(ctx).Info("email sent", "to", to, "subject", subject)
	return nil
}
