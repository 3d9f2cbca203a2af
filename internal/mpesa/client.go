// Package mpesa talks to the Safaricom Daraja API: OAuth, STK push and STK query.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/pkg/circuitbreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
)

const (
	// tokenSafetyBuffer is subtracted from the provider's stated token lifetime.
	tokenSafetyBuffer = 60 * time.Second

	timestampLayout = "20060102150405"

	TransactionPayBill  = "CustomerPayBillOnline"
	TransactionBuyGoods = "CustomerBuyGoodsOnline"
)

// eat is Kenya time. Daraja validates the password timestamp against it.
var eat = time.FixedZone("EAT", 3*60*60)

type Config struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	TransactionType string
	Timeout         time.Duration
}

type httpResult struct {
	status int
	body   []byte
}

type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.Breaker[httpResult]
	now     func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	sfg       singleflight.Group
}

// NewClient builds a Daraja client. A nil httpClient gets an otel-instrumented default.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.TransactionType == "" {
		cfg.TransactionType = TransactionPayBill
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		breaker: circuitbreaker.New[httpResult](circuitbreaker.DefaultConfig("mpesa"), countsAsSuccess),
		now:     time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// accessToken returns the cached bearer token, refreshing it once for all concurrent callers.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if tok, ok := c.cachedToken(); ok {
		return tok, nil
	}

	// The refresh is detached from every caller; each one stops waiting on its own context.
	ch := c.sfg.DoChan("token", func() (any, error) {
		if tok, ok := c.cachedToken(); ok {
			return tok, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
		defer cancel()
		return c.refreshToken(rctx)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) cachedToken() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, true
	}
	return "", false
}

func (c *Client) refreshToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	res, err := c.send(req, "oauth")
	if err != nil {
		return "", err
	}

	var tr tokenResponse
	if err := json.Unmarshal(res.body, &tr); err != nil || tr.AccessToken == "" {
		return "", &APIError{Op: "oauth", StatusCode: res.status, Message: "malformed token response"}
	}
	ttl, err := strconv.Atoi(strings.TrimSpace(tr.ExpiresIn))
	if err != nil || ttl <= 0 {
		ttl = 3599
	}

	expiresAt := c.now().Add(time.Duration(ttl)*time.Second - tokenSafetyBuffer)
	c.mu.Lock()
	c.token = tr.AccessToken
	c.expiresAt = expiresAt
	c.mu.Unlock()
	return tr.AccessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

type errorBody struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// send performs req through the breaker and turns non-2xx answers into *APIError.
func (c *Client) send(req *http.Request, op string) (httpResult, error) {
	res, err := c.breaker.Execute(func() (httpResult, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return httpResult{}, fmt.Errorf("mpesa %s: %w: %w", op, domain.ErrUpstream, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return httpResult{}, fmt.Errorf("mpesa %s: read body: %w: %w", op, domain.ErrUpstream, err)
		}
		res := httpResult{status: resp.StatusCode, body: body}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
			var eb errorBody
			if json.Unmarshal(body, &eb) == nil && (eb.ErrorCode != "" || eb.ErrorMessage != "") {
				apiErr.Code = eb.ErrorCode
				apiErr.Message = eb.ErrorMessage
			}
			return res, apiErr
		}
		return res, nil
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return res, fmt.Errorf("mpesa %s: %w: %w", op, domain.ErrUpstream, err)
	}
	return res, err
}

// postJSON sends an authenticated JSON request. A 401 drops the cached token so the next call refreshes it.
func (c *Client) postJSON(ctx context.Context, op, path string, payload any) (httpResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return httpResult{}, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return httpResult{}, fmt.Errorf("marshal %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return httpResult{}, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.send(req, op)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		c.invalidateToken()
	}
	return res, err
}

// password returns the STK password and the timestamp it was derived from.
func (c *Client) password() (string, string) {
	ts := c.now().In(eat).Format(timestampLayout)
	raw := c.cfg.ShortCode + c.cfg.PassKey + ts
	return base64.StdEncoding.EncodeToString([]byte(raw)), ts
}
