package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fjod/go_shop/internal/domain"
)

type STKPushRequest struct {
	Phone            string
	Amount           int64
	CallbackURL      string
	AccountReference string
	TransactionDesc  string
}

type STKPushResponse struct {
	MerchantRequestID   string          `json:"MerchantRequestID"`
	CheckoutRequestID   string          `json:"CheckoutRequestID"`
	ResponseCode        string          `json:"ResponseCode"`
	ResponseDescription string          `json:"ResponseDescription"`
	CustomerMessage     string          `json:"CustomerMessage"`
	Raw                 json.RawMessage `json:"-"`
}

type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// Daraja caps these fields; longer values are rejected.
const (
	maxAccountReference = 12
	maxTransactionDesc  = 13
)

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// InitiateSTKPush asks the provider to prompt the customer's phone for payment.
func (c *Client) InitiateSTKPush(ctx context.Context, in STKPushRequest) (*STKPushResponse, error) {
	if in.Amount < 1 {
		in.Amount = 1
	}
	password, ts := c.password()
	payload := stkPushPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         ts,
		TransactionType:   c.cfg.TransactionType,
		Amount:            in.Amount,
		PartyA:            in.Phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       in.Phone,
		CallBackURL:       in.CallbackURL,
		AccountReference:  truncate(in.AccountReference, maxAccountReference),
		TransactionDesc:   truncate(in.TransactionDesc, maxTransactionDesc),
	}

	res, err := c.postJSON(ctx, "stk push", "/mpesa/stkpush/v1/processrequest", payload)
	if err != nil {
		return nil, err
	}

	var out STKPushResponse
	if err := json.Unmarshal(res.body, &out); err != nil {
		return nil, &APIError{Op: "stk push", StatusCode: res.status, Message: "malformed response body"}
	}
	if out.ResponseCode != "0" {
		return nil, &APIError{Op: "stk push", StatusCode: res.status, Code: out.ResponseCode, Message: out.ResponseDescription}
	}
	if out.CheckoutRequestID == "" {
		return nil, &APIError{Op: "stk push", StatusCode: res.status, Message: "response has no CheckoutRequestID"}
	}
	out.Raw = res.body
	return &out, nil
}

// resultCode decodes a result code sent either as a number or as a string.
type resultCode struct {
	value *int
}

func (r *resultCode) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		r.value = nil
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("result code %q is not numeric", s)
	}
	r.value = &n
	return nil
}

// STKQueryResult is the provider's view of a push. ResultCode is nil while the outcome is unknown.
type STKQueryResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResponseCode      string
	ResultCode        *int
	ResultDesc        string
	ReceiptNumber     string
	Payer             domain.PayerNames
	Raw               json.RawMessage
}

func (r *STKQueryResult) Indeterminate() bool {
	return r.ResultCode == nil
}

type stkQueryPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryBody struct {
	MerchantRequestID   string     `json:"MerchantRequestID"`
	CheckoutRequestID   string     `json:"CheckoutRequestID"`
	ResponseCode        string     `json:"ResponseCode"`
	ResponseDescription string     `json:"ResponseDescription"`
	ResultCode          resultCode `json:"ResultCode"`
	ResultDesc          string     `json:"ResultDesc"`
	MpesaReceiptNumber  string     `json:"MpesaReceiptNumber"`
	CallbackMetadata    *struct {
		Item []callbackItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

// QuerySTKStatus asks the provider for the outcome of a push by its checkout request id.
// "Still processing" is reported as an indeterminate result, not an error.
func (c *Client) QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*STKQueryResult, error) {
	password, ts := c.password()
	payload := stkQueryPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	}

	res, err := c.postJSON(ctx, "stk query", "/mpesa/stkpushquery/v1/query", payload)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.processing() {
			return &STKQueryResult{
				CheckoutRequestID: checkoutRequestID,
				ResultDesc:        apiErr.Message,
				Raw:               rawJSON(res.body),
			}, nil
		}
		return nil, err
	}

	var body stkQueryBody
	if err := json.Unmarshal(res.body, &body); err != nil {
		return nil, &APIError{Op: "stk query", StatusCode: res.status, Message: "malformed response body: " + err.Error()}
	}
	out := &STKQueryResult{
		MerchantRequestID: body.MerchantRequestID,
		CheckoutRequestID: body.CheckoutRequestID,
		ResponseCode:      body.ResponseCode,
		ResultCode:        body.ResultCode.value,
		ResultDesc:        body.ResultDesc,
		ReceiptNumber:     body.MpesaReceiptNumber,
		Raw:               rawJSON(res.body),
	}
	// some gateways echo the callback metadata on query
	if body.CallbackMetadata != nil {
		var cb Callback
		applyItems(&cb, body.CallbackMetadata.Item)
		if out.ReceiptNumber == "" {
			out.ReceiptNumber = cb.ReceiptNumber
		}
		out.Payer = cb.Payer
	}
	if out.ResultDesc == "" {
		out.ResultDesc = body.ResponseDescription
	}
	if out.CheckoutRequestID == "" {
		out.CheckoutRequestID = checkoutRequestID
	}
	return out, nil
}

// rawJSON keeps a provider body for auditing only when it is valid JSON.
func rawJSON(b []byte) json.RawMessage {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || !json.Valid(b) {
		return nil
	}
	return json.RawMessage(b)
}
