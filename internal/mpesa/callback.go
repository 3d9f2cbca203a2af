package mpesa

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fjod/go_shop/internal/domain"
)

const apiPrefix = "/api/v1"

// CallbackURL builds the per-payment callback address. The API prefix is added only when
// the configured base does not already end with it.
func CallbackURL(base, paymentID string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if !strings.HasSuffix(base, apiPrefix) {
		base += apiPrefix
	}
	return base + "/payments/mpesa/callback/" + paymentID
}

// ResultSuccess is the result code for a completed payment.
const ResultSuccess = 0

// Callback is a decoded STK callback.
type Callback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Amount            string
	ReceiptNumber     string
	TransactionDate   string
	Payer             domain.PayerNames
	Raw               json.RawMessage
}

func (c *Callback) Succeeded() bool {
	return c.ResultCode == ResultSuccess
}

type callbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

type callbackEnvelope struct {
	Body *struct {
		StkCallback *struct {
			MerchantRequestID string     `json:"MerchantRequestID"`
			CheckoutRequestID string     `json:"CheckoutRequestID"`
			ResultCode        resultCode `json:"ResultCode"`
			ResultDesc        string     `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []callbackItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback decodes the Body.stkCallback envelope. A missing envelope or result code
// is ErrMalformedCallback.
func ParseCallback(body []byte) (*Callback, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedCallback, err)
	}
	if env.Body == nil || env.Body.StkCallback == nil {
		return nil, fmt.Errorf("%w: missing Body.stkCallback", domain.ErrMalformedCallback)
	}
	stk := env.Body.StkCallback
	if stk.ResultCode.value == nil {
		return nil, fmt.Errorf("%w: missing ResultCode", domain.ErrMalformedCallback)
	}

	cb := &Callback{
		MerchantRequestID: stk.MerchantRequestID,
		CheckoutRequestID: stk.CheckoutRequestID,
		ResultCode:        *stk.ResultCode.value,
		ResultDesc:        stk.ResultDesc,
		Raw:               rawJSON(body),
	}
	if stk.CallbackMetadata == nil {
		return cb, nil
	}
	applyItems(cb, stk.CallbackMetadata.Item)
	return cb, nil
}

func applyItems(cb *Callback, items []callbackItem) {
	for _, it := range items {
		v := itemValue(it.Value)
		switch it.Name {
		case "Amount":
			cb.Amount = v
		case "MpesaReceiptNumber":
			cb.ReceiptNumber = v
		case "TransactionDate":
			cb.TransactionDate = v
		case "PhoneNumber":
			cb.Payer.Phone = v
		case "FirstName":
			cb.Payer.First = v
		case "MiddleName":
			cb.Payer.Middle = v
		case "LastName":
			cb.Payer.Last = v
		}
	}
}

// itemValue renders a metadata value as text. Numbers keep their literal digits so
// phone numbers and dates survive without float rounding.
func itemValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}
