package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MetaVersion is written into every payment meta document.
// Documents without a version are the pre-event-log shape and are read as version 0.
const MetaVersion = 1

type MetaEventKind string

const (
	EventPushInitiated    MetaEventKind = "PUSH_INITIATED"
	EventCallbackReceived MetaEventKind = "CALLBACK_RECEIVED"
	EventPollQueried      MetaEventKind = "POLL_QUERIED"
	EventStatusChanged    MetaEventKind = "STATUS_CHANGED"
)

// Source names the code path that produced a payment update.
type Source string

const (
	SourceCheckout   Source = "checkout"
	SourceInitiation Source = "initiation"
	SourceCallback   Source = "callback"
	SourcePoll       Source = "poll"
)

// RefSource tells which provider namespace a transaction reference came from.
type RefSource string

const (
	RefFromReceipt         RefSource = "mpesa_receipt"
	RefFromCheckoutRequest RefSource = "checkout_request"
	RefSynthesized         RefSource = "synthesized"
)

type MetaEvent struct {
	Kind       MetaEventKind   `json:"kind"`
	At         time.Time       `json:"at"`
	Source     Source          `json:"source"`
	ResultCode *int            `json:"resultCode,omitempty"`
	ResultDesc string          `json:"resultDesc,omitempty"`
	From       PaymentStatus   `json:"from,omitempty"`
	To         PaymentStatus   `json:"to,omitempty"`
	Reference  string          `json:"reference,omitempty"`
	RefSource  RefSource       `json:"refSource,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// PayerNames is the payer identity decoded from provider callback metadata.
type PayerNames struct {
	First  string `json:"firstName,omitempty"`
	Middle string `json:"middleName,omitempty"`
	Last   string `json:"lastName,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

func (p *PayerNames) FullName() string {
	if p == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	for _, s := range []string{p.First, p.Middle, p.Last} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// MpesaMeta is the "mpesa" namespace of a payment's meta document.
type MpesaMeta struct {
	RequestedPayerName string      `json:"requestedPayerName,omitempty"`
	RequestedNameFrom  NameSource  `json:"requestedPayerNameSource,omitempty"`
	Phone              string      `json:"phone,omitempty"`
	MerchantRequestID  string      `json:"merchantRequestId,omitempty"`
	CheckoutRequestID  string      `json:"checkoutRequestId,omitempty"`
	Payer              *PayerNames `json:"payer,omitempty"`
	LastResultCode     *int        `json:"lastResultCode,omitempty"`
	LastResultDesc     string      `json:"lastResultDesc,omitempty"`
	Events             []MetaEvent `json:"events,omitempty"`

	// keys this version does not know about, carried through untouched
	extra map[string]json.RawMessage
}

var mpesaKnownKeys = []string{
	"requestedPayerName", "requestedPayerNameSource", "phone", "merchantRequestId", "checkoutRequestId",
	"payer", "lastResultCode", "lastResultDesc", "events",
}

type mpesaMetaAlias MpesaMeta

func (m MpesaMeta) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(mpesaMetaAlias(m))
	if err != nil {
		return nil, err
	}
	if len(m.extra) == 0 {
		return known, nil
	}
	out := make(map[string]json.RawMessage, len(m.extra)+len(mpesaKnownKeys))
	for k, v := range m.extra {
		out[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

func (m *MpesaMeta) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode mpesa meta: %w", err)
	}
	var alias mpesaMetaAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		// legacy documents may hold a differently shaped value under a known key
		alias = mpesaMetaAlias{}
		for _, k := range mpesaKnownKeys {
			if v, ok := raw[k]; ok {
				single, _ := json.Marshal(map[string]json.RawMessage{k: v})
				if json.Unmarshal(single, &alias) != nil {
					continue
				}
				delete(raw, k)
			}
		}
	} else {
		for _, k := range mpesaKnownKeys {
			delete(raw, k)
		}
	}
	*m = MpesaMeta(alias)
	if len(raw) > 0 {
		m.extra = raw
	}
	return nil
}

// Extra returns a legacy or unknown key, if present.
func (m *MpesaMeta) Extra(key string) (json.RawMessage, bool) {
	v, ok := m.extra[key]
	return v, ok
}

// Append adds an event to the log. Events are never rewritten or removed.
func (m *MpesaMeta) Append(e MetaEvent) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	m.Events = append(m.Events, e)
	if e.ResultCode != nil {
		code := *e.ResultCode
		m.LastResultCode = &code
		m.LastResultDesc = e.ResultDesc
	}
}

// LastEvent returns the most recent event of the given kind.
func (m *MpesaMeta) LastEvent(kind MetaEventKind) (MetaEvent, bool) {
	for i := len(m.Events) - 1; i >= 0; i-- {
		if m.Events[i].Kind == kind {
			return m.Events[i], true
		}
	}
	return MetaEvent{}, false
}

// PaymentMeta is the versioned meta document stored with each payment.
type PaymentMeta struct {
	Version int
	Mpesa   MpesaMeta

	extra map[string]json.RawMessage
}

func (m PaymentMeta) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.extra)+2)
	for k, v := range m.extra {
		out[k] = v
	}
	out["version"] = MetaVersion
	out["mpesa"] = m.Mpesa
	return json.Marshal(out)
}

func (m *PaymentMeta) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode payment meta: %w", err)
	}
	*m = PaymentMeta{}
	if v, ok := raw["version"]; ok {
		if err := json.Unmarshal(v, &m.Version); err != nil {
			return fmt.Errorf("decode meta version: %w", err)
		}
		delete(raw, "version")
	}
	if v, ok := raw["mpesa"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &m.Mpesa); err != nil {
			return err
		}
		delete(raw, "mpesa")
	}
	if len(raw) > 0 {
		m.extra = raw
	}
	return nil
}

// Clone deep-copies the document through its JSON form.
func (m PaymentMeta) Clone() PaymentMeta {
	data, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var cp PaymentMeta
	if err := json.Unmarshal(data, &cp); err != nil {
		return m
	}
	return cp
}
