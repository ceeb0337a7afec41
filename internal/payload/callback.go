package payload

import (
	"bytes"
	"encoding/json"
	"strings"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeIgnored Outcome = "ignored"
)

// Notification is the single internal form of a settlement callback. The gateway
// sends either {"response":{"Status":...,"ExternalReference":...}} or a flat
// {"status":...,"external_reference":...}; nested values win.
type Notification struct {
	Status            string
	ExternalReference string
	ResultCode        string
	ResultDesc        string
	ReceiptNumber     string
	CheckoutRequestID string
	Outcome           Outcome
	Raw               []byte
}

// ParseCallback never fails: an unreadable body produces a notification with no
// reference and an ignored outcome that still carries the raw bytes.
func ParseCallback(body []byte) Notification {
	n := Notification{Raw: body, Outcome: OutcomeIgnored}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return n
	}
	response, _ := root["response"].(map[string]any)

	n.Status = firstNonEmpty(field(response, "Status"), field(root, "status"))
	n.ExternalReference = firstNonEmpty(field(response, "ExternalReference"), field(root, "external_reference"))
	n.ResultCode = firstNonEmpty(field(response, "ResultCode"), field(root, "result_code"))
	n.ResultDesc = firstNonEmpty(field(response, "ResultDesc"), field(root, "result_desc"))
	n.ReceiptNumber = field(response, "MpesaReceiptNumber")
	n.CheckoutRequestID = firstNonEmpty(field(response, "CheckoutRequestID"), field(root, "CheckoutRequestID"))
	n.Outcome = OutcomeOf(n.Status)

	return n
}

func OutcomeOf(status string) Outcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success":
		return OutcomeSuccess
	case "failed":
		return OutcomeFailed
	default:
		return OutcomeIgnored
	}
}

// AuditPayload returns the raw body when it is valid JSON, otherwise the body
// encoded as a JSON string so it can be stored in a jsonb column.
func (n Notification) AuditPayload() []byte {
	if json.Valid(n.Raw) {
		return n.Raw
	}
	encoded, _ := json.Marshal(string(n.Raw))
	return encoded
}

func field(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
