package payload

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// STKPush is the body of the gateway payments request.
type STKPush struct {
	Amount            int64  `json:"amount"`
	PhoneNumber       string `json:"phone_number"`
	ChannelID         string `json:"channel_id"`
	Provider          string `json:"provider"`
	ExternalReference string `json:"external_reference"`
	CallbackURL       string `json:"callback_url"`
}

// STKPushResponse is the synchronous gateway answer. Every field is optional
// upstream, callers apply their own fallbacks.
type STKPushResponse struct {
	Success           *bool  `json:"success,omitempty"`
	Status            string `json:"status"`
	Message           string `json:"message"`
	Reference         string `json:"reference"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ExternalReference string `json:"external_reference"`
}

// Amount accepts a JSON number or a numeric string.
type Amount float64

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(s))
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return errors.Errorf("amount %q is not numeric", string(b))
	}
	*a = Amount(v)
	return nil
}

// PayRequest is the relay initiation body.
type PayRequest struct {
	Phone     string `json:"phone"`
	Amount    Amount `json:"amount"`
	Reference string `json:"reference"`
}

// PayResponse is the relay initiation success body.
type PayResponse struct {
	Status            string          `json:"status"`
	Message           string          `json:"message"`
	CheckoutRequestID *string         `json:"checkoutRequestID"`
	ExternalReference string          `json:"external_reference"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// ErrorResponse is returned by the relay for rejected or failed requests.
type ErrorResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

// MessageFromBody extracts a human readable message from an error body. It
// returns "" when the body carries no structured message.
func MessageFromBody(body []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"message", "error_message", "error"} {
		if s, ok := fields[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
