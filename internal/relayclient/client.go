// Package relayclient is the initiator's view of the relay HTTP API.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"activation-relay/internal/config"
	"activation-relay/internal/payload"
	"github.com/pkg/errors"
)

const (
	payPath          = "/api/pay"
	defaultTimeoutMs = 30_000
	maxResponseBytes = 1 << 20

	// FallbackMessage is shown when the relay gives no usable message.
	FallbackMessage = "Payment initiation failed"
)

// Error carries the message the relay returned for a rejected initiation.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

type Client struct {
	baseURL string
	client  *http.Client
}

func New(cfg config.Relay) *Client {
	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		client:  &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
	}
}

// Pay posts an initiation request. A non-2xx answer becomes an *Error whose
// message is the relay's own text whenever it supplied one.
func (c *Client) Pay(ctx context.Context, req payload.PayRequest) (*payload.PayResponse, error) {
	body, err := json.Marshal(map[string]any{
		"phone":     req.Phone,
		"amount":    float64(req.Amount),
		"reference": req.Reference,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode pay request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+payPath, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build pay request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "relay unreachable")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read relay response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	var out payload.PayResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, errors.Wrapf(err, "decode relay response (%d)", resp.StatusCode)
	}
	return &out, nil
}

func errorMessage(body []byte) string {
	if msg := payload.MessageFromBody(body); msg != "" {
		return msg
	}
	if text := strings.TrimSpace(string(body)); text != "" && !json.Valid(body) {
		return text
	}
	return FallbackMessage
}
