// Package gateway talks to the PayHero payments API.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"activation-relay/internal/config"
	"activation-relay/internal/logging"
	"activation-relay/internal/payload"
	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
)

const (
	paymentsPath     = "/api/v2/payments"
	defaultTimeoutMs = 15_000
	defaultStatus    = "QUEUED"
	defaultMessage   = "STK Push initiated."
	maxResponseBytes = 1 << 20
)

var (
	gatewaySuccessCounter       = metrics.GetOrCreateCounter(`gateway_requests_total{result="success"}`)
	gatewayRejectedCounter      = metrics.GetOrCreateCounter(`gateway_requests_total{result="rejected"}`)
	gatewayTransportCounter     = metrics.GetOrCreateCounter(`gateway_requests_total{result="transport_error"}`)
	gatewayRequestDurationHisto = metrics.GetOrCreateHistogram(`gateway_request_duration_milliseconds`)
)

// Error is returned when the gateway answers with a non-2xx status.
type Error struct {
	StatusCode int
	// Message is the gateway's own message field, empty when it sent none.
	Message string
	// Body is the response body when it was valid JSON.
	Body json.RawMessage
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway returned %d", e.StatusCode)
}

// Result is the normalised synchronous answer to an STK push.
type Result struct {
	Status            string
	Message           string
	CheckoutRequestID *string
	Raw               json.RawMessage
}

type Client struct {
	baseURL     string
	authHeader  string
	channelID   string
	provider    string
	callbackURL string
	client      *http.Client
	logger      *slog.Logger
}

// NewClient computes the Basic auth header once; the credentials are not kept.
func NewClient(cfg config.Gateway, logger *slog.Logger) *Client {
	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}

	credentials := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))

	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		authHeader:  "Basic " + credentials,
		channelID:   cfg.ChannelID,
		provider:    cfg.Provider,
		callbackURL: cfg.CallbackURL,
		client:      &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		logger:      logger,
	}
}

// InitiatePayment asks the gateway to send an STK push to phone. Nothing is retried.
func (c *Client) InitiatePayment(ctx context.Context, phone string, amount int64, reference string) (*Result, error) {
	startTime := time.Now()
	defer func() {
		gatewayRequestDurationHisto.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	body, err := json.Marshal(payload.STKPush{
		Amount:            amount,
		PhoneNumber:       phone,
		ChannelID:         c.channelID,
		Provider:          c.provider,
		ExternalReference: reference,
		CallbackURL:       c.callbackURL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode stk push")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+paymentsPath, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build stk push request")
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Content-Type", "application/json")

	c.logger.InfoContext(ctx, "Sending STK push", "phone", logging.MaskPhone(phone), "amount", amount)

	resp, err := c.client.Do(req)
	if err != nil {
		gatewayTransportCounter.Inc()
		return nil, errors.Wrap(err, "send stk push")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		gatewayTransportCounter.Inc()
		return nil, errors.Wrap(err, "read stk push response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gatewayRejectedCounter.Inc()
		gwErr := &Error{StatusCode: resp.StatusCode, Message: payload.MessageFromBody(respBody)}
		if json.Valid(respBody) {
			gwErr.Body = respBody
		}
		c.logger.WarnContext(ctx, "Gateway rejected STK push", "statusCode", resp.StatusCode, "body", string(respBody))
		return nil, gwErr
	}

	gatewaySuccessCounter.Inc()
	return parseResult(respBody), nil
}

// parseResult tolerates a missing, partial or non-JSON body.
func parseResult(body []byte) *Result {
	var parsed payload.STKPushResponse
	_ = json.Unmarshal(body, &parsed)

	result := &Result{
		Status:  firstNonEmpty(parsed.Status, defaultStatus),
		Message: firstNonEmpty(parsed.Message, defaultMessage),
	}
	if parsed.CheckoutRequestID != "" {
		id := parsed.CheckoutRequestID
		result.CheckoutRequestID = &id
	}
	if json.Valid(body) {
		result.Raw = body
	}
	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
