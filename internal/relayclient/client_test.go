package relayclient

import (
	"context"
	"testing"

	"activation-relay/internal/config"
	"activation-relay/internal/payload"
	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Pay(t *testing.T) {
	req := payload.PayRequest{Phone: "254712345678", Amount: 500, Reference: "ACTIVATION_ab12cd34_1700000000000"}

	tests := []struct {
		name         string
		mockResponse func()
		wantStatus   string
		wantCode     int
		wantMessage  string
	}{
		{
			name: "Queued",
			mockResponse: func() {
				gock.New("http://relay.test").
					Post("/api/pay").
					JSON(map[string]any{"phone": "254712345678", "amount": 500, "reference": req.Reference}).
					Reply(200).
					JSON(map[string]any{"status": "QUEUED", "message": "STK Push initiated.", "checkoutRequestID": "ck_1", "external_reference": req.Reference})
			},
			wantStatus: "QUEUED",
		},
		{
			name: "Structured error",
			mockResponse: func() {
				gock.New("http://relay.test").
					Post("/api/pay").
					Reply(500).
					JSON(map[string]any{"status": "Failure", "message": "channel unavailable", "error": map[string]string{"message": "channel unavailable"}})
			},
			wantCode:    500,
			wantMessage: "channel unavailable",
		},
		{
			name: "Plain text error",
			mockResponse: func() {
				gock.New("http://relay.test").
					Post("/api/pay").
					Reply(502).
					BodyString("upstream down")
			},
			wantCode:    502,
			wantMessage: "upstream down",
		},
		{
			name: "Empty error body",
			mockResponse: func() {
				gock.New("http://relay.test").
					Post("/api/pay").
					Reply(500)
			},
			wantCode:    500,
			wantMessage: FallbackMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer gock.Off()
			tt.mockResponse()

			client := New(config.Relay{URL: "http://relay.test/"})
			res, err := client.Pay(context.Background(), req)

			if tt.wantCode != 0 {
				var relayErr *Error
				require.ErrorAs(t, err, &relayErr)
				assert.Equal(t, tt.wantCode, relayErr.StatusCode)
				assert.Equal(t, tt.wantMessage, relayErr.Error())
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantStatus, res.Status)
				require.NotNil(t, res.CheckoutRequestID)
				assert.Equal(t, "ck_1", *res.CheckoutRequestID)
			}
			assert.True(t, gock.IsDone())
		})
	}
}

func TestClient_Pay_Unreachable(t *testing.T) {
	defer gock.Off()
	gock.New("http://relay.test").
		Post("/api/pay").
		ReplyError(assert.AnError)

	_, err := New(config.Relay{URL: "http://relay.test"}).Pay(context.Background(), payload.PayRequest{Phone: "254712345678", Amount: 500, Reference: "r"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay unreachable")

	var relayErr *Error
	assert.NotErrorAs(t, err, &relayErr)
}
