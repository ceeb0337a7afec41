package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"activation-relay/internal/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentsHandler_QueuesAndCallsBack(t *testing.T) {
	*successRatio = 1
	*maxDelay = 0

	received := make(chan []byte, 1)
	callbackServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer callbackServer.Close()

	body := `{"amount":500,"phone_number":"254712345678","external_reference":"ACTIVATION_x_1","callback_url":"` + callbackServer.URL + `"}`
	rec := httptest.NewRecorder()
	paymentsHandler(rec, httptest.NewRequest(http.MethodPost, "/api/v2/payments", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp payload.STKPushResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "QUEUED", resp.Status)
	assert.True(t, strings.HasPrefix(resp.CheckoutRequestID, "ws_CO_"))

	select {
	case raw := <-received:
		n := payload.ParseCallback(raw)
		assert.Equal(t, payload.OutcomeSuccess, n.Outcome)
		assert.Equal(t, "ACTIVATION_x_1", n.ExternalReference)
		assert.Equal(t, resp.CheckoutRequestID, n.CheckoutRequestID)
		assert.Equal(t, "0", n.ResultCode)
	case <-time.After(5 * time.Second):
		t.Fatal("callback not delivered")
	}
}

func TestPaymentsHandler_RejectsMissingReference(t *testing.T) {
	rec := httptest.NewRecorder()
	paymentsHandler(rec, httptest.NewRequest(http.MethodPost, "/api/v2/payments", strings.NewReader(`{"amount":500}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAlwaysFailHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	alwaysFailHandler(rec, httptest.NewRequest(http.MethodPost, "/always-fail/api/v2/payments", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "channel unavailable", payload.MessageFromBody(rec.Body.Bytes()))
}
