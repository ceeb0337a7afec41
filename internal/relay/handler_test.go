package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"activation-relay/internal/activation"
	"activation-relay/internal/config"
	"activation-relay/internal/db"
	"activation-relay/internal/gateway"
	"activation-relay/internal/payload"
	"activation-relay/internal/reference"
	"activation-relay/internal/relayclient"
	"activation-relay/internal/settlement"
	"activation-relay/internal/snapshot"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	phone     string
	amount    int64
	reference string
	result    *gateway.Result
	err       error
}

func (g *fakeGateway) InitiatePayment(_ context.Context, phone string, amount int64, reference string) (*gateway.Result, error) {
	g.phone, g.amount, g.reference = phone, amount, reference
	return g.result, g.err
}

type fakeSettler struct {
	mu            sync.Mutex
	notifications []payload.Notification
	ctxErrs       []error
	result        settlement.Result
	err           error
}

func (s *fakeSettler) Settle(ctx context.Context, n payload.Notification) (settlement.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return s.result, s.err
}

func newTestServer(t *testing.T, gw Gateway, settler Settler) (*httptest.Server, *snapshot.MemoryStore) {
	t.Helper()
	store := snapshot.NewMemoryStore(time.Hour)
	server := httptest.NewServer(NewRouter(NewHandler(gw, settler, store, slog.Default()), nil))
	t.Cleanup(server.Close)
	return server, store
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	}
	return resp, decoded
}

func strPtr(s string) *string { return &s }

func TestHandlePay_Success(t *testing.T) {
	gw := &fakeGateway{result: &gateway.Result{
		Status:            "QUEUED",
		Message:           "STK Push initiated.",
		CheckoutRequestID: strPtr("ck_1"),
		Raw:               json.RawMessage(`{"success":true,"CheckoutRequestID":"ck_1"}`),
	}}
	server, store := newTestServer(t, gw, &fakeSettler{})

	resp, body := post(t, server.URL+"/api/pay", `{"phone":"712345678","amount":"500","reference":"ACTIVATION_ab12cd34_1700000000000"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "QUEUED", body["status"])
	assert.Equal(t, "ck_1", body["checkoutRequestID"])
	assert.Equal(t, "ACTIVATION_ab12cd34_1700000000000", body["external_reference"])
	assert.NotNil(t, body["raw"])

	assert.Equal(t, "254712345678", gw.phone)
	assert.Equal(t, int64(500), gw.amount)

	entry, ok, err := store.Get(context.Background(), "ACTIVATION_ab12cd34_1700000000000")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "QUEUED", entry.Status)
	assert.Equal(t, "ck_1", *entry.CheckoutRequestID)
}

func TestHandlePay_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `phone=0712345678`},
		{name: "missing phone", body: `{"amount":500,"reference":"r"}`},
		{name: "missing reference", body: `{"phone":"0712345678","amount":500}`},
		{name: "non numeric amount", body: `{"phone":"0712345678","amount":"abc","reference":"r"}`},
		{name: "zero amount", body: `{"phone":"0712345678","amount":0,"reference":"r"}`},
		{name: "fractional amount", body: `{"phone":"0712345678","amount":10.5,"reference":"r"}`},
		{name: "amount beyond int64", body: `{"phone":"0712345678","amount":1e19,"reference":"r"}`},
		{name: "amount beyond exact integers", body: `{"phone":"0712345678","amount":9007199254740994,"reference":"r"}`},
		{name: "negative amount", body: `{"phone":"0712345678","amount":-500,"reference":"r"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{}
			server, _ := newTestServer(t, gw, &fakeSettler{})

			resp, body := post(t, server.URL+"/api/pay", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "Failure", body["status"])
			assert.NotEmpty(t, body["message"])
			assert.Empty(t, gw.reference, "gateway must not be called")
		})
	}
}

func TestHandlePay_UpstreamFailure(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantMessage string
		wantError   any
	}{
		{
			name:        "structured message",
			err:         &gateway.Error{StatusCode: 503, Message: "channel unavailable", Body: json.RawMessage(`{"message":"channel unavailable"}`)},
			wantMessage: "channel unavailable",
			wantError:   map[string]any{"message": "channel unavailable"},
		},
		{
			name:        "transport error",
			err:         errors.New("dial tcp: connection refused"),
			wantMessage: "dial tcp: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, store := newTestServer(t, &fakeGateway{err: tt.err}, &fakeSettler{})

			resp, body := post(t, server.URL+"/api/pay", `{"phone":"0712345678","amount":500,"reference":"r1"}`)
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
			assert.Equal(t, "Failure", body["status"])
			assert.Equal(t, tt.wantMessage, body["message"])
			assert.Equal(t, tt.wantError, body["error"])
			assert.Zero(t, store.Len())
		})
	}
}

func TestHandleCallback_AlwaysOK(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		settler  *fakeSettler
		wantRef  string
		snapshot bool
	}{
		{
			name:     "nested success",
			body:     `{"response":{"Status":"Success","ExternalReference":"r1","ResultCode":0,"ResultDesc":"ok"}}`,
			settler:  &fakeSettler{result: settlement.ResultSucceeded},
			wantRef:  "r1",
			snapshot: true,
		},
		{
			name:     "internal error",
			body:     `{"status":"failed","external_reference":"r2"}`,
			settler:  &fakeSettler{err: errors.New("db down")},
			wantRef:  "r2",
			snapshot: true,
		},
		{
			name:    "empty object",
			body:    `{}`,
			settler: &fakeSettler{result: settlement.ResultIgnored},
		},
		{
			name:    "garbage",
			body:    `<xml/>`,
			settler: &fakeSettler{result: settlement.ResultIgnored},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, store := newTestServer(t, &fakeGateway{}, tt.settler)

			resp, body := post(t, server.URL+"/api/callback", tt.body)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, true, body["received"])

			require.Len(t, tt.settler.notifications, 1)
			assert.Equal(t, tt.wantRef, tt.settler.notifications[0].ExternalReference)
			assert.Equal(t, tt.body, string(tt.settler.notifications[0].Raw))

			if tt.snapshot {
				_, ok, _ := store.Get(context.Background(), tt.wantRef)
				assert.True(t, ok)
			} else {
				assert.Zero(t, store.Len())
			}
		})
	}
}

func TestHandleCallback_SettlesAfterClientDisconnect(t *testing.T) {
	settler := &fakeSettler{result: settlement.ResultSucceeded}
	h := NewHandler(&fakeGateway{}, settler, snapshot.NewMemoryStore(time.Hour), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	body := `{"response":{"Status":"Success","ExternalReference":"r1","ResultCode":0}}`
	req := httptest.NewRequest(http.MethodPost, "/api/callback", strings.NewReader(body)).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.handleCallback(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, settler.ctxErrs, 1)
	assert.NoError(t, settler.ctxErrs[0])
	assert.Equal(t, "r1", settler.notifications[0].ExternalReference)
}

func TestHandleStatus(t *testing.T) {
	server, store := newTestServer(t, &fakeGateway{}, &fakeSettler{})
	require.NoError(t, store.Put(context.Background(), "r1", snapshot.Entry{Status: "Success", ResultCode: "0"}))

	resp, err := http.Get(server.URL + "/api/status/r1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var found map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&found))
	assert.Equal(t, "Success", found["status"])
	assert.Equal(t, map[string]any{"status": "Success", "result_code": "0"}, found["payment_status"])

	missing, err := http.Get(server.URL + "/api/status/unknown")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	var notFound map[string]any
	require.NoError(t, json.NewDecoder(missing.Body).Decode(&notFound))
	assert.Equal(t, "Failure", notFound["status"])
	assert.Equal(t, "No record found for this reference", notFound["message"])
}

func TestRouter_Liveness(t *testing.T) {
	server, _ := newTestServer(t, &fakeGateway{}, &fakeSettler{})

	resp, err := http.Get(server.URL + "/liveness")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type memoryPayments struct {
	mu   sync.Mutex
	rows map[string]*db.PaymentEntity
}

func (m *memoryPayments) Create(_ context.Context, entity *db.PaymentEntity) (*db.PaymentEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := *entity
	m.rows[entity.ExternalReference] = &row
	return entity, nil
}

func (m *memoryPayments) AttachCheckoutID(_ context.Context, reference, checkoutID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[reference].CheckoutRequestID = &checkoutID
	return nil
}

// The gateway's own message must reach the payer unchanged through the relay.
func TestInitiationFailureSurfacesGatewayMessage(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/payments", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"channel unavailable"}`))
	}))
	defer upstream.Close()

	gw := gateway.NewClient(config.Gateway{BaseURL: upstream.URL, TimeoutMs: 2_000}, slog.Default())
	server, _ := newTestServer(t, gw, &fakeSettler{})

	payments := &memoryPayments{rows: make(map[string]*db.PaymentEntity)}
	initiator := activation.NewInitiator(payments, relayclient.New(config.Relay{URL: server.URL}),
		reference.NewGenerator("ACTIVATION"), 500, slog.Default())

	_, err := initiator.Initiate(context.Background(), uuid.New(), "0712345678")
	require.Error(t, err)
	assert.Equal(t, "channel unavailable", err.Error())

	require.Len(t, payments.rows, 1)
	for _, row := range payments.rows {
		assert.Equal(t, db.StatusQueued, row.Status)
	}
}
