package activation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"activation-relay/internal/db"
	"activation-relay/internal/payload"
	"activation-relay/internal/reference"
	"activation-relay/internal/relayclient"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePayments struct {
	mu        sync.Mutex
	rows      map[string]*db.PaymentEntity
	createErr error
	attachErr error
}

func newFakePayments() *fakePayments {
	return &fakePayments{rows: make(map[string]*db.PaymentEntity)}
}

func (f *fakePayments) Create(_ context.Context, entity *db.PaymentEntity) (*db.PaymentEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	row := *entity
	f.rows[entity.ExternalReference] = &row
	return entity, nil
}

func (f *fakePayments) AttachCheckoutID(_ context.Context, reference, checkoutID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return f.attachErr
	}
	row, ok := f.rows[reference]
	if !ok {
		return db.ErrNotFound
	}
	row.CheckoutRequestID = &checkoutID
	return nil
}

func (f *fakePayments) SelectByReference(_ context.Context, reference string) (*db.PaymentEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[reference]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (f *fakePayments) only(t *testing.T) *db.PaymentEntity {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.rows, 1)
	for _, row := range f.rows {
		return row
	}
	return nil
}

type fakeRelay struct {
	calls []payload.PayRequest
	resp  *payload.PayResponse
	err   error
}

func (f *fakeRelay) Pay(_ context.Context, req payload.PayRequest) (*payload.PayResponse, error) {
	f.calls = append(f.calls, req)
	return f.resp, f.err
}

func ptr(s string) *string { return &s }

func newInitiator(payments *fakePayments, relay *fakeRelay) *Initiator {
	return NewInitiator(payments, relay, reference.NewGenerator("ACTIVATION"), 500, slog.Default())
}

func TestInitiator_Initiate_Queued(t *testing.T) {
	payments := newFakePayments()
	relay := &fakeRelay{resp: &payload.PayResponse{Status: "QUEUED", CheckoutRequestID: ptr("ck_1")}}
	userID := uuid.MustParse("ab12cd34-0000-4000-8000-000000000000")

	attempt, err := newInitiator(payments, relay).Initiate(context.Background(), userID, "0712345678")
	require.NoError(t, err)

	assert.Equal(t, StatePending, attempt.State)
	assert.Equal(t, MessagePending, attempt.Message)
	assert.Equal(t, "ck_1", attempt.CheckoutRequestID)
	assert.True(t, strings.HasPrefix(attempt.Reference, "ACTIVATION_ab12cd34_"))

	require.Len(t, relay.calls, 1)
	assert.Equal(t, payload.PayRequest{Phone: "254712345678", Amount: 500, Reference: attempt.Reference}, relay.calls[0])

	row := payments.only(t)
	assert.Equal(t, db.StatusQueued, row.Status)
	assert.Equal(t, "254712345678", row.PhoneNumber)
	assert.Equal(t, int64(500), row.Amount)
	require.NotNil(t, row.CheckoutRequestID)
	assert.Equal(t, "ck_1", *row.CheckoutRequestID)
}

func TestInitiator_Initiate_InvalidPhone(t *testing.T) {
	payments := newFakePayments()
	relay := &fakeRelay{}

	for _, input := range []string{"", "12345", "0712-34", "abc"} {
		_, err := newInitiator(payments, relay).Initiate(context.Background(), uuid.New(), input)

		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr, input)
		assert.Equal(t, "phone", validationErr.Field)
	}

	assert.Empty(t, relay.calls)
	assert.Empty(t, payments.rows)
}

func TestInitiator_Initiate_RelayErrorLeavesQueuedRow(t *testing.T) {
	payments := newFakePayments()
	relay := &fakeRelay{err: &relayclient.Error{StatusCode: 500, Message: "channel unavailable"}}

	_, err := newInitiator(payments, relay).Initiate(context.Background(), uuid.New(), "712345678")
	require.Error(t, err)
	assert.Equal(t, "channel unavailable", err.Error())

	row := payments.only(t)
	assert.Equal(t, db.StatusQueued, row.Status)
	assert.Nil(t, row.CheckoutRequestID)
}

func TestInitiator_Initiate_NotQueued(t *testing.T) {
	tests := []struct {
		name string
		resp *payload.PayResponse
		want string
	}{
		{name: "with message", resp: &payload.PayResponse{Status: "Failure", Message: "Insufficient float"}, want: "Insufficient float"},
		{name: "without message", resp: &payload.PayResponse{Status: "Rejected"}, want: "Payment initiation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payments := newFakePayments()
			_, err := newInitiator(payments, &fakeRelay{resp: tt.resp}).Initiate(context.Background(), uuid.New(), "0712345678")
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
			assert.Equal(t, db.StatusQueued, payments.only(t).Status)
		})
	}
}

func TestInitiator_Initiate_StoreFailureSkipsRelay(t *testing.T) {
	payments := newFakePayments()
	payments.createErr = errors.New("connection refused")
	relay := &fakeRelay{}

	_, err := newInitiator(payments, relay).Initiate(context.Background(), uuid.New(), "0712345678")
	require.Error(t, err)
	assert.Empty(t, relay.calls)
}

func TestInitiator_Initiate_AttachFailureIsNotFatal(t *testing.T) {
	payments := newFakePayments()
	payments.attachErr = errors.New("timeout")
	relay := &fakeRelay{resp: &payload.PayResponse{Status: "queued", CheckoutRequestID: ptr("ck_2")}}

	attempt, err := newInitiator(payments, relay).Initiate(context.Background(), uuid.New(), "0712345678")
	require.NoError(t, err)
	assert.Equal(t, StatePending, attempt.State)
}

func TestInitiator_Initiate_DistinctReferences(t *testing.T) {
	payments := newFakePayments()
	relay := &fakeRelay{resp: &payload.PayResponse{Status: "QUEUED"}}
	initiator := newInitiator(payments, relay)
	userID := uuid.New()

	first, err := initiator.Initiate(context.Background(), userID, "0712345678")
	require.NoError(t, err)
	second, err := initiator.Initiate(context.Background(), userID, "0712345678")
	require.NoError(t, err)

	assert.NotEqual(t, first.Reference, second.Reference)
	assert.Len(t, payments.rows, 2)
}
