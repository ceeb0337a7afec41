package outbox

import (
	"context"
	"log/slog"
	"testing"

	"activation-relay/internal/db"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type recordingProcessor struct {
	processed []uuid.UUID
	fail      map[uuid.UUID]bool
}

func (p *recordingProcessor) Process(_ context.Context, jobID uuid.UUID) error {
	p.processed = append(p.processed, jobID)
	if p.fail[jobID] {
		return errors.New("ledger unavailable")
	}
	return nil
}

func TestLocalPublisher_ProcessingErrorsAreNotPublishErrors(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	processor := &recordingProcessor{fail: map[uuid.UUID]bool{first: true}}

	err := NewLocalPublisher(processor, slog.Default()).Publish(context.Background(),
		[]*db.ActivationJobEntity{{ID: first}, {ID: second}})

	assert.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first, second}, processor.processed)
}

func TestLocalPublisher_StopsOnCancelledContext(t *testing.T) {
	processor := &recordingProcessor{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewLocalPublisher(processor, slog.Default()).Publish(ctx, []*db.ActivationJobEntity{{ID: uuid.New()}})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, processor.processed)
}
