package outbox

import (
	"context"
	"log/slog"

	"activation-relay/internal/db"
	"github.com/google/uuid"
)

type JobProcessor interface {
	Process(ctx context.Context, jobID uuid.UUID) error
}

// LocalPublisher runs jobs in-process. Processing failures are recorded on the
// job by the processor itself, so they do not count as publish failures.
type LocalPublisher struct {
	processor JobProcessor
	logger    *slog.Logger
}

func NewLocalPublisher(processor JobProcessor, logger *slog.Logger) *LocalPublisher {
	return &LocalPublisher{processor: processor, logger: logger}
}

func (p *LocalPublisher) Publish(ctx context.Context, jobs []*db.ActivationJobEntity) error {
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.processor.Process(ctx, job.ID); err != nil {
			p.logger.WarnContext(ctx, "Activation job failed", "jobId", job.ID, "error", err)
		}
	}
	return nil
}
