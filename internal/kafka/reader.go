package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"activation-relay/internal/config"
	"activation-relay/internal/logcontext"
	"activation-relay/internal/message"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type Metrics struct {
	ReadErrorCounter      *metrics.Counter
	UnmarshalErrorCounter *metrics.Counter
	ProcessErrorCounter   *metrics.Counter
	SuccessCounter        *metrics.Counter
}

var activationJobMetrics = Metrics{
	ReadErrorCounter:      metrics.GetOrCreateCounter(`kafka_reader_total{result="read_error",type="activation_job"}`),
	UnmarshalErrorCounter: metrics.GetOrCreateCounter(`kafka_reader_total{result="unmarshal_error",type="activation_job"}`),
	ProcessErrorCounter:   metrics.GetOrCreateCounter(`kafka_reader_total{result="process_error",type="activation_job"}`),
	SuccessCounter:        metrics.GetOrCreateCounter(`kafka_reader_total{result="success",type="activation_job"}`),
}

type JobProcessor interface {
	Process(ctx context.Context, jobID uuid.UUID) error
}

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func NewReader(cfg config.Kafka) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: strings.Split(cfg.Broker.URL, ","),
		GroupID: cfg.Reader.GroupID,
		Topic:   cfg.Topic.ActivationJobs,
	})
}

// ReadActivationJobs consumes jobs until ctx is done. Failed jobs are not
// redelivered by Kafka: the processor reschedules them in the outbox table.
func ReadActivationJobs(ctx context.Context, reader MessageReader, processor JobProcessor, logger *slog.Logger) {
	readMessages(ctx, reader, logger, func(ctx context.Context, value []byte) error {
		var job message.ActivationJob
		if err := json.Unmarshal(value, &job); err != nil {
			activationJobMetrics.UnmarshalErrorCounter.Inc()
			return errors.Wrap(err, "unmarshal activation job")
		}
		ctx = logcontext.AppendCtx(ctx, slog.String("reference", job.PaymentReference))
		return processor.Process(ctx, job.ID)
	}, activationJobMetrics)
}

func readMessages(ctx context.Context, reader MessageReader, logger *slog.Logger, process func(context.Context, []byte) error, kafkaMetrics Metrics) {
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.InfoContext(ctx, "Context done, stopping reader")
				return
			}
			logger.ErrorContext(ctx, "Error reading message", "error", err)
			kafkaMetrics.ReadErrorCounter.Inc()
			continue
		}
		logger.DebugContext(ctx, "Received message", "topic", m.Topic, "key", string(m.Key))

		if err := process(ctx, m.Value); err != nil {
			logger.ErrorContext(ctx, "Error processing message", "error", err)
			kafkaMetrics.ProcessErrorCounter.Inc()
			continue
		}
		kafkaMetrics.SuccessCounter.Inc()
	}
}
