package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"activation-relay/internal/config"
	"activation-relay/internal/db"
	"activation-relay/internal/message"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultBatchSize    = 100
	DefaultBatchTimeout = 100
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewWriter(cfg config.Kafka) *kafka.Writer {
	batchSize := cfg.Writer.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	batchTimeout := cfg.Writer.BatchTimeoutMs
	if batchTimeout <= 0 {
		batchTimeout = DefaultBatchTimeout
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(cfg.Broker.URL, ",")...),
		Topic:                  cfg.Topic.ActivationJobs,
		Balancer:               &kafka.ReferenceHash{},
		BatchSize:              batchSize,
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           time.Duration(batchTimeout) * time.Millisecond,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
}

// JobPublisher writes activation jobs to Kafka, keyed by payment reference so
// every delivery for one payment lands on the same partition.
type JobPublisher struct {
	writer MessageWriter
}

func NewJobPublisher(writer MessageWriter) *JobPublisher {
	return &JobPublisher{writer: writer}
}

func (p *JobPublisher) Publish(ctx context.Context, jobs []*db.ActivationJobEntity) error {
	msgs, err := toKafkaMessages(jobs)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrap(err, "write activation jobs")
	}
	return nil
}

func toKafkaMessages(jobs []*db.ActivationJobEntity) ([]kafka.Message, error) {
	kafkaMessages := make([]kafka.Message, 0, len(jobs))

	for _, entity := range jobs {
		value, err := json.Marshal(message.ActivationJob{
			ID:               entity.ID,
			PaymentReference: entity.PaymentReference,
			UserID:           entity.UserID,
			Attempts:         entity.Attempts,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "encode activation job %s", entity.ID)
		}

		kafkaMessages = append(kafkaMessages, kafka.Message{
			Key:   []byte(entity.PaymentReference),
			Value: value,
		})
	}
	return kafkaMessages, nil
}
