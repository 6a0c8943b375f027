package app

import (
	"context"
	"encoding/json"

	"transcoding_service/internal/transcode/domain"
	errprocess "transcoding_service/pkg/err"

	"github.com/segmentio/kafka-go"
)

// OutcomeNotifier publish job outcomes for downstream consumers
type OutcomeNotifier interface {
	Notify(ctx context.Context, outcome domain.JobOutcome) error
}

// NoopNotifier drop outcomes
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, domain.JobOutcome) error { return nil }

// MessageWriter subset of *kafka.Writer
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier write outcomes keyed by video name, so one video's outcomes keep their order
type KafkaNotifier struct {
	writer MessageWriter
}

// NewKafkaNotifier create KafkaNotifier
func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

func (n *KafkaNotifier) Notify(ctx context.Context, outcome domain.JobOutcome) error {
	value, err := json.Marshal(outcome)
	if err != nil {
		return errprocess.Wrap(errprocess.KindUnknown, "notifier.Notify", err, "encode outcome")
	}
	if err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(outcome.VideoName),
		Value: value,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(outcome.Status)},
		},
	}); err != nil {
		return errprocess.Wrap(errprocess.KindTransient, "notifier.Notify", err, "kafka write")
	}
	return nil
}
