package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"fxreport/internal/logging"
	"fxreport/internal/rates"
	"fxreport/internal/report"
)

const channelKafka = "kafka"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes each report as one message keyed by report date.
type KafkaNotifier struct {
	writer  messageWriter
	timeout time.Duration
	logger  zerolog.Logger
}

// NewKafkaNotifier writes to topic on brokers.
func NewKafkaNotifier(brokers []string, topic string, timeout time.Duration, logger zerolog.Logger) *KafkaNotifier {
	return newKafkaNotifier(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: timeout,
	}, timeout, logger)
}

func newKafkaNotifier(writer messageWriter, timeout time.Duration, logger zerolog.Logger) *KafkaNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KafkaNotifier{
		writer:  writer,
		timeout: timeout,
		logger:  logging.Component(logger, "alert_kafka"),
	}
}

// Send publishes the CSV body with caption and filename headers.
func (k *KafkaNotifier) Send(ctx context.Context, artifact report.Artifact, caption string) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(rates.FormatDate(artifact.Date)),
		Value: artifact.Data,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "caption", Value: []byte(caption)},
			{Key: "filename", Value: []byte(artifact.Name)},
			{Key: "content-type", Value: []byte(artifact.ContentType)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return &DeliveryError{Channel: channelKafka, Err: fmt.Errorf("write message: %w", err)}
	}

	k.logger.Info().Str("artifact", artifact.Name).Msg("report published (Kafka)")
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}

var _ Notifier = (*KafkaNotifier)(nil)
