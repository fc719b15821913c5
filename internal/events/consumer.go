package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"speech-analytics-service/internal/observability/logging"
)

// Envelope is one consumed event with its routing metadata.
type Envelope struct {
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	EventType string          `json:"eventType"`
	Offset    int64           `json:"offset"`
	Payload   json.RawMessage `json:"payload"`
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer tails one topic. It reads partition 0 without a consumer group,
// which is enough for the single-partition debug topics it is used with.
type Consumer struct {
	reader  messageReader
	topic   string
	backoff time.Duration
	logger  zerolog.Logger
}

// NewConsumer starts reading topic from the first message newer than
// now-since.
func NewConsumer(ctx context.Context, brokers []string, topic string, since time.Duration) (*Consumer, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	if since > 0 {
		if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
			_ = reader.Close()
			return nil, err
		}
	}
	return newConsumer(reader, topic), nil
}

func newConsumer(r messageReader, topic string) *Consumer {
	return &Consumer{
		reader:  r,
		topic:   topic,
		backoff: time.Second,
		logger:  logging.WithComponent("consumer").With().Str("topic", topic).Logger(),
	}
}

// Run delivers every well-formed message to fn until ctx is done. Read
// errors are logged and retried after a pause.
func (c *Consumer) Run(ctx context.Context, fn func(Envelope)) error {
	defer c.reader.Close()
	c.logger.Info().Msg("Consuming events")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn().Err(err).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		if !json.Valid(msg.Value) {
			c.logger.Warn().Int64("offset", msg.Offset).Msg("Skipping malformed event")
			continue
		}
		fn(Envelope{
			Topic:     c.topic,
			Key:       string(msg.Key),
			EventType: header(msg.Headers, "eventType"),
			Offset:    msg.Offset,
			Payload:   msg.Value,
		})
	}
}

func header(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
