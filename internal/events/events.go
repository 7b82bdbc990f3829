// Package events publishes finished verdicts to the event stream.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// VerdictEvent is emitted once per completed analysis.
type VerdictEvent struct {
	RequestID       string    `json:"request_id"`
	UserID          string    `json:"user_id"`
	FileName        string    `json:"file_name"`
	Authentic       bool      `json:"authentic"`
	RealProbability float64   `json:"real_probability"`
	FakeProbability float64   `json:"fake_probability"`
	CreatedAt       time.Time `json:"created_at"`
}

// Publisher delivers verdict events.
type Publisher interface {
	PublishVerdict(ctx context.Context, event VerdictEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishVerdict(context.Context, VerdictEvent) error { return nil }

func (NopPublisher) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by request id.
type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

// NewKafkaPublisher returns a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			WriteTimeout:           5 * time.Second,
		},
		logger: logger.Named("events"),
	}
}

func (p *KafkaPublisher) PublishVerdict(ctx context.Context, event VerdictEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(event.RequestID), Value: value}); err != nil {
		p.logger.Warn("failed to publish verdict event", zap.Error(err), zap.String("request_id", event.RequestID))
		return err
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
