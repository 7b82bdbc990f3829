package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return w.err
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherEncodesEvent(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w, logger: zap.NewNop()}

	event := VerdictEvent{
		RequestID: "req-1", UserID: "user-1", FileName: "a.wav",
		Authentic: true, RealProbability: 82, FakeProbability: 18,
		CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := p.PublishVerdict(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.messages) != 1 || string(w.messages[0].Key) != "req-1" {
		t.Fatalf("unexpected messages %+v", w.messages)
	}
	var decoded VerdictEvent
	if err := json.Unmarshal(w.messages[0].Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.CreatedAt.Equal(event.CreatedAt) {
		t.Fatalf("unexpected created_at %v", decoded.CreatedAt)
	}
	decoded.CreatedAt = event.CreatedAt
	if decoded != event {
		t.Fatalf("expected %+v, got %+v", event, decoded)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer to close, err=%v", err)
	}
}

func TestKafkaPublisherReturnsWriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := &KafkaPublisher{writer: w, logger: zap.NewNop()}
	if err := p.PublishVerdict(context.Background(), VerdictEvent{RequestID: "r"}); err == nil {
		t.Fatal("expected error")
	}
}
