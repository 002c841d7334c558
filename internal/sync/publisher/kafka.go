package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/segmentio/kafka-go"

	"unified-ai/backend/internal/sync/domain"
)

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("publisher: CBOR encoder initialization failed: " + err.Error())
	}
}

// Message is the wire form of a sync event on the fan-out topic.
type Message struct {
	ID          string            `cbor:"id"`
	DeviceID    string            `cbor:"device_id"`
	UserID      string            `cbor:"user_id"`
	EntityType  string            `cbor:"entity_type"`
	EntityID    string            `cbor:"entity_id"`
	Operation   string            `cbor:"operation"`
	VectorClock map[string]uint64 `cbor:"vector_clock"`
	Payload     []byte            `cbor:"payload,omitempty"`
	RecordedAt  int64             `cbor:"recorded_at"` // unix millis
}

// Encode returns the deterministic CBOR encoding of e.
func Encode(e *domain.Event) ([]byte, error) {
	return encMode.Marshal(Message{
		ID:          e.ID,
		DeviceID:    e.DeviceID,
		UserID:      e.UserID,
		EntityType:  e.EntityType,
		EntityID:    e.EntityID,
		Operation:   string(e.Operation),
		VectorClock: e.VectorClock.Counters(),
		Payload:     e.Payload,
		RecordedAt:  e.RecordedAt.UnixMilli(),
	})
}

// Decode parses a message produced by Encode.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := cbor.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode sync message: %w", err)
	}
	return &m, nil
}

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by entity so every
// change to one entity lands on the same partition.
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaPublisher returns a publisher for topic. brokers and topic must be non-empty.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("publisher: brokers and topic are required")
	}
	return NewKafkaPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}), nil
}

// NewKafkaPublisherWithWriter returns a publisher over w.
func NewKafkaPublisherWithWriter(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e *domain.Event) error {
	value, err := Encode(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Key().String()),
		Value: value,
		Time:  e.RecordedAt,
	})
}

// Close closes the Kafka writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
