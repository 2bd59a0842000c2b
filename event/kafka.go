package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/segmentio/kafka-go"
)

const (
	kafkaWriteTimeout = 10 * time.Second
	publishTimeout    = 3 * time.Second
)

// KafkaPublisher writes events to one topic, keyed by conversation id so
// that the events of a conversation stay ordered within a partition.
type KafkaPublisher struct {
	writer   IKafkaWriter
	maxBytes int
}

func NewKafkaPublisher(brokers []string, topic string, maxBytes int) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.Hash{},
		Dialer: &kafka.Dialer{
			Timeout:   kafkaWriteTimeout,
			DualStack: true,
		},
	})
	return NewKafkaPublisherWithWriter(w, maxBytes)
}

func NewKafkaPublisherWithWriter(w IKafkaWriter, maxBytes int) *KafkaPublisher {
	return &KafkaPublisher{writer: w, maxBytes: maxBytes}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e *Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("error marshal event: %v", err)
	}
	if p.maxBytes > 0 && len(value) > p.maxBytes {
		return fmt.Errorf("event exceeds max limit: %d bytes", p.maxBytes)
	}

	km := kafka.Message{
		Key:   []byte(e.ConversationID),
		Value: value,
	}

	ctx2, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx2, km); err != nil {
		return fmt.Errorf("error write to kafka: %s", err)
	}
	glog.V(5).Infof("event published: %s %s", e.Type, e.ConversationID)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
