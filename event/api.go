// Package event publishes chat events for downstream consumers such as a
// push server or an audit pipeline. Delivery to end users is not its job.
package event

//go:generate mockgen -destination=mock/mock_api.go -package=event_mock github.com/mqy/minichat/event IKafkaReader,IKafkaWriter,Publisher

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TypeConversationStarted = "conversation.started"
	TypeMessageSent         = "message.sent"
	TypeMessageRead         = "message.read"
)

// Event is the JSON value written to the events topic.
type Event struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId"`
	MessageID      *int      `json:"messageId,omitempty"`
	From           string    `json:"from"`
	To             []string  `json:"to,omitempty"`
	Time           time.Time `json:"time"`
}

type IKafkaReader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

type IKafkaWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

type Publisher interface {
	Publish(ctx context.Context, e *Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, *Event) error { return nil }
func (Nop) Close() error                          { return nil }
