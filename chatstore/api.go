package chatstore

import (
	"context"
	"time"
)

// Kind is the only conversation kind: one-on-one, two-party.
const Kind = "two"

// Message is one entry of a conversation. Its index in the conversation
// is its message id. ReadBy is the only field that changes after append.
type Message struct {
	Author string    `json:"author"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sentAt"`
	ReadBy []string  `json:"readBy"`
}

// Conversation is the stored document, keyed by its canonical id.
type Conversation struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"`
	Participants [2]string  `json:"participants"`
	CreateTime   time.Time  `json:"createTime"`
	Messages     []*Message `json:"messages"`
}

type IConversationStore interface {
	// EnsureConversation creates an empty conversation if absent.
	// Returns true when this call created it.
	EnsureConversation(ctx context.Context, id string) (bool, error)

	// AppendMessage appends a message and returns its id.
	AppendMessage(ctx context.Context, id, author, body string) (int, error)

	// GetMessages returns the full history in append order.
	GetMessages(ctx context.Context, id string) ([]*Message, error)

	// MarkRead adds reader to the message's read set.
	// Returns true when the set changed.
	MarkRead(ctx context.Context, id string, messageID int, reader string) (bool, error)
}
