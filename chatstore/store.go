package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/mqy/minichat/clock"
	"github.com/mqy/minichat/errs"
	"github.com/mqy/minichat/store"
)

// Store implements IConversationStore with one document per conversation.
type Store struct {
	docs  store.IDocStore
	clock clock.Clock
}

func NewStore(docs store.IDocStore, c clock.Clock) *Store {
	return &Store{docs: docs, clock: c}
}

func decode(doc []byte) (*Conversation, error) {
	var c Conversation
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &c, nil
}

func (s *Store) EnsureConversation(ctx context.Context, id string) (bool, error) {
	a, b, err := ParseID(id)
	if err != nil {
		return false, err
	}

	doc, err := json.Marshal(&Conversation{
		ID:           id,
		Kind:         Kind,
		Participants: [2]string{a, b},
		CreateTime:   s.clock.Now().UTC(),
		Messages:     []*Message{},
	})
	if err != nil {
		return false, errs.Internal(err)
	}

	created, err := s.docs.Create(ctx, store.BucketConversations, id, doc)
	if err != nil {
		return false, errs.Internal(err)
	}
	if created {
		glog.V(5).Infof("conversation created: %s", id)
	}
	return created, nil
}

func (s *Store) AppendMessage(ctx context.Context, id, author, body string) (int, error) {
	var messageID int
	err := s.docs.Update(ctx, store.BucketConversations, id, func(doc []byte) ([]byte, error) {
		c, err := decode(doc)
		if err != nil {
			return nil, err
		}

		sentAt := s.clock.Now().UTC()
		if n := len(c.Messages); n > 0 && sentAt.Before(c.Messages[n-1].SentAt) {
			// never go backwards within a conversation.
			sentAt = c.Messages[n-1].SentAt
		}

		messageID = len(c.Messages)
		c.Messages = append(c.Messages, &Message{
			Author: author,
			Body:   body,
			SentAt: sentAt,
			ReadBy: []string{},
		})
		return json.Marshal(c)
	})
	if err != nil {
		return -1, s.mapError(err)
	}
	return messageID, nil
}

func (s *Store) GetMessages(ctx context.Context, id string) ([]*Message, error) {
	doc, err := s.docs.Get(ctx, store.BucketConversations, id)
	if err != nil {
		return nil, s.mapError(err)
	}
	c, err := decode(doc)
	if err != nil {
		return nil, errs.Internal(err)
	}
	return c.Messages, nil
}

func (s *Store) MarkRead(ctx context.Context, id string, messageID int, reader string) (bool, error) {
	var changed bool
	err := s.docs.Update(ctx, store.BucketConversations, id, func(doc []byte) ([]byte, error) {
		c, err := decode(doc)
		if err != nil {
			return nil, err
		}
		if messageID < 0 || messageID >= len(c.Messages) {
			return nil, errs.ErrInvalidMessageID
		}

		m := c.Messages[messageID]
		for _, u := range m.ReadBy {
			if u == reader {
				return nil, store.ErrSkipWrite
			}
		}
		m.ReadBy = append(m.ReadBy, reader)
		changed = true
		return json.Marshal(c)
	})
	if err != nil {
		return false, s.mapError(err)
	}
	return changed, nil
}

func (s *Store) mapError(err error) error {
	var e *errs.Error
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errs.ErrConversationNotFound
	case errors.As(err, &e):
		return e
	default:
		return errs.Internal(err)
	}
}
