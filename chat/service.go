// Package chat implements the operations of the two-party chat: it gates
// every conversation read and write behind membership checks and rate
// limits, then delegates to the identity and conversation stores.
package chat

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/golang/glog"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/clock"
	"github.com/mqy/minichat/errs"
	"github.com/mqy/minichat/event"
)

const DefaultMaxBodyBytes = 4096

type RateLimiter interface {
	Allow(key string) (bool, time.Duration)
}

type TokenIssuer interface {
	Issue(username string) (string, time.Time, error)
}

// Session is the result of a successful login.
type Session struct {
	Identity  auth.Identity `json:"identity"`
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

type Options struct {
	Users         auth.IUserStore
	Conversations chatstore.IConversationStore
	Tokens        TokenIssuer
	LoginLimiter  RateLimiter
	SendLimiter   RateLimiter
	Events        event.Publisher
	Clock         clock.Clock
	MaxBodyBytes  int
}

type Service struct {
	users        auth.IUserStore
	convs        chatstore.IConversationStore
	tokens       TokenIssuer
	loginLimiter RateLimiter
	sendLimiter  RateLimiter
	events       event.Publisher
	clock        clock.Clock
	maxBodyBytes int
}

func NewService(o Options) *Service {
	s := &Service{
		users:        o.Users,
		convs:        o.Conversations,
		tokens:       o.Tokens,
		loginLimiter: o.LoginLimiter,
		sendLimiter:  o.SendLimiter,
		events:       o.Events,
		clock:        o.Clock,
		maxBodyBytes: o.MaxBodyBytes,
	}
	if s.events == nil {
		s.events = event.Nop{}
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = DefaultMaxBodyBytes
	}
	return s
}

func (s *Service) Register(ctx context.Context, username, password string) error {
	return s.users.Register(ctx, username, password)
}

// Login authenticates a user on behalf of origin, the caller's network
// address. Once origin is over its limit, attempts are rejected without
// looking at the credentials.
func (s *Service) Login(ctx context.Context, origin, username, password string) (*Session, error) {
	if ok, retryAfter := s.loginLimiter.Allow(origin); !ok {
		glog.Warningf("login rate limited, origin: %s", origin)
		return nil, errs.RateLimited(retryAfter)
	}

	id, err := s.users.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.tokens.Issue(id.Username)
	if err != nil {
		return nil, errs.Internal(err)
	}
	glog.V(5).Infof("login: %s from %s", id.Username, origin)
	return &Session{Identity: id, Token: token, ExpiresAt: expiresAt}, nil
}

// StartConversation returns the conversation between id and peer, creating
// it on first use. Memberships of both users are recorded on every call,
// so a call that failed half way is repaired by the next one.
// conversation.started is published by the call that adds the last
// membership, once per conversation.
func (s *Service) StartConversation(ctx context.Context, id auth.Identity, peer string) (string, error) {
	peer = chatstore.NormalizeUsername(peer)
	convID, err := chatstore.CanonicalID(id.Username, peer)
	if err != nil {
		return "", err
	}

	ok, err := s.users.Exists(ctx, peer)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errs.ErrInvalidIdentity
	}

	created, err := s.convs.EnsureConversation(ctx, convID)
	if err != nil {
		return "", err
	}

	// fixed order: the second membership is only ever added after the first.
	a, b, _ := chatstore.ParseID(convID)
	var completed bool
	for _, u := range []string{a, b} {
		added, err := s.users.RecordMembership(ctx, u, convID)
		if err != nil {
			glog.Errorf("record membership %s of %s error: %v", convID, u, err)
			return "", err
		}
		completed = added && u == b
	}

	if created {
		glog.Infof("conversation created: %s by %s", convID, id.Username)
	}
	if completed {
		glog.Infof("conversation started: %s by %s", convID, id.Username)
		s.publish(ctx, &event.Event{
			Type:           event.TypeConversationStarted,
			ConversationID: convID,
			From:           id.Username,
			To:             []string{peer},
		})
	}
	return convID, nil
}

func (s *Service) SendMessage(ctx context.Context, id auth.Identity, convID, body string) (int, error) {
	var params []string
	if convID == "" {
		params = append(params, "chatId: required")
	}
	if body == "" {
		params = append(params, "message: required")
	} else if len(body) > s.maxBodyBytes {
		params = append(params, "message: exceeds max size")
	} else if !utf8.ValidString(body) {
		params = append(params, "message: invalid utf-8")
	}
	if len(params) > 0 {
		return -1, errs.InvalidArgument(params...)
	}

	if err := s.authorize(ctx, id, convID); err != nil {
		return -1, err
	}

	if ok, retryAfter := s.sendLimiter.Allow(id.Username); !ok {
		glog.Warningf("send rate limited, user: %s", id.Username)
		return -1, errs.RateLimited(retryAfter)
	}

	messageID, err := s.convs.AppendMessage(ctx, convID, id.Username, body)
	if err != nil {
		return -1, err
	}

	peer, _ := chatstore.Peer(convID, id.Username)
	s.publish(ctx, &event.Event{
		Type:           event.TypeMessageSent,
		ConversationID: convID,
		MessageID:      &messageID,
		From:           id.Username,
		To:             []string{peer},
	})
	return messageID, nil
}

func (s *Service) GetMessages(ctx context.Context, id auth.Identity, convID string) ([]*chatstore.Message, error) {
	if convID == "" {
		return nil, errs.InvalidArgument("chatId: required")
	}
	if err := s.authorize(ctx, id, convID); err != nil {
		return nil, err
	}
	return s.convs.GetMessages(ctx, convID)
}

func (s *Service) MarkRead(ctx context.Context, id auth.Identity, convID string, messageID int) error {
	if convID == "" {
		return errs.InvalidArgument("chatId: required")
	}
	if err := s.authorize(ctx, id, convID); err != nil {
		return err
	}

	changed, err := s.convs.MarkRead(ctx, convID, messageID, id.Username)
	if err != nil {
		return err
	}
	if changed {
		peer, _ := chatstore.Peer(convID, id.Username)
		s.publish(ctx, &event.Event{
			Type:           event.TypeMessageRead,
			ConversationID: convID,
			MessageID:      &messageID,
			From:           id.Username,
			To:             []string{peer},
		})
	}
	return nil
}

func (s *Service) ListConversations(ctx context.Context, id auth.Identity) ([]string, error) {
	return s.users.ListMemberships(ctx, id.Username)
}

func (s *Service) publish(ctx context.Context, e *event.Event) {
	e.Time = s.clock.Now().UTC()
	// the write already happened; a canceled request must not drop its event.
	if err := s.events.Publish(context.WithoutCancel(ctx), e); err != nil {
		glog.Errorf("publish %s event of %s error: %v", e.Type, e.ConversationID, err)
	}
}
