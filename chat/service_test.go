package chat

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/clock"
	"github.com/mqy/minichat/errs"
	"github.com/mqy/minichat/event"
	event_mock "github.com/mqy/minichat/event/mock"
	"github.com/mqy/minichat/ratelimit"
	"github.com/mqy/minichat/store"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	users  *auth.UserStore
	convs  *chatstore.Store
	clock  *clock.FakeClock
	events *event_mock.MockPublisher
}

func newFixture(t *testing.T) *fixture {
	docs, err := store.OpenBolt(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	mockCtrl := gomock.NewController(t)
	events := event_mock.NewMockPublisher(mockCtrl)
	events.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	c := clock.Fake(t0)
	f := &fixture{
		users:  auth.NewUserStore(docs, c, bcrypt.MinCost),
		convs:  chatstore.NewStore(docs, c),
		clock:  c,
		events: events,
	}
	f.svc = NewService(Options{
		Users:         f.users,
		Conversations: f.convs,
		Tokens:        auth.NewTokenIssuer([]byte("secret"), time.Hour, c),
		LoginLimiter:  ratelimit.New("login", 5, 15*time.Minute, c),
		SendLimiter:   ratelimit.New("message", 10, time.Minute, c),
		Events:        events,
		Clock:         c,
	})
	return f
}

func (f *fixture) register(t *testing.T, names ...string) {
	for _, n := range names {
		require.NoError(t, f.svc.Register(context.Background(), n, "secret-"+n))
	}
}

func TestScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Register(ctx, "alice", "secret1"))
	require.NoError(t, f.svc.Register(ctx, "bob", "secret2"))

	aliceSess, err := f.svc.Login(ctx, "10.0.0.1", "alice", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, aliceSess.Token)
	assert.Equal(t, t0.Add(time.Hour), aliceSess.ExpiresAt)
	bobSess, err := f.svc.Login(ctx, "10.0.0.2", "bob", "secret2")
	require.NoError(t, err)
	alice, bob := aliceSess.Identity, bobSess.Identity

	id, err := f.svc.StartConversation(ctx, alice, "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice_bob", id)

	msgID, err := f.svc.SendMessage(ctx, bob, id, "hi")
	require.NoError(t, err)
	assert.Equal(t, 0, msgID)

	msgs, err := f.svc.GetMessages(ctx, alice, id)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "bob", msgs[0].Author)
	assert.Equal(t, "hi", msgs[0].Body)
	assert.Empty(t, msgs[0].ReadBy)

	require.NoError(t, f.svc.MarkRead(ctx, alice, id, 0))
	msgs, err = f.svc.GetMessages(ctx, bob, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, msgs[0].ReadBy)

	// idempotent.
	require.NoError(t, f.svc.MarkRead(ctx, alice, id, 0))
	msgs, err = f.svc.GetMessages(ctx, bob, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, msgs[0].ReadBy)

	for _, u := range []auth.Identity{alice, bob} {
		ids, err := f.svc.ListConversations(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice_bob"}, ids)
	}
}

func TestStartConversationInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice")
	alice := auth.Identity{Username: "alice"}

	for _, peer := range []string{"", "alice", " ALICE ", "nobody", "bad_name"} {
		_, err := f.svc.StartConversation(ctx, alice, peer)
		assert.ErrorIs(t, err, errs.ErrInvalidIdentity, "peer %q", peer)
	}

	ids, err := f.svc.ListConversations(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStartConversationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "bob")

	id1, err := f.svc.StartConversation(ctx, auth.Identity{Username: "alice"}, "bob")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, auth.Identity{Username: "alice"}, id1, "first")
	require.NoError(t, err)

	id2, err := f.svc.StartConversation(ctx, auth.Identity{Username: "bob"}, "Alice")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	// history survives a second start.
	msgs, err := f.svc.GetMessages(ctx, auth.Identity{Username: "bob"}, id1)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestConcurrentStartConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "bob")

	mockCtrl := gomock.NewController(t)
	events := event_mock.NewMockPublisher(mockCtrl)
	events.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	f.svc.events = events

	const N = 10
	var wg sync.WaitGroup
	ids := make([]string, 2*N)
	for i := 0; i < N; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			id, err := f.svc.StartConversation(ctx, auth.Identity{Username: "alice"}, "bob")
			assert.NoError(t, err)
			ids[2*i] = id
		}(i)
		go func(i int) {
			defer wg.Done()
			id, err := f.svc.StartConversation(ctx, auth.Identity{Username: "bob"}, "alice")
			assert.NoError(t, err)
			ids[2*i+1] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, "alice_bob", id)
	}
	for _, u := range []string{"alice", "bob"} {
		list, err := f.svc.ListConversations(ctx, auth.Identity{Username: u})
		require.NoError(t, err)
		assert.Equal(t, []string{"alice_bob"}, list)
	}
	msgs, err := f.convs.GetMessages(ctx, "alice_bob")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestThirdPartyForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "bob", "carol")
	alice := auth.Identity{Username: "alice"}
	carol := auth.Identity{Username: "carol"}

	id, err := f.svc.StartConversation(ctx, alice, "bob")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, alice, id, "private")
	require.NoError(t, err)

	_, err = f.svc.GetMessages(ctx, carol, id)
	assert.ErrorIs(t, err, errs.ErrForbidden)
	_, err = f.svc.SendMessage(ctx, carol, id, "let me in")
	assert.ErrorIs(t, err, errs.ErrForbidden)
	assert.ErrorIs(t, f.svc.MarkRead(ctx, carol, id, 0), errs.ErrForbidden)

	// unknown and malformed ids are denied the same way.
	_, err = f.svc.GetMessages(ctx, alice, "alice_carol")
	assert.ErrorIs(t, err, errs.ErrForbidden)
	_, err = f.svc.GetMessages(ctx, alice, "../etc/passwd")
	assert.ErrorIs(t, err, errs.ErrForbidden)

	msgs, err := f.convs.GetMessages(ctx, id)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].ReadBy)
}

func TestMissingConversationIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "bob")

	// membership without a conversation document.
	_, err := f.users.RecordMembership(ctx, "alice", "alice_bob")
	require.NoError(t, err)
	alice := auth.Identity{Username: "alice"}

	_, err = f.svc.GetMessages(ctx, alice, "alice_bob")
	assert.ErrorIs(t, err, errs.ErrConversationNotFound)
	_, err = f.svc.SendMessage(ctx, alice, "alice_bob", "hi")
	assert.ErrorIs(t, err, errs.ErrConversationNotFound)
	assert.ErrorIs(t, f.svc.MarkRead(ctx, alice, "alice_bob", 0), errs.ErrConversationNotFound)
}

func TestMarkReadInvalidMessageID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "bob")
	alice := auth.Identity{Username: "alice"}

	id, err := f.svc.StartConversation(ctx, alice, "bob")
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.MarkRead(ctx, alice, id, 0), errs.ErrInvalidMessageID)

	_, err = f.svc.SendMessage(ctx, alice, id, "one")
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.MarkRead(ctx, alice, id, 1), errs.ErrInvalidMessageID)
	assert.ErrorIs(t, f.svc.MarkRead(ctx, alice, id, -1), errs.ErrInvalidMessageID)
	assert.NoError(t, f.svc.MarkRead(ctx, alice, id, 0))
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := auth.Identity{Username: "alice"}

	_, err := f.svc.SendMessage(ctx, alice, "", "")
	e := errs.As(err)
	assert.Equal(t, errs.CodeInvalidArgument, e.Code)
	assert.Len(t, e.Params, 2)

	big := make([]byte, DefaultMaxBodyBytes+1)
	_, err = f.svc.SendMessage(ctx, alice, "alice_bob", string(big))
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))

	_, err = f.svc.GetMessages(ctx, auth.Identity{}, "alice_bob")
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestLoginRateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice")

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, "10.0.0.1", "alice", "wrong-password")
		assert.ErrorIs(t, err, errs.ErrInvalidCredentials)
	}

	// 6th attempt is rejected even with the right password.
	_, err := f.svc.Login(ctx, "10.0.0.1", "alice", "secret-alice")
	assert.ErrorIs(t, err, errs.ErrRateLimited)
	assert.Equal(t, 15*time.Minute, errs.As(err).RetryAfter)

	// other origins are not affected.
	_, err = f.svc.Login(ctx, "10.0.0.2", "alice", "secret-alice")
	assert.NoError(t, err)

	f.clock.Advance(15*time.Minute + time.Second)
	_, err = f.svc.Login(ctx, "10.0.0.1", "alice", "secret-alice")
	assert.NoError(t, err)
}

func TestSendRateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "bob", "carol")
	alice := auth.Identity{Username: "alice"}

	ab, err := f.svc.StartConversation(ctx, alice, "bob")
	require.NoError(t, err)
	ac, err := f.svc.StartConversation(ctx, alice, "carol")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		id := ab
		if i%2 == 1 {
			id = ac
		}
		_, err := f.svc.SendMessage(ctx, alice, id, "spam")
		require.NoError(t, err, "send %d", i+1)
	}

	// the limit is per identity, across conversations.
	_, err = f.svc.SendMessage(ctx, alice, ab, "spam")
	assert.ErrorIs(t, err, errs.ErrRateLimited)
	msgs, err := f.svc.GetMessages(ctx, alice, ab)
	require.NoError(t, err)
	assert.Len(t, msgs, 5)

	_, err = f.svc.SendMessage(ctx, auth.Identity{Username: "bob"}, ab, "hi")
	assert.NoError(t, err)

	f.clock.Advance(time.Minute + time.Second)
	_, err = f.svc.SendMessage(ctx, alice, ab, "again")
	assert.NoError(t, err)
}

func TestPublishesEvents(t *testing.T) {
	docs, err := store.OpenBolt(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	defer docs.Close()

	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	events := event_mock.NewMockPublisher(mockCtrl)

	c := clock.Fake(t0)
	users := auth.NewUserStore(docs, c, bcrypt.MinCost)
	svc := NewService(Options{
		Users:         users,
		Conversations: chatstore.NewStore(docs, c),
		Tokens:        auth.NewTokenIssuer([]byte("secret"), time.Hour, c),
		LoginLimiter:  ratelimit.New("login", 5, 15*time.Minute, c),
		SendLimiter:   ratelimit.New("message", 10, time.Minute, c),
		Events:        events,
		Clock:         c,
	})
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "alice", "secret1"))
	require.NoError(t, svc.Register(ctx, "bob", "secret2"))
	alice, bob := auth.Identity{Username: "alice"}, auth.Identity{Username: "bob"}

	var got []*event.Event
	events.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e *event.Event) error {
		got = append(got, e)
		return nil
	}).Times(3)

	id, err := svc.StartConversation(ctx, alice, "bob")
	require.NoError(t, err)
	_, err = svc.StartConversation(ctx, bob, "alice") // not new, no event
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, bob, id, "hi")
	require.NoError(t, err)
	require.NoError(t, svc.MarkRead(ctx, alice, id, 0))
	require.NoError(t, svc.MarkRead(ctx, alice, id, 0)) // unchanged, no event

	require.Len(t, got, 3)
	assert.Equal(t, event.TypeConversationStarted, got[0].Type)
	assert.Equal(t, []string{"bob"}, got[0].To)
	assert.Equal(t, event.TypeMessageSent, got[1].Type)
	assert.Equal(t, "bob", got[1].From)
	assert.Equal(t, []string{"alice"}, got[1].To)
	assert.Equal(t, 0, *got[1].MessageID)
	assert.Equal(t, event.TypeMessageRead, got[2].Type)
	assert.Equal(t, t0, got[2].Time)
}

func TestPublishErrorIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "bob")

	mockCtrl := gomock.NewController(t)
	failing := event_mock.NewMockPublisher(mockCtrl)
	failing.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker down")).AnyTimes()
	f.svc.events = failing

	id, err := f.svc.StartConversation(ctx, auth.Identity{Username: "alice"}, "bob")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, auth.Identity{Username: "alice"}, id, "hi")
	assert.NoError(t, err)
}

// flakyUsers fails the first RecordMembership for one user.
type flakyUsers struct {
	*auth.UserStore
	mu     sync.Mutex
	failOn string
}

func (u *flakyUsers) RecordMembership(ctx context.Context, username, convID string) (bool, error) {
	u.mu.Lock()
	fail := username == u.failOn
	if fail {
		u.failOn = ""
	}
	u.mu.Unlock()
	if fail {
		return false, errs.Internalf("injected failure")
	}
	return u.UserStore.RecordMembership(ctx, username, convID)
}

func TestStartConversationRecovers(t *testing.T) {
	for _, failOn := range []string{"alice", "bob"} {
		t.Run(failOn, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.register(t, "alice", "bob")

			mockCtrl := gomock.NewController(t)
			events := event_mock.NewMockPublisher(mockCtrl)
			f.svc.events = events
			f.svc.users = &flakyUsers{UserStore: f.users, failOn: failOn}
			alice, bob := auth.Identity{Username: "alice"}, auth.Identity{Username: "bob"}

			_, err := f.svc.StartConversation(ctx, alice, "bob")
			assert.Equal(t, errs.CodeInternal, errs.CodeOf(err))

			list, err := f.svc.ListConversations(ctx, bob)
			require.NoError(t, err)
			assert.Empty(t, list)

			// the retry converges and announces the conversation once.
			events.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e *event.Event) error {
				assert.Equal(t, event.TypeConversationStarted, e.Type)
				assert.Equal(t, "alice_bob", e.ConversationID)
				return nil
			}).Times(1)

			id, err := f.svc.StartConversation(ctx, alice, "bob")
			require.NoError(t, err)
			_, err = f.svc.StartConversation(ctx, bob, "alice")
			require.NoError(t, err)
			for _, u := range []auth.Identity{alice, bob} {
				list, err := f.svc.ListConversations(ctx, u)
				require.NoError(t, err)
				assert.Equal(t, []string{id}, list)
			}
		})
	}
}

func TestSendMessageRejectsInvalidUTF8(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "bob")
	alice := auth.Identity{Username: "alice"}

	id, err := f.svc.StartConversation(ctx, alice, "bob")
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, alice, id, "hi\xff")
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))
	assert.Equal(t, []string{"message: invalid utf-8"}, errs.As(err).Params)

	body := "héllo, 世界"
	_, err = f.svc.SendMessage(ctx, alice, id, body)
	require.NoError(t, err)
	msgs, err := f.svc.GetMessages(ctx, alice, id)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, body, msgs[0].Body)
}
