package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"golang.org/x/crypto/bcrypt"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/clock"
	"github.com/mqy/minichat/errs"
	"github.com/mqy/minichat/store"
)

const MinPasswordLen = 6

// dummyHash keeps Authenticate's timing the same for unknown users.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// User is the stored identity document.
type User struct {
	Username      string    `json:"username"`
	PasswordHash  []byte    `json:"passwordHash"`
	Conversations []string  `json:"conversations"`
	CreateTime    time.Time `json:"createTime"`
}

type IUserStore interface {
	Register(ctx context.Context, username, password string) error
	Authenticate(ctx context.Context, username, password string) (Identity, error)
	Exists(ctx context.Context, username string) (bool, error)
	RecordMembership(ctx context.Context, username, conversationID string) (bool, error)
	ListMemberships(ctx context.Context, username string) ([]string, error)
}

// UserStore keeps one document per user in store.BucketUsers.
type UserStore struct {
	docs       store.IDocStore
	clock      clock.Clock
	bcryptCost int
}

func NewUserStore(docs store.IDocStore, c clock.Clock, bcryptCost int) *UserStore {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &UserStore{docs: docs, clock: c, bcryptCost: bcryptCost}
}

func (s *UserStore) get(ctx context.Context, username string) (*User, error) {
	doc, err := s.docs.Get(ctx, store.BucketUsers, username)
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal(doc, &u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", username, err)
	}
	return &u, nil
}

func (s *UserStore) Register(ctx context.Context, username, password string) error {
	username = chatstore.NormalizeUsername(username)
	if err := chatstore.ValidateUsername(username); err != nil {
		return err
	}
	if len(password) < MinPasswordLen {
		return errs.ErrWeakCredential
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		// passwords longer than 72 bytes end up here.
		return errs.InvalidArgument(err.Error())
	}

	doc, err := json.Marshal(&User{
		Username:      username,
		PasswordHash:  hash,
		Conversations: []string{},
		CreateTime:    s.clock.Now().UTC(),
	})
	if err != nil {
		return errs.Internal(err)
	}

	created, err := s.docs.Create(ctx, store.BucketUsers, username, doc)
	if err != nil {
		return errs.Internal(err)
	}
	if !created {
		return errs.ErrDuplicateUser
	}
	glog.Infof("user registered: %s", username)
	return nil
}

func (s *UserStore) Authenticate(ctx context.Context, username, password string) (Identity, error) {
	username = chatstore.NormalizeUsername(username)
	if chatstore.ValidateUsername(username) != nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return Identity{}, errs.ErrInvalidCredentials
	}

	u, err := s.get(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return Identity{}, errs.ErrInvalidCredentials
		}
		return Identity{}, errs.Internal(err)
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return Identity{}, errs.ErrInvalidCredentials
	}
	return Identity{Username: u.Username}, nil
}

func (s *UserStore) Exists(ctx context.Context, username string) (bool, error) {
	if _, err := s.docs.Get(ctx, store.BucketUsers, username); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, errs.Internal(err)
	}
	return true, nil
}

// RecordMembership appends conversationID to the user's list unless it is
// already there, in which case nothing is written. It reports whether the
// list changed.
func (s *UserStore) RecordMembership(ctx context.Context, username, conversationID string) (bool, error) {
	var added bool
	err := s.docs.Update(ctx, store.BucketUsers, username, func(doc []byte) ([]byte, error) {
		var u User
		if err := json.Unmarshal(doc, &u); err != nil {
			return nil, fmt.Errorf("decode user %s: %w", username, err)
		}
		for _, id := range u.Conversations {
			if id == conversationID {
				return nil, store.ErrSkipWrite
			}
		}
		u.Conversations = append(u.Conversations, conversationID)
		added = true
		return json.Marshal(&u)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, errs.ErrInvalidIdentity
		}
		return false, errs.Internal(err)
	}
	return added, nil
}

func (s *UserStore) ListMemberships(ctx context.Context, username string) ([]string, error) {
	u, err := s.get(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.ErrUnauthenticated
		}
		return nil, errs.Internal(err)
	}
	return u.Conversations, nil
}
