package auth

import (
	"net/http"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/errs"
)

const MockUserCookie = "x-user"

// MockClient trusts the `x-user` cookie. For development and tests only.
type MockClient struct {
	Client
}

func (c *MockClient) Auth(r *http.Request) (Identity, error) {
	var username string

	if c, err := r.Cookie(MockUserCookie); err == nil {
		username = chatstore.NormalizeUsername(c.Value)
	}

	if username == "" {
		return Identity{}, errs.ErrUnauthenticated
	}
	if err := chatstore.ValidateUsername(username); err != nil {
		return Identity{}, errs.ErrUnauthenticated
	}
	return Identity{Username: username}, nil
}
