package auth

import "net/http"

// Identity is an authenticated user. It is passed explicitly into every
// protected operation.
type Identity struct {
	Username string `json:"username"`
}

type Client interface {
	// Auth authenticates the current request, returns the caller identity.
	Auth(r *http.Request) (Identity, error)
}
