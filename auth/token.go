package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pborman/uuid"

	"github.com/mqy/minichat/clock"
	"github.com/mqy/minichat/errs"
)

const (
	TokenCookie = "x-token"

	bearerPrefix = "Bearer "
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// TokenIssuer issues and verifies HS256 session tokens whose subject is
// the username.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewTokenIssuer(secret []byte, ttl time.Duration, c clock.Clock) *TokenIssuer {
	return &TokenIssuer{secret: secret, ttl: ttl, clock: c}
}

// Issue returns a signed token for username and its expiry time.
func (v *TokenIssuer) Issue(username string) (string, time.Time, error) {
	now := v.clock.Now()
	expiresAt := now.Add(v.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   username,
		ID:        uuid.New(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify validates the token and returns its subject.
func (v *TokenIssuer) Verify(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.clock.Now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// TokenClient authenticates requests carrying a token issued by
// TokenIssuer, either as `Authorization: Bearer` or in the `x-token` cookie.
type TokenClient struct {
	issuer *TokenIssuer
}

func NewTokenClient(issuer *TokenIssuer) *TokenClient {
	return &TokenClient{issuer: issuer}
}

func (c *TokenClient) Auth(r *http.Request) (Identity, error) {
	var token string
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		token = strings.TrimSpace(h[len(bearerPrefix):])
	} else if ck, err := r.Cookie(TokenCookie); err == nil {
		token = ck.Value
	}
	if token == "" {
		return Identity{}, errs.ErrUnauthenticated
	}

	username, err := c.issuer.Verify(token)
	if err != nil {
		return Identity{}, errs.Wrap(errs.CodeUnauthenticated, err, errs.ErrUnauthenticated.Params...)
	}
	return Identity{Username: username}, nil
}
