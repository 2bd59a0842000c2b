// Package errs defines the coded errors returned by every layer of
// minichat. The code tells the caller how to react: fix the request,
// re-authenticate, back off, or give up.
package errs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Code string

const (
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeUnauthenticated   Code = "UNAUTHENTICATED"
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeNotFound          Code = "NOT_FOUND"
	CodeAlreadyExists     Code = "ALREADY_EXISTS"
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"
	CodeInternal          Code = "INTERNAL"
)

// Error is the error type crossing package boundaries.
type Error struct {
	Code   Code     `json:"code"`
	Params []string `json:"params,omitempty"`

	// RetryAfter is set on RESOURCE_EXHAUSTED errors.
	RetryAfter time.Duration `json:"-"`
	Cause      error         `json:"-"`
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if len(e.Params) > 0 {
		msg += ": " + strings.Join(e.Params, "; ")
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches errors with the same code and params, so that sentinels
// survive being re-created with a cause attached.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code || len(t.Params) != len(e.Params) {
		return false
	}
	for i := range t.Params {
		if t.Params[i] != e.Params[i] {
			return false
		}
	}
	return true
}

func New(code Code, params ...string) *Error {
	return &Error{Code: code, Params: params}
}

func Wrap(code Code, cause error, params ...string) *Error {
	return &Error{Code: code, Params: params, Cause: cause}
}

func InvalidArgument(params ...string) *Error { return New(CodeInvalidArgument, params...) }

func Internal(cause error) *Error { return Wrap(CodeInternal, cause) }

func Internalf(format string, args ...interface{}) *Error {
	return Internal(fmt.Errorf(format, args...))
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Code: CodeResourceExhausted, Params: ErrRateLimited.Params, RetryAfter: retryAfter}
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// As returns err as *Error, wrapping foreign errors as internal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

var (
	ErrInvalidIdentity      = New(CodeInvalidArgument, "invalid identity")
	ErrInvalidUsername      = New(CodeInvalidArgument, "username must be 3-32 chars: lowercase letters, digits, '.' and '-'")
	ErrWeakCredential       = New(CodeInvalidArgument, "password must be at least 6 characters")
	ErrInvalidMessageID     = New(CodeInvalidArgument, "invalid message id")
	ErrDuplicateUser        = New(CodeAlreadyExists, "username is already taken")
	ErrInvalidCredentials   = New(CodeUnauthenticated, "invalid username or password")
	ErrUnauthenticated      = New(CodeUnauthenticated, "authentication required")
	ErrForbidden            = New(CodePermissionDenied, "not a participant of the conversation")
	ErrConversationNotFound = New(CodeNotFound, "conversation not found")
	ErrRateLimited          = New(CodeResourceExhausted, "too many requests")
)
