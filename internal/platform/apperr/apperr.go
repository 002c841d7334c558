// Package apperr defines the error taxonomy shared by services and transports.
// Services return the sentinels below (optionally wrapped); the HTTP layer maps
// an error's Kind to a status code.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindConflict
	KindNotFound
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error is a classified application error. Two Errors match under errors.Is
// when their codes are equal, so Validation("...") matches ErrValidation.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrValidation            = &Error{Kind: KindValidation, Code: "validation", Msg: "validation failed"}
	ErrInvalidCredentials    = &Error{Kind: KindAuthentication, Code: "invalid_credentials", Msg: "invalid credentials"}
	ErrTokenExpired          = &Error{Kind: KindAuthentication, Code: "token_expired", Msg: "token expired"}
	ErrInvalidToken          = &Error{Kind: KindAuthentication, Code: "invalid_token", Msg: "invalid token"}
	ErrInvalidRefreshToken   = &Error{Kind: KindAuthentication, Code: "invalid_refresh_token", Msg: "invalid refresh token"}
	ErrInvalidOrExpiredToken = &Error{Kind: KindValidation, Code: "invalid_or_expired_token", Msg: "invalid or expired token"}
	ErrDuplicateEmail        = &Error{Kind: KindConflict, Code: "duplicate_email", Msg: "email already registered"}
	ErrPermissionDenied      = &Error{Kind: KindAuthorization, Code: "permission_denied", Msg: "permission denied"}
	ErrNotFound              = &Error{Kind: KindNotFound, Code: "not_found", Msg: "not found"}
	ErrTooManyAttempts       = &Error{Kind: KindRateLimited, Code: "too_many_attempts", Msg: "too many attempts"}
	ErrAlreadyResolved       = &Error{Kind: KindConflict, Code: "already_resolved", Msg: "conflict already resolved"}
	ErrAlreadyMember         = &Error{Kind: KindConflict, Code: "already_member", Msg: "user is already a member"}
)

// Validation returns a validation error with a formatted message.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Code: ErrValidation.Code, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// PublicMessage returns a message safe to show to API clients. Internal errors
// are never echoed.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}
