package service

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthentication
	KindNotFound
	KindConflict
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Reason codes are stable identifiers used in logs and response bodies.
type Reason string

const (
	ReasonMissingFields        Reason = "MISSING_FIELDS"
	ReasonPasswordUnchanged    Reason = "PASSWORD_UNCHANGED"
	ReasonPasswordTooLong      Reason = "PASSWORD_TOO_LONG"
	ReasonDetailsUnchanged     Reason = "DETAILS_UNCHANGED"
	ReasonUnauthenticated      Reason = "UNAUTHENTICATED"
	ReasonInvalidCredentials   Reason = "INVALID_CREDENTIALS"
	ReasonInvalidToken         Reason = "INVALID_TOKEN"
	ReasonTokenExpired         Reason = "TOKEN_EXPIRED"
	ReasonTokenReuseOrMismatch Reason = "TOKEN_REUSE_OR_MISMATCH"
	ReasonUserNotFound         Reason = "USER_NOT_FOUND"
	ReasonUserExists           Reason = "USER_EXISTS"
	ReasonAccountChanged       Reason = "ACCOUNT_CHANGED"
	ReasonInternal             Reason = "INTERNAL"
)

type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on reason so a wrapped or re-messaged error still equals its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

var (
	ErrMissingFields        = &Error{Kind: KindValidation, Reason: ReasonMissingFields, Message: "required fields are missing"}
	ErrPasswordUnchanged    = &Error{Kind: KindValidation, Reason: ReasonPasswordUnchanged, Message: "new password must be different from old password"}
	ErrPasswordTooLong      = &Error{Kind: KindValidation, Reason: ReasonPasswordTooLong, Message: "password must be at most 72 bytes"}
	ErrDetailsUnchanged     = &Error{Kind: KindValidation, Reason: ReasonDetailsUnchanged, Message: "new values cannot be the same as current details"}
	ErrUnauthenticated      = &Error{Kind: KindAuthentication, Reason: ReasonUnauthenticated, Message: "authentication required"}
	ErrInvalidCredentials   = &Error{Kind: KindAuthentication, Reason: ReasonInvalidCredentials, Message: "invalid credentials"}
	ErrInvalidToken         = &Error{Kind: KindAuthentication, Reason: ReasonInvalidToken, Message: "invalid token"}
	ErrTokenExpired         = &Error{Kind: KindAuthentication, Reason: ReasonTokenExpired, Message: "token expired"}
	ErrTokenReuseOrMismatch = &Error{Kind: KindAuthentication, Reason: ReasonTokenReuseOrMismatch, Message: "refresh token is expired or already used"}
	ErrUserNotFound         = &Error{Kind: KindNotFound, Reason: ReasonUserNotFound, Message: "user not found"}
	ErrUserExists           = &Error{Kind: KindConflict, Reason: ReasonUserExists, Message: "user with email or username already exists"}
	ErrAccountChanged       = &Error{Kind: KindConflict, Reason: ReasonAccountChanged, Message: "account was modified concurrently, retry"}
)

func internalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Reason: ReasonInternal, Message: message, Err: err}
}

// AsError extracts the service error from err. Anything that is not a
// service error is reported as internal.
func AsError(err error) *Error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return internalError("unexpected failure", err)
}
