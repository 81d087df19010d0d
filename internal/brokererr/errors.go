// Package brokererr defines the broker's error taxonomy (spec.md §7):
// AuthenticationFailed, PermissionDenied, InvalidData, InternalFailure, and
// the out-of-band NeedsPrompt signal. Every error a driver or the dispatcher
// can produce wraps one of these sentinels, carrying a safe public message
// alongside a richer one for local logs — the same sentinel-error-plus-
// wrapper shape the reference stack uses in
// internal/sessionbroker/errors.go, generalized from a flat var block to a
// typed wrapper because the broker needs to carry a per-error public
// message, not just match on identity.
package brokererr

import (
	"errors"
	"fmt"
)

// Kind identifies which branch of the taxonomy an error belongs to.
type Kind int

const (
	KindAuthenticationFailed Kind = iota
	KindPermissionDenied
	KindInvalidData
	KindInternalFailure
)

func (k Kind) String() string {
	switch k {
	case KindAuthenticationFailed:
		return "authentication-failed"
	case KindPermissionDenied:
		return "permission-denied"
	case KindInvalidData:
		return "invalid-data"
	case KindInternalFailure:
		return "internal-failure"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against a Kind without needing the
// wrapped *AuthError.
var (
	ErrAuthenticationFailed = errors.New("brokererr: authentication failed")
	ErrPermissionDenied     = errors.New("brokererr: permission denied")
	ErrInvalidData          = errors.New("brokererr: invalid data")
	ErrInternalFailure      = errors.New("brokererr: internal failure")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindAuthenticationFailed:
		return ErrAuthenticationFailed
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindInvalidData:
		return ErrInvalidData
	default:
		return ErrInternalFailure
	}
}

// AuthError is the error type returned by dispatcher and driver operations.
// PublicMessage is safe to send to the HTTP client; DebugDetail is logged
// locally only and may contain raw helper output.
type AuthError struct {
	Kind          Kind
	PublicMessage string
	DebugDetail   string
}

func (e *AuthError) Error() string {
	if e.DebugDetail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.PublicMessage, e.DebugDetail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.PublicMessage)
}

func (e *AuthError) Unwrap() error {
	return sentinelFor(e.Kind)
}

// New builds an *AuthError with the given kind and public message.
func New(kind Kind, publicMessage string) *AuthError {
	return &AuthError{Kind: kind, PublicMessage: publicMessage}
}

// Newf builds an *AuthError whose DebugDetail is formatted from args; the
// PublicMessage stays generic so helper internals never reach the client.
func Newf(kind Kind, publicMessage, debugFormat string, args ...any) *AuthError {
	return &AuthError{Kind: kind, PublicMessage: publicMessage, DebugDetail: fmt.Sprintf(debugFormat, args...)}
}

// AuthenticationFailed is the everyday "bad credentials" verdict.
func AuthenticationFailed(publicMessage string) *AuthError {
	return New(KindAuthenticationFailed, publicMessage)
}

// PermissionDenied wraps a helper's explicit permission-denied verdict.
func PermissionDenied(publicMessage string) *AuthError {
	return New(KindPermissionDenied, publicMessage)
}

// InvalidData covers malformed helper JSON and malformed resume tokens.
func InvalidData(publicMessage string) *AuthError {
	return New(KindInvalidData, publicMessage)
}

// InternalFailure covers spawn errors, allocation failures, and throttle
// rejections.
func InternalFailure(publicMessage string) *AuthError {
	return New(KindInternalFailure, publicMessage)
}

// ErrThrottled is returned verbatim by the dispatcher when the admission
// throttle rejects an attempt, per spec.md §4.6: "Connection closed by
// host" — indistinguishable from a network error by a probing client.
var ErrThrottled = InternalFailure("Connection closed by host")

// ErrNeedsPrompt is not a failure: it signals that a driver's finalize step
// produced an interactive challenge rather than a verdict. The HTTP layer
// treats it the same as an error for response purposes (a 401 carrying the
// X-Login-Reply challenge header already set on the response), but it must
// never be logged or counted as an authentication failure.
var ErrNeedsPrompt = errors.New("brokererr: needs prompt")
