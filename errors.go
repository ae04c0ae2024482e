package go_oscar

import (
	"errors"
	"fmt"
)

// Standard OSCAR Error Types
//
// These errors follow Go 1.13+ error wrapping conventions and can be
// checked using errors.Is() and errors.As(). All errors include context
// about the operation that failed and the underlying cause.
//
// Design rationale:
// - Use sentinel errors for common, expected error conditions
// - Use error types for errors that need additional context
// - All errors are safe for error wrapping with fmt.Errorf("%w", err)

// Sentinel errors for common OSCAR protocol violations and failures
var (
	// ErrNeedMoreData indicates the frame decoder needs more bytes before
	// a complete FLAP envelope is available. Not a failure; the caller
	// keeps the accumulator and retries after the next read.
	ErrNeedMoreData = errors.New("oscar: need more data")

	// ErrNotConnected indicates an operation requires an active session
	// but none exists.
	ErrNotConnected = errors.New("oscar: not connected")

	// ErrAlreadyConnected indicates Connect was called on a session that
	// already holds live connections.
	ErrAlreadyConnected = errors.New("oscar: already connected")

	// ErrConnectionClosed indicates the underlying socket was closed.
	// This may occur due to network issues, server shutdown, or explicit
	// disconnect.
	ErrConnectionClosed = errors.New("oscar: connection closed")

	// ErrMessageTooLarge indicates an outbound message exceeds the
	// server-enforced ICBM payload ceiling.
	ErrMessageTooLarge = errors.New("oscar: message exceeds size limit")

	// ErrUnknownChatRoom indicates a chat operation referenced a room
	// this session has not joined.
	ErrUnknownChatRoom = errors.New("oscar: unknown chat room")

	// ErrUnknownRendezvous indicates a cookie lookup found no matching
	// rendezvous session. Lookups are total: callers receive this error,
	// never a fallback to a wrong session.
	ErrUnknownRendezvous = errors.New("oscar: unknown rendezvous cookie")

	// ErrRendezvousTerminal indicates a transition was attempted on a
	// rendezvous session already in a terminal state (Complete or
	// Canceled).
	ErrRendezvousTerminal = errors.New("oscar: rendezvous already terminal")

	// ErrSessionNotInitialized indicates the session was created with a
	// zero value (Session{}) instead of NewSession().
	ErrSessionNotInitialized = errors.New("oscar: session not initialized, use NewSession()")

	// ErrHandshakeTimeout indicates a service connection did not reach
	// ready state within the redirect timeout.
	ErrHandshakeTimeout = errors.New("oscar: service handshake timed out")

	// ErrScreenNameTooLong indicates a screen name exceeds the protocol
	// limit.
	ErrScreenNameTooLong = errors.New("oscar: screen name too long")
)

// FrameError indicates malformed bytes at the FLAP framing layer.
// A FrameError tears down the single affected connection, never the
// whole session.
type FrameError struct {
	Reason string
	Detail string
}

func (e *FrameError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("oscar: bad frame: %s (%s)", e.Reason, e.Detail)
	}
	return fmt.Sprintf("oscar: bad frame: %s", e.Reason)
}

// AuthErrorKind differentiates login failures. The collaborator layer
// shows a distinct user message per kind, so kinds are never coalesced.
type AuthErrorKind int

const (
	AuthErrInvalidCredentials AuthErrorKind = iota
	AuthErrSuspended
	AuthErrTemporarilyUnavailable
	AuthErrRateLimited
	AuthErrVersionTooOld
	AuthErrServiceUnavailable
)

func (k AuthErrorKind) String() string {
	switch k {
	case AuthErrInvalidCredentials:
		return "invalid credentials"
	case AuthErrSuspended:
		return "account suspended"
	case AuthErrTemporarilyUnavailable:
		return "service temporarily unavailable"
	case AuthErrRateLimited:
		return "reconnecting too frequently"
	case AuthErrVersionTooOld:
		return "client version too old"
	default:
		return "service unavailable"
	}
}

// AuthError is a differentiated login failure carrying the raw BUCP
// error code from TLV 0x0008 of the login response.
type AuthError struct {
	Kind AuthErrorKind
	Code uint16
	URL  string // server-supplied error URL, when present
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("oscar: login failed: %s (code 0x%04x)", e.Kind, e.Code)
}

// authErrorFromCode maps a BUCP login error code to an AuthError.
func authErrorFromCode(code uint16, url string) *AuthError {
	var kind AuthErrorKind
	switch code {
	case LOGIN_ERR_INVALID_NICKNAME, LOGIN_ERR_INVALID_PASSWORD, LOGIN_ERR_MISMATCH_NICKNAME:
		kind = AuthErrInvalidCredentials
	case LOGIN_ERR_SUSPENDED:
		kind = AuthErrSuspended
	case LOGIN_ERR_UNAVAILABLE, LOGIN_ERR_SERVICE_DOWN:
		kind = AuthErrTemporarilyUnavailable
	case LOGIN_ERR_RATE_LIMITED, LOGIN_ERR_RATE_LIMITED_IP:
		kind = AuthErrRateLimited
	case LOGIN_ERR_OLD_CLIENT, LOGIN_ERR_OLD_CLIENT_FORCE:
		kind = AuthErrVersionTooOld
	default:
		kind = AuthErrServiceUnavailable
	}
	return &AuthError{Kind: kind, Code: code, URL: url}
}

// SsiActionFailed reports a per-item feedbag failure, correlated to its
// originating request by the SNAC request ID. Non-fatal: the list stays
// usable, only the one action failed.
type SsiActionFailed struct {
	Action string
	Name   string
	Code   uint16
}

func (e *SsiActionFailed) Error() string {
	return fmt.Sprintf("oscar: feedbag %s %q failed: code 0x%04x", e.Action, e.Name, e.Code)
}

// RendezvousFailed reports a per-session peer-to-peer failure. Only the
// affected transfer is canceled.
type RendezvousFailed struct {
	Cookie [OSCAR_COOKIE_LEN]byte
	Stage  string
	Err    error
}

func (e *RendezvousFailed) Error() string {
	return fmt.Sprintf("oscar: rendezvous %x failed during %s: %v", e.Cookie, e.Stage, e.Err)
}

func (e *RendezvousFailed) Unwrap() error { return e.Err }

// ProtocolViolation indicates a handler received a frame it cannot
// interpret in the current state. Logged and ignored; the connection
// stays alive unless violations recur past a threshold.
type ProtocolViolation struct {
	Foodgroup uint16
	Subtype   uint16
	Detail    string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("oscar: protocol violation in %04x/%04x: %s", e.Foodgroup, e.Subtype, e.Detail)
}
