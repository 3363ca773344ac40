package sessioncore

import "errors"

var (
	// ErrSessionNotFound is returned for any token or id that does not
	// resolve to a live session. Missing, expired, and destroyed sessions
	// are reported identically so callers cannot enumerate token state.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnauthorized is returned when session creation references an
	// invalid or inactive user or organization.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrQuotaExceeded is returned when a mutation leaves the session
	// payload over its memory limit even after whitelist truncation.
	ErrQuotaExceeded = errors.New("session memory quota exceeded")
	// ErrStoreTimeout is returned when the durable store does not answer
	// within the configured per-call timeout.
	ErrStoreTimeout = errors.New("durable store timeout")
	// ErrInternal is returned on serialization or unexpected store failures.
	ErrInternal = errors.New("internal session engine error")
	// ErrNotRecoverable is returned by RecoverSession for sessions that were
	// not created with the recoverable flag.
	ErrNotRecoverable = errors.New("session not recoverable")
	// ErrInvalidModule is returned when a context propagation names an
	// unknown module type.
	ErrInvalidModule = errors.New("invalid module type")
	// ErrEngineNotReady is returned when an operation runs against an
	// engine that was not built or has been closed.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrEngineClosed is returned by operations issued after Close.
	ErrEngineClosed = errors.New("engine closed")
)
