// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates a request failed domain validation.
var ErrValidation = errors.New("validation failed")

// ErrLocked indicates another transition currently holds the agent's lock.
var ErrLocked = errors.New("agent is locked by another transition")

// ErrInvalidTransition indicates the requested lifecycle event is not legal
// from the agent's current status.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// ErrInvalidState indicates a provisioning step was requested from a status
// that does not expect it.
var ErrInvalidState = errors.New("agent is not in the expected status")

// ErrInvalidIdempotencyKey indicates a finalize request carried a key that
// does not match the agent's pending transaction.
var ErrInvalidIdempotencyKey = errors.New("unknown or stale idempotency key")

// ErrAlreadyInProgress indicates a finalize request for a transaction whose
// submission is already running; the caller should wait for async completion.
var ErrAlreadyInProgress = errors.New("transaction submission already in progress")
