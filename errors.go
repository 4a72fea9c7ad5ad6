package loom

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("loom: no store configured")
	ErrStoreClosed     = errors.New("loom: store closed")
	ErrBrokerClosed    = errors.New("loom: broker closed")
	ErrMigrationFailed = errors.New("loom: migration failed")

	// Not found errors.
	ErrRunNotFound     = errors.New("loom: run not found")
	ErrStepNotFound    = errors.New("loom: step not found")
	ErrEventNotFound   = errors.New("loom: event not found")
	ErrHookNotFound    = errors.New("loom: hook not found")
	ErrMessageNotFound = errors.New("loom: queue message not found")
	ErrStreamNotFound  = errors.New("loom: stream not found")
	ErrBlobNotFound    = errors.New("loom: blob not found")
	ErrStateNotFound   = errors.New("loom: coordinator state not found")

	// ErrPayloadMissing reports a dangling external payload reference: the
	// relational row survived but the blob it points at is gone. That is
	// data corruption, never an empty payload, and it is deliberately
	// distinct from ErrBlobNotFound so callers cannot confuse the two.
	ErrPayloadMissing = errors.New("loom: payload blob missing")

	// Conflict errors.
	ErrMessageExists = errors.New("loom: queue message already exists")
	ErrRunExists     = errors.New("loom: run already exists")
	ErrHookExists    = errors.New("loom: hook already exists")
	ErrStreamExists  = errors.New("loom: stream already exists")

	// Caller errors.
	ErrInvalidCursor     = errors.New("loom: invalid cursor")
	ErrNotInitialized    = errors.New("loom: coordinator not initialized")
	ErrOwnershipMismatch = errors.New("loom: entity belongs to a different run")
	ErrStreamClosed      = errors.New("loom: stream closed")
)
