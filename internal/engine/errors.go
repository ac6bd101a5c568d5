package engine

import "errors"

// Caller-visible misuse errors. Background-cycle failures are never
// surfaced through these; they are logged at the cycle boundary.
var (
	// ErrAlreadyStarted is returned by Start on an engine that is not in
	// the NotStarted state. A stopped engine cannot be restarted.
	ErrAlreadyStarted = errors.New("engine already started")

	// ErrNotRunning is returned by operations that require a running engine.
	ErrNotRunning = errors.New("engine is not running")

	// ErrDuplicateRealm is returned when a realm name already exists.
	ErrDuplicateRealm = errors.New("duplicate realm name")

	// ErrRealmNotFound is returned when a realm name is not registered.
	ErrRealmNotFound = errors.New("realm not found")
)
