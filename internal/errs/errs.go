// Package errs defines the sentinel errors shared across the engine.
// Callers classify failures with errors.Is and wrap with fmt.Errorf("%w").
package errs

import "errors"

var (
	// ErrNotFound is the sentinel for missing sessions, scenes or files.
	ErrNotFound = errors.New("not found")
	// ErrValidation is the sentinel for malformed or inconsistent input.
	ErrValidation = errors.New("validation failed")
	// ErrRenderFailure is the sentinel for unrecoverable render pipeline errors.
	ErrRenderFailure = errors.New("render failure")
	// ErrStorageIO is the sentinel for filesystem read/write failures.
	ErrStorageIO = errors.New("storage i/o failure")
	// ErrConflict is the sentinel for operations that clash with the
	// session's current status, like rendering twice.
	ErrConflict = errors.New("conflicting session state")
	// ErrResourceExhausted is the sentinel for disk pressure that cleanup
	// could not relieve, and for a saturated render queue.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrTerminalState is the sentinel for transitions out of done, failed
	// or cancelled.
	ErrTerminalState = errors.New("session in terminal state")
)
