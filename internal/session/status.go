package session

import (
	"fmt"

	"github.com/ivlev/shadowplay/internal/errs"
)

// Status is the session lifecycle state. The machine is
// pending -> processing -> {done | failed}, with cancelled reachable from
// every state through Cancel. done, failed and cancelled are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDone, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave s. Terminal
// sessions only change through deletion, with cancellation of an already
// terminal session being a no-op on status.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether SetStatus may move a session from s to to.
// Cancellation from terminal states bypasses this table via Cancel.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusProcessing || to == StatusCancelled
	case StatusProcessing:
		return to == StatusDone || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// ParseStatus converts external input into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", errs.ErrValidation, raw)
	}
	return s, nil
}
