package orders

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotExpired        = errors.New("order not expired")
)

type Status string

const (
	StatusPending       Status = "pending"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusExpired       Status = "expired"
	StatusFailed        Status = "failed"
)

var Statuses = []Status{
	StatusPending,
	StatusPartiallyPaid,
	StatusPaid,
	StatusExpired,
	StatusFailed,
}

// Allowed outgoing edges per status. Terminal statuses have none
var allowedTransitions = map[Status][]Status{
	StatusPending:       {StatusPartiallyPaid, StatusPaid, StatusExpired, StatusFailed},
	StatusPartiallyPaid: {StatusPartiallyPaid, StatusPaid, StatusExpired, StatusFailed},
}

func (s Status) Validate() (err error) {
	for _, status := range Statuses {
		if s == status {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidStatus, string(s))
}

func (s Status) IsTerminal() (terminal bool) {
	switch s {
	case StatusPaid, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// Transition reports whether an order currently at from may move to to.
// Re-evaluating a non terminal status into itself is allowed and is a no-op
func Transition(from, to Status) (err error) {
	if from == to && !from.IsTerminal() {
		return nil
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
