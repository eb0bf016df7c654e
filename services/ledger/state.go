package ledger

import (
	"errors"
	"fmt"

	"payout-engine/pkg/errutil"
)

var (
	ErrInvalidTransition    = errors.New("invalid reward status transition")
	ErrDuplicateSourceEvent = errors.New("reward already recorded for source payment")
	ErrInvalidAmount        = errors.New("reward amount must be positive")
	ErrSelfReferral         = errors.New("affiliate cannot earn from own purchase")
	ErrEntryNotFound        = errors.New("reward entry not found")
	ErrEntryInFlight        = errors.New("reward is held by an in-flight payout")
)

// InvalidTransitionError is returned for every move the state machine forbids.
type InvalidTransitionError struct {
	EntryID string
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("reward %s: cannot move from %s to %s", e.EntryID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusAvailable: true,
		StatusCancelled: true,
	},
	StatusAvailable: {
		StatusAvailable: true,
		StatusPaid:      true,
		StatusCancelled: true,
	},
}

func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

// Transition validates from -> to for the entry. Callers write the new status.
func Transition(entry *RewardTransaction, to Status) error {
	if !CanTransition(entry.Status, to) {
		return &InvalidTransitionError{EntryID: entry.ID, From: entry.Status, To: to}
	}
	return nil
}

// integrityError wraps a state-machine violation for transport. It maps to an
// internal status so it is never mistaken for a client error.
func integrityError(err error) error {
	return errutil.Internal("ledger integrity violation", err)
}
