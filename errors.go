package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v5"
)

var (
	// ErrNotFound is returned by a Store when no snapshot exists for an id.
	ErrNotFound = errors.New("saga instance not found")

	// ErrDefinitionMismatch means a persisted snapshot does not fit the
	// definition it is being resumed with.
	ErrDefinitionMismatch = errors.New("snapshot does not match saga definition")

	// ErrInputConflict means an instance id was reused with a different input.
	ErrInputConflict = errors.New("instance id reused with different input")

	// ErrInstanceBusy means the instance is already being run by this coordinator.
	ErrInstanceBusy = errors.New("saga instance already running")

	// ErrPersist wraps every failure to write a snapshot. Running the same
	// instance id again resumes from the last persisted snapshot.
	ErrPersist = errors.New("persisting saga snapshot")

	// ErrRetryExhausted marks a transient failure that ran out of retry budget.
	ErrRetryExhausted = errors.New("retry budget exhausted")

	ErrUnknownSaga       = errors.New("unknown saga definition")
	ErrInvalidTransition = errors.New("invalid saga status transition")
	ErrDuplicateStep     = errors.New("duplicate step name")
	ErrEmptyDefinition   = errors.New("saga definition has no steps")
)

// ErrorKind classifies a step failure.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTransient
	KindTerminal
	KindCompensation
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransient:
		return "transient"
	case KindTerminal:
		return "terminal"
	case KindCompensation:
		return "compensation"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// TransientError is an error expected to succeed if the call is retried unchanged.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient marks err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// TerminalError is an error that cannot succeed on retry and triggers rollback.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return "terminal: " + e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal marks err as non-retryable. A nil err stays nil.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// KindOf classifies err. A terminal marker anywhere in the chain wins over a
// transient one. Context cancellation and unmarked errors are terminal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var comp *CompensationError
	if errors.As(err, &comp) {
		return KindCompensation
	}
	var terminal *TerminalError
	if errors.As(err, &terminal) {
		return KindTerminal
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return KindTerminal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		var transient *TransientError
		if errors.As(err, &transient) {
			return KindTransient
		}
		return KindTerminal
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return KindTransient
	}
	return KindTerminal
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// CompensationError records an undo action that could not complete.
type CompensationError struct {
	Step string
	Err  error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation of step %q failed: %v", e.Step, e.Err)
}

func (e *CompensationError) Unwrap() error { return e.Err }

// OutcomeKind says whether a rollback undid every committed step.
type OutcomeKind int

const (
	FullyCompensated OutcomeKind = iota
	PartiallyCompensated
)

func (k OutcomeKind) String() string {
	if k == PartiallyCompensated {
		return "partially_compensated"
	}
	return "fully_compensated"
}

// CompensationOutcome is the result of rolling back a failed saga.
// Failed lists, in the order they were attempted, the steps whose compensation failed.
type CompensationOutcome struct {
	Kind   OutcomeKind
	Failed []string
}

func (o CompensationOutcome) String() string {
	if o.Kind == FullyCompensated {
		return o.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", o.Kind, strings.Join(o.Failed, ", "))
}

// SagaError is returned by Coordinator.Run when a step failed terminally and
// the saga was rolled back.
type SagaError struct {
	InstanceID string
	Saga       string
	FailedStep string
	Kind       ErrorKind
	Cause      error

	Outcome            CompensationOutcome
	CompensationErrors []*CompensationError
}

func (e *SagaError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "saga %s (%s): step %q failed: %v; %s", e.Saga, e.InstanceID, e.FailedStep, e.Cause, e.Outcome)
	for _, ce := range e.CompensationErrors {
		sb.WriteString("; ")
		sb.WriteString(ce.Error())
	}
	return sb.String()
}

// Unwrap exposes the step cause and every compensation error to errors.Is/As.
func (e *SagaError) Unwrap() []error {
	errs := make([]error, 0, len(e.CompensationErrors)+1)
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	for _, ce := range e.CompensationErrors {
		errs = append(errs, ce)
	}
	return errs
}

// NeedsIntervention reports whether some committed step could not be undone.
func (e *SagaError) NeedsIntervention() bool {
	return e.Outcome.Kind == PartiallyCompensated
}
