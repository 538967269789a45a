package saga

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a saga instance.
type Status string

const (
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
	// StatusFailed is never reached: a rollback always runs to exhaustion and
	// ends in StatusCompensated. The transition table rejects it.
	StatusFailed Status = "failed"
)

// Terminal reports whether no further work is pending for the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCompensated
}

// nextStatus validates a transition and returns the new status.
func (s Status) nextStatus(to Status) (Status, error) {
	switch s {
	case StatusRunning:
		switch to {
		case StatusRunning, StatusCompleted, StatusCompensating:
			return to, nil
		}
	case StatusCompensating:
		switch to {
		case StatusCompensating, StatusCompensated:
			return to, nil
		}
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
}

// EventType names an entry of the instance journal.
type EventType string

const (
	EventStarted       EventType = "started"
	EventResumed       EventType = "resumed"
	EventStepCommitted EventType = "step_committed"
	EventStepFailed    EventType = "step_failed"
	EventUndoFinished  EventType = "undo_finished"
	EventUndoFailed    EventType = "undo_failed"
	EventCompleted     EventType = "completed"
	EventCompensated   EventType = "compensated"
)

// Event is one journal entry of an instance.
type Event struct {
	Type   EventType `json:"type"`
	Step   string    `json:"step,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

func (e Event) String() string {
	var sb strings.Builder
	sb.WriteString(e.At.UTC().Format(time.RFC3339Nano))
	sb.WriteString(" ")
	sb.WriteString(string(e.Type))
	if e.Step != "" {
		fmt.Fprintf(&sb, " %s", e.Step)
	}
	if e.Detail != "" {
		fmt.Fprintf(&sb, ": %s", e.Detail)
	}
	return sb.String()
}

// CommittedStep records a forward action whose output was persisted.
type CommittedStep struct {
	Name        string          `json:"name"`
	Output      json.RawMessage `json:"output,omitempty"`
	CommittedAt time.Time       `json:"committed_at"`
}

// CompensationFailure records an undo action that failed.
type CompensationFailure struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// Instance is the persisted snapshot of one saga run. It is written as a
// single unit after every committed or compensated step.
type Instance struct {
	ID     string          `json:"id"`
	Saga   string          `json:"saga"`
	Status Status          `json:"status"`
	Input  json.RawMessage `json:"input,omitempty"`

	Committed            []CommittedStep       `json:"committed"`
	Compensated          []string              `json:"compensated,omitempty"`
	CompensationFailures []CompensationFailure `json:"compensation_failures,omitempty"`

	FailedStep   string `json:"failed_step,omitempty"`
	FailureCause string `json:"failure_cause,omitempty"`

	Events    []Event   `json:"events,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newInstance(id, saga string, input json.RawMessage, now time.Time) *Instance {
	inst := &Instance{
		ID:        id,
		Saga:      saga,
		Status:    StatusRunning,
		Input:     input,
		Committed: []CommittedStep{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	inst.record(EventStarted, "", "", now)
	return inst
}

// Clone returns a deep copy so stores never share memory with callers.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	out := *i
	out.Input = cloneRaw(i.Input)
	out.Committed = make([]CommittedStep, len(i.Committed))
	for n, c := range i.Committed {
		c.Output = cloneRaw(c.Output)
		out.Committed[n] = c
	}
	out.Compensated = append([]string(nil), i.Compensated...)
	out.CompensationFailures = append([]CompensationFailure(nil), i.CompensationFailures...)
	out.Events = append([]Event(nil), i.Events...)
	return &out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// CommittedNames returns committed step names in commit order.
func (i *Instance) CommittedNames() []string {
	names := make([]string, len(i.Committed))
	for n, c := range i.Committed {
		names[n] = c.Name
	}
	return names
}

// Outcome summarises the compensation progress of a rolled back instance.
func (i *Instance) Outcome() CompensationOutcome {
	if len(i.CompensationFailures) == 0 {
		return CompensationOutcome{Kind: FullyCompensated}
	}
	failed := make([]string, len(i.CompensationFailures))
	for n, f := range i.CompensationFailures {
		failed[n] = f.Step
	}
	return CompensationOutcome{Kind: PartiallyCompensated, Failed: failed}
}

// pendingCompensations returns the committed steps not yet undone, last
// committed first.
func (i *Instance) pendingCompensations() []string {
	done := make(map[string]bool, len(i.Compensated)+len(i.CompensationFailures))
	for _, s := range i.Compensated {
		done[s] = true
	}
	for _, f := range i.CompensationFailures {
		done[f.Step] = true
	}
	var pending []string
	for n := len(i.Committed) - 1; n >= 0; n-- {
		if name := i.Committed[n].Name; !done[name] {
			pending = append(pending, name)
		}
	}
	return pending
}

func (i *Instance) transition(to Status, now time.Time) error {
	next, err := i.Status.nextStatus(to)
	if err != nil {
		return fmt.Errorf("instance %s: %w", i.ID, err)
	}
	i.Status = next
	i.UpdatedAt = now
	return nil
}

func (i *Instance) record(typ EventType, step, detail string, now time.Time) {
	i.Events = append(i.Events, Event{Type: typ, Step: step, Detail: detail, At: now})
}

func (i *Instance) commit(step string, output json.RawMessage, now time.Time) error {
	if err := i.transition(StatusRunning, now); err != nil {
		return err
	}
	i.Committed = append(i.Committed, CommittedStep{Name: step, Output: output, CommittedAt: now})
	i.record(EventStepCommitted, step, "", now)
	return nil
}

func (i *Instance) fail(step string, cause error, now time.Time) error {
	if err := i.transition(StatusCompensating, now); err != nil {
		return err
	}
	i.FailedStep = step
	i.FailureCause = cause.Error()
	i.record(EventStepFailed, step, i.FailureCause, now)
	return nil
}

func (i *Instance) compensated(step string, now time.Time) error {
	if err := i.transition(StatusCompensating, now); err != nil {
		return err
	}
	i.Compensated = append(i.Compensated, step)
	i.record(EventUndoFinished, step, "", now)
	return nil
}

func (i *Instance) compensationFailed(step string, cause error, now time.Time) error {
	if err := i.transition(StatusCompensating, now); err != nil {
		return err
	}
	i.CompensationFailures = append(i.CompensationFailures, CompensationFailure{Step: step, Error: cause.Error()})
	i.record(EventUndoFailed, step, cause.Error(), now)
	return nil
}

func (i *Instance) complete(now time.Time) error {
	if err := i.transition(StatusCompleted, now); err != nil {
		return err
	}
	i.record(EventCompleted, "", "", now)
	return nil
}

func (i *Instance) finishCompensation(now time.Time) error {
	if err := i.transition(StatusCompensated, now); err != nil {
		return err
	}
	i.record(EventCompensated, "", i.Outcome().String(), now)
	return nil
}

// String renders the snapshot and its journal for operators.
func (i *Instance) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "saga:      %s\n", i.Saga)
	fmt.Fprintf(&sb, "instance:  %s\n", i.ID)
	fmt.Fprintf(&sb, "status:    %s\n", i.Status)
	fmt.Fprintf(&sb, "committed: [%s]\n", strings.Join(i.CommittedNames(), ", "))
	if i.FailedStep != "" {
		fmt.Fprintf(&sb, "failed:    %s (%s)\n", i.FailedStep, i.FailureCause)
		fmt.Fprintf(&sb, "outcome:   %s\n", i.Outcome())
	}
	fmt.Fprintf(&sb, "events (%d total):\n", len(i.Events))
	for n, e := range i.Events {
		fmt.Fprintf(&sb, "%03d %s\n", n+1, e)
	}
	return sb.String()
}
