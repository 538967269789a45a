package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Step is one forward action paired with its compensation.
//
// Do must be safe to retry: it may run more than once when it fails
// transiently or when the process stops before its output was persisted.
// Providers should deduplicate on StepContext.IdempotencyKey. The returned
// output must be JSON serializable; it is persisted and made available to
// later steps and to the caller.
//
// Undo runs only for steps whose output was committed.
type Step interface {
	Name() string
	Do(ctx context.Context, sc StepContext) (any, error)
	Undo(ctx context.Context, sc StepContext) error
}

// StepContext is handed to every Do and Undo call.
type StepContext struct {
	InstanceID string
	Saga       string
	Step       string
	// Attempt counts calls of this action within the current run, from 1.
	Attempt int

	SagaInput json.RawMessage
	StepInput json.RawMessage

	results *Results
}

// IdempotencyKey is stable across retries and restarts of the same step.
func (sc StepContext) IdempotencyKey() string {
	return sc.InstanceID + "/" + sc.Step
}

// DecodeSagaInput unmarshals the input the saga was started with.
func (sc StepContext) DecodeSagaInput(v any) error {
	if len(sc.SagaInput) == 0 {
		return fmt.Errorf("saga %s has no input", sc.Saga)
	}
	return json.Unmarshal(sc.SagaInput, v)
}

// DecodeStepInput unmarshals the step-local input given with WithInput.
func (sc StepContext) DecodeStepInput(v any) error {
	if len(sc.StepInput) == 0 {
		return fmt.Errorf("step %q has no input", sc.Step)
	}
	return json.Unmarshal(sc.StepInput, v)
}

// Output returns the committed output of an earlier step.
func (sc StepContext) Output(step string) (json.RawMessage, bool) {
	if sc.results == nil {
		return nil, false
	}
	return sc.results.Get(step)
}

// Lookup decodes the committed output of an earlier step into R.
func Lookup[R any](sc StepContext, step string) (R, error) {
	if sc.results == nil {
		var zero R
		return zero, fmt.Errorf("no output found for step %q", step)
	}
	return DecodeResult[R](sc.results, step)
}

// ForwardFunc is the typed forward half of a FuncStep.
type ForwardFunc[R any] func(ctx context.Context, sc StepContext) (R, error)

// CompensateFunc undoes a committed forward action.
type CompensateFunc func(ctx context.Context, sc StepContext) error

// FuncStep is a Step built from ordinary functions.
type FuncStep[R any] struct {
	name       string
	forward    ForwardFunc[R]
	compensate CompensateFunc
}

// NewStep constructs a Step from a pair of functions.
func NewStep[R any](name string, forward ForwardFunc[R], compensate CompensateFunc) *FuncStep[R] {
	if compensate == nil {
		compensate = NoOpCompensate
	}
	return &FuncStep[R]{
		name:       name,
		forward:    forward,
		compensate: compensate,
	}
}

func NoOpCompensate(context.Context, StepContext) error {
	return nil
}

func (s *FuncStep[R]) Name() string {
	return s.name
}

func (s *FuncStep[R]) Do(ctx context.Context, sc StepContext) (any, error) {
	return s.forward(ctx, sc)
}

func (s *FuncStep[R]) Undo(ctx context.Context, sc StepContext) error {
	return s.compensate(ctx, sc)
}

func (s *FuncStep[R]) String() string {
	return fmt.Sprintf("FuncStep[%T](%s)", *new(R), s.name)
}

// StepOption configures a step when it is appended to a Builder.
type StepOption func(*descriptor) error

// WithInput attaches step-local input, marshalled once at build time.
func WithInput(v any) StepOption {
	return func(d *descriptor) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("serialize input for step %q: %w", d.step.Name(), err)
		}
		d.input = data
		return nil
	}
}

func WithLabel(label string) StepOption {
	return func(d *descriptor) error {
		d.label = label
		return nil
	}
}

// WithAttemptTimeout bounds each forward attempt of the step. An attempt that
// runs out of time counts as a transient failure.
func WithAttemptTimeout(timeout time.Duration) StepOption {
	return func(d *descriptor) error {
		if timeout < 0 {
			return fmt.Errorf("step %q: negative timeout %s", d.step.Name(), timeout)
		}
		d.timeout = timeout
		return nil
	}
}
