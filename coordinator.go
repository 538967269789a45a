package saga

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/fortressi/saga"

// Coordinator drives saga instances forward and rolls them back on failure,
// persisting a snapshot after every step so any instance can be resumed.
type Coordinator struct {
	store    Store
	registry *Registry
	running  *xsync.MapOf[string, struct{}]

	retry          RetryPolicy
	compensation   CompensationPolicy
	retainFinished bool
	parallelism    int

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	now   func() time.Time
	newID func() string
}

// NewCoordinator creates a coordinator persisting into store.
func NewCoordinator(store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:        store,
		registry:     NewRegistry(),
		running:      xsync.NewMapOf[string, struct{}](),
		retry:        DefaultRetryPolicy(),
		compensation: DefaultCompensationPolicy(),
		parallelism:  4,
		logger:       slog.Default(),
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the definitions known to the coordinator.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Register makes def available to Resume and Recover.
func (c *Coordinator) Register(def *Definition) error {
	return c.registry.Register(def)
}

// Run executes def as instance id with input.
//
// When a snapshot already exists for id, Run resumes it: committed steps are
// skipped, a saga that was compensating finishes its rollback and a retained
// finished instance returns its stored outcome. On terminal failure of a step
// the committed steps are compensated in reverse order and a *SagaError is
// returned. On a persistence failure the returned error wraps ErrPersist and
// running id again continues from the last stored snapshot.
func (c *Coordinator) Run(ctx context.Context, id string, def *Definition, input any) (*CompositeResult, error) {
	if def == nil {
		return nil, errors.New("nil saga definition")
	}
	raw, err := marshalInput(input)
	if err != nil {
		return nil, err
	}
	c.registry.definitions.LoadOrStore(def.Name(), def)
	return c.run(ctx, id, def, raw, true)
}

// Start runs def under a newly generated instance id.
func (c *Coordinator) Start(ctx context.Context, def *Definition, input any) (string, *CompositeResult, error) {
	id := c.newID()
	res, err := c.Run(ctx, id, def, input)
	return id, res, err
}

// Resume continues a persisted instance using the registered definition of its saga.
func (c *Coordinator) Resume(ctx context.Context, id string) (*CompositeResult, error) {
	inst, err := c.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	def, err := c.registry.Get(inst.Saga)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", id, err)
	}
	return c.run(ctx, id, def, nil, false)
}

// Status returns the stored snapshot of id.
func (c *Coordinator) Status(ctx context.Context, id string) (*Instance, error) {
	return c.store.Load(ctx, id)
}

// Recovery is the outcome of resuming one instance during Recover.
type Recovery struct {
	InstanceID string
	Saga       string
	Result     *CompositeResult
	Err        error
}

// Recover resumes every unfinished instance in the store. Instances are
// driven concurrently, bounded by WithRecoveryParallelism; the failure of one
// does not stop the others.
func (c *Coordinator) Recover(ctx context.Context) ([]Recovery, error) {
	instances, err := c.store.List(ctx, UnfinishedStatuses...)
	if err != nil {
		return nil, fmt.Errorf("list unfinished sagas: %w", err)
	}
	c.logger.InfoContext(ctx, "recovering sagas", "count", len(instances))

	recoveries := make([]Recovery, len(instances))
	var g errgroup.Group
	g.SetLimit(c.parallelism)
	for i, inst := range instances {
		g.Go(func() error {
			res, err := c.Resume(ctx, inst.ID)
			recoveries[i] = Recovery{InstanceID: inst.ID, Saga: inst.Saga, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return recoveries, nil
}

func (c *Coordinator) run(ctx context.Context, id string, def *Definition, input json.RawMessage, checkInput bool) (*CompositeResult, error) {
	if id == "" {
		return nil, errors.New("empty saga instance id")
	}
	if _, busy := c.running.LoadOrStore(id, struct{}{}); busy {
		return nil, fmt.Errorf("%w: %s", ErrInstanceBusy, id)
	}
	defer c.running.Delete(id)

	ctx, span := c.tracer.Start(ctx, "saga.run", trace.WithAttributes(
		attribute.String("saga.name", def.Name()),
		attribute.String("saga.instance_id", id),
	))
	defer span.End()
	defer c.metrics.enter(def.Name())()

	logger := c.logger.With("saga", def.Name(), "instance_id", id)

	inst, err := c.store.Load(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		inst = newInstance(id, def.Name(), input, c.now())
		if err := c.persist(ctx, inst); err != nil {
			return nil, recordSpanError(span, err)
		}
		c.metrics.started(def.Name())
		logger.InfoContext(ctx, "saga started", "steps", def.Len())
	case err != nil:
		return nil, recordSpanError(span, fmt.Errorf("load saga %s: %w", id, err))
	default:
		if err := c.checkSnapshot(inst, def, input, checkInput); err != nil {
			return nil, recordSpanError(span, err)
		}
		if !inst.Status.Terminal() {
			inst.record(EventResumed, "", string(inst.Status), c.now())
		}
		logger.InfoContext(ctx, "saga resumed", "status", inst.Status, "committed", len(inst.Committed))
	}

	var res *CompositeResult
	switch inst.Status {
	case StatusRunning:
		res, err = c.forward(ctx, def, inst, logger)
	case StatusCompensating:
		err = c.compensate(ctx, def, inst, nil, logger)
	case StatusCompleted:
		res = compositeResult(inst)
	case StatusCompensated:
		err = sagaError(inst, nil, nil)
	default:
		err = fmt.Errorf("saga %s has unexpected status %q", id, inst.Status)
	}
	span.SetAttributes(attribute.String("saga.status", string(inst.Status)))
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	return res, nil
}

func (c *Coordinator) checkSnapshot(inst *Instance, def *Definition, input json.RawMessage, checkInput bool) error {
	if inst.Saga != def.Name() {
		return fmt.Errorf("%w: instance %s belongs to saga %q, not %q",
			ErrDefinitionMismatch, inst.ID, inst.Saga, def.Name())
	}
	if checkInput && !equalJSON(inst.Input, input) {
		return fmt.Errorf("%w: %s", ErrInputConflict, inst.ID)
	}
	return def.checkPrefix(inst.Committed)
}

func (c *Coordinator) forward(ctx context.Context, def *Definition, inst *Instance, logger *slog.Logger) (*CompositeResult, error) {
	results := resultsFromCommitted(inst.Committed)

	for idx := len(inst.Committed); idx < def.Len(); idx++ {
		d := def.steps[idx]
		output, err := c.runStep(ctx, inst, d, results, logger)
		if err != nil {
			// The caller may have given up; the rollback still has to happen.
			ctx = context.WithoutCancel(ctx)
			logger.WarnContext(ctx, "step failed, compensating", "step", d.name(), "kind", KindOf(err), "error", err)
			if terr := inst.fail(d.name(), err, c.now()); terr != nil {
				return nil, terr
			}
			if perr := c.persist(ctx, inst); perr != nil {
				return nil, perr
			}
			return nil, c.compensate(ctx, def, inst, err, logger)
		}

		if err := inst.commit(d.name(), output, c.now()); err != nil {
			return nil, err
		}
		results.set(d.name(), output)
		if err := c.persist(ctx, inst); err != nil {
			return nil, err
		}
		logger.DebugContext(ctx, "step committed", "step", d.name())
	}

	if err := inst.complete(c.now()); err != nil {
		return nil, err
	}
	c.finish(ctx, inst, logger)
	c.metrics.finished(inst.Saga, OutcomeCompleted)
	logger.InfoContext(ctx, "saga completed")
	return &CompositeResult{InstanceID: inst.ID, Saga: inst.Saga, Results: results}, nil
}

func (c *Coordinator) runStep(ctx context.Context, inst *Instance, d descriptor, results *Results, logger *slog.Logger) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "saga.step", trace.WithAttributes(
		attribute.String("saga.step", d.name()),
	))
	defer span.End()

	policy := c.retry
	if d.timeout > 0 {
		policy.AttemptTimeout = d.timeout
	}
	sc := StepContext{
		InstanceID: inst.ID,
		Saga:       inst.Saga,
		Step:       d.name(),
		SagaInput:  inst.Input,
		StepInput:  d.input,
		results:    results,
	}

	var output json.RawMessage
	started := time.Now()
	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		sc.Attempt = attempt
		out, err := d.step.Do(ctx, sc)
		if err != nil {
			return err
		}
		data, err := json.Marshal(out)
		if err != nil {
			return Terminal(fmt.Errorf("serialize output of step %q: %w", d.name(), err))
		}
		output = data
		return nil
	}, func(attempt int, err error, next time.Duration) {
		c.metrics.retried(inst.Saga, d.name())
		logger.WarnContext(ctx, "transient step failure, retrying",
			"step", d.name(), "attempt", attempt, "backoff", next, "error", err)
	})
	c.metrics.step(inst.Saga, d.name(), time.Since(started), err)
	span.SetAttributes(attribute.Int("saga.attempts", attempts))
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	return output, nil
}

// compensate undoes every committed step not yet handled, last committed
// first. A failed undo is recorded and the rollback carries on with the next
// step. cause is nil when resuming a rollback started by an earlier run.
func (c *Coordinator) compensate(ctx context.Context, def *Definition, inst *Instance, cause error, logger *slog.Logger) error {
	ctx = context.WithoutCancel(ctx)
	ctx, span := c.tracer.Start(ctx, "saga.compensate", trace.WithAttributes(
		attribute.String("saga.failed_step", inst.FailedStep),
	))
	defer span.End()

	results := resultsFromCommitted(inst.Committed)
	live := make(map[string]error)

	for _, name := range inst.pendingCompensations() {
		idx, ok := def.Index(name)
		if !ok {
			return fmt.Errorf("%w: committed step %q missing", ErrDefinitionMismatch, name)
		}
		d := def.steps[idx]

		err := c.undoStep(ctx, inst, d, results)
		c.metrics.compensation(inst.Saga, name, err)
		if err != nil {
			live[name] = err
			logger.ErrorContext(ctx, "compensation failed", "step", name, "error", err)
			if terr := inst.compensationFailed(name, err, c.now()); terr != nil {
				return terr
			}
			if perr := c.persist(ctx, inst); perr != nil {
				return perr
			}
			if c.compensation.OnFailure != nil {
				c.compensation.OnFailure(ctx, inst.ID, CompensationFailure{Step: name, Error: err.Error()})
			}
			continue
		}

		if terr := inst.compensated(name, c.now()); terr != nil {
			return terr
		}
		if perr := c.persist(ctx, inst); perr != nil {
			return perr
		}
		logger.DebugContext(ctx, "step compensated", "step", name)
	}

	if err := inst.finishCompensation(c.now()); err != nil {
		return err
	}
	c.finish(ctx, inst, logger)

	outcome := inst.Outcome()
	label := OutcomeCompensated
	if outcome.Kind == PartiallyCompensated {
		label = OutcomePartiallyCompensated
		logger.ErrorContext(ctx, "saga partially compensated, manual intervention required", "failed", outcome.Failed)
	} else {
		logger.InfoContext(ctx, "saga compensated")
	}
	c.metrics.finished(inst.Saga, label)
	span.SetAttributes(attribute.String("saga.outcome", outcome.Kind.String()))
	return sagaError(inst, cause, live)
}

func (c *Coordinator) undoStep(ctx context.Context, inst *Instance, d descriptor, results *Results) error {
	sc := StepContext{
		InstanceID: inst.ID,
		Saga:       inst.Saga,
		Step:       d.name(),
		SagaInput:  inst.Input,
		StepInput:  d.input,
		results:    results,
	}
	_, err := c.compensation.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		sc.Attempt = attempt
		return d.step.Undo(ctx, sc)
	}, nil)
	return err
}

func (c *Coordinator) persist(ctx context.Context, inst *Instance) error {
	if err := c.store.Save(ctx, inst); err != nil {
		return fmt.Errorf("%w: saga %s: %w", ErrPersist, inst.ID, err)
	}
	return nil
}

// finish stores or drops the terminal snapshot. A snapshot that could not be
// written still describes a state that resumes to the same outcome, so errors
// are only logged.
func (c *Coordinator) finish(ctx context.Context, inst *Instance, logger *slog.Logger) {
	retain := c.retainFinished || len(inst.CompensationFailures) > 0
	if retain {
		if err := c.persist(ctx, inst); err != nil {
			logger.WarnContext(ctx, "failed to persist final state", "error", err)
		}
		return
	}
	if err := c.store.Delete(ctx, inst.ID); err != nil {
		logger.WarnContext(ctx, "failed to delete finished saga", "error", err)
	}
}

func compositeResult(inst *Instance) *CompositeResult {
	return &CompositeResult{
		InstanceID: inst.ID,
		Saga:       inst.Saga,
		Results:    resultsFromCommitted(inst.Committed),
	}
}

// sagaError builds the error for a compensated instance. Errors from this run
// are kept as is; those recorded by an earlier run only survive as text.
func sagaError(inst *Instance, cause error, live map[string]error) *SagaError {
	if cause == nil {
		cause = errors.New(inst.FailureCause)
	}
	serr := &SagaError{
		InstanceID: inst.ID,
		Saga:       inst.Saga,
		FailedStep: inst.FailedStep,
		Kind:       KindTerminal,
		Cause:      cause,
		Outcome:    inst.Outcome(),
	}
	for _, f := range inst.CompensationFailures {
		err, ok := live[f.Step]
		if !ok {
			err = errors.New(f.Error)
		}
		serr.CompensationErrors = append(serr.CompensationErrors, &CompensationError{Step: f.Step, Err: err})
	}
	return serr
}

func recordSpanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func marshalInput(input any) (json.RawMessage, error) {
	if input == nil {
		return nil, nil
	}
	if raw, ok := input.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("serialize saga input: %w", err)
	}
	return data, nil
}

// equalJSON compares two documents ignoring insignificant whitespace.
func equalJSON(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
