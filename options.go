package saga

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithRetryPolicy sets the policy applied to transient forward failures.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Coordinator) {
		c.retry = p
	}
}

func WithCompensationPolicy(p CompensationPolicy) Option {
	return func(c *Coordinator) {
		c.compensation = p
	}
}

// WithRegistry shares a definition registry between coordinators.
func WithRegistry(r *Registry) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.registry = r
		}
	}
}

// WithRetainFinished keeps completed and fully compensated snapshots in the
// store instead of deleting them. Re-running a retained id returns the stored
// outcome without executing any step. Partially compensated snapshots are
// always kept.
func WithRetainFinished(retain bool) Option {
	return func(c *Coordinator) {
		c.retainFinished = retain
	}
}

// WithRecoveryParallelism bounds how many instances Recover drives at once.
func WithRecoveryParallelism(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator replaces the uuid generator used by Start.
func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) {
		if newID != nil {
			c.newID = newID
		}
	}
}
