package saga

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "saga"

// Outcome label values of saga_instances_finished_total.
const (
	OutcomeCompleted            = "completed"
	OutcomeCompensated          = "compensated"
	OutcomePartiallyCompensated = "partially_compensated"
)

// Metrics holds the coordinator's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	InstancesStarted  *prometheus.CounterVec
	InstancesFinished *prometheus.CounterVec
	InstancesInFlight *prometheus.GaugeVec
	StepDuration      *prometheus.HistogramVec
	StepRetries       *prometheus.CounterVec
	Compensations     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InstancesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "instances_started_total",
				Help:      "Saga instances created, by saga",
			},
			[]string{"saga"},
		),
		InstancesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "instances_finished_total",
				Help:      "Saga instances that reached a terminal status, by saga and outcome",
			},
			[]string{"saga", "outcome"},
		),
		InstancesInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "instances_in_flight",
				Help:      "Saga instances currently being driven by this process",
			},
			[]string{"saga"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "step_duration_seconds",
				Help:      "Forward step duration including retries, by saga, step and result",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"saga", "step", "result"},
		),
		StepRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "step_retries_total",
				Help:      "Retries of forward steps after transient failures",
			},
			[]string{"saga", "step"},
		),
		Compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "compensations_total",
				Help:      "Compensation attempts, by saga, step and result",
			},
			[]string{"saga", "step", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.InstancesStarted,
			m.InstancesFinished,
			m.InstancesInFlight,
			m.StepDuration,
			m.StepRetries,
			m.Compensations,
		)
	}
	return m
}

func (m *Metrics) started(saga string) {
	if m == nil {
		return
	}
	m.InstancesStarted.WithLabelValues(saga).Inc()
}

func (m *Metrics) finished(saga, outcome string) {
	if m == nil {
		return
	}
	m.InstancesFinished.WithLabelValues(saga, outcome).Inc()
}

// enter marks an instance in flight and returns the matching exit func.
func (m *Metrics) enter(saga string) func() {
	if m == nil {
		return func() {}
	}
	g := m.InstancesInFlight.WithLabelValues(saga)
	g.Inc()
	return g.Dec
}

func (m *Metrics) step(saga, step string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "committed"
	if err != nil {
		result = "failed"
	}
	m.StepDuration.WithLabelValues(saga, step, result).Observe(d.Seconds())
}

func (m *Metrics) retried(saga, step string) {
	if m == nil {
		return
	}
	m.StepRetries.WithLabelValues(saga, step).Inc()
}

func (m *Metrics) compensation(saga, step string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.Compensations.WithLabelValues(saga, step, result).Inc()
}
