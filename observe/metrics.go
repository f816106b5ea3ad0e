package observe

import (
	"time"

	"github.com/davidroman0O/stagequeue"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stagequeue"

// Metrics holds Prometheus collectors for staged queues. One Metrics value
// can observe any number of queues.
type Metrics struct {
	scheduled *prometheus.CounterVec
	executed  *prometheus.CounterVec
	failed    *prometheus.CounterVec
	completed *prometheus.CounterVec
	pending   *prometheus.GaugeVec
	duration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		scheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_scheduled_total",
			Help:      "Actions passed to ScheduleAt, by stage and disposition.",
		}, []string{"stage", "disposition"}),
		executed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_executed_total",
			Help:      "Actions executed, by stage and mode (inline or drain).",
		}, []string{"stage", "mode"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_failed_total",
			Help:      "Actions that returned an error, by stage and mode.",
		}, []string{"stage", "mode"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_completed_total",
			Help:      "Stages fully drained.",
		}, []string{"stage"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actions_pending",
			Help:      "Actions queued and not yet drained, by stage.",
		}, []string{"stage"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Action execution time, nested actions included.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"stage", "mode"}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.scheduled, m.executed, m.failed, m.completed, m.pending, m.duration}
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// ActionScheduled implements stagequeue.Observer
func (m *Metrics) ActionScheduled(p *stagequeue.Project, stage stagequeue.Stage, d stagequeue.Disposition) {
	m.scheduled.WithLabelValues(stage.String(), string(d)).Inc()
	if d == stagequeue.DispositionQueued {
		m.pending.WithLabelValues(stage.String()).Inc()
	}
}

// StageCompleted implements stagequeue.Observer
func (m *Metrics) StageCompleted(p *stagequeue.Project, stage stagequeue.Stage, executed int) {
	m.completed.WithLabelValues(stage.String()).Inc()
}

// Middleware returns action middleware counting and timing executions.
func (m *Metrics) Middleware() stagequeue.ActionMiddleware {
	return func(next stagequeue.ActionRunnerFunc) stagequeue.ActionRunnerFunc {
		return func(p *stagequeue.Project, exec stagequeue.Execution) error {
			stage := exec.Stage.String()
			mode := Mode(exec)
			if !exec.Inline {
				m.pending.WithLabelValues(stage).Dec()
			}

			start := time.Now()
			err := next(p, exec)
			m.duration.WithLabelValues(stage, mode).Observe(time.Since(start).Seconds())

			m.executed.WithLabelValues(stage, mode).Inc()
			if err != nil {
				m.failed.WithLabelValues(stage, mode).Inc()
			}
			return err
		}
	}
}

// Mode labels an execution as "inline" or "drain".
func Mode(exec stagequeue.Execution) string {
	if exec.Inline {
		return "inline"
	}
	return "drain"
}
