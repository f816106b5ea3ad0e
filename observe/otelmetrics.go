package observe

import (
	"time"

	"github.com/davidroman0O/stagequeue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics records queue activity through an OpenTelemetry meter.
type OTelMetrics struct {
	scheduled metric.Int64Counter
	executed  metric.Int64Counter
	failed    metric.Int64Counter
	completed metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewOTelMetrics creates the instruments on meter. A nil meter uses the
// global meter provider.
func NewOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	m := &OTelMetrics{}
	var err error

	if m.scheduled, err = meter.Int64Counter("stagequeue.actions.scheduled",
		metric.WithDescription("Actions passed to ScheduleAt")); err != nil {
		return nil, err
	}
	if m.executed, err = meter.Int64Counter("stagequeue.actions.executed",
		metric.WithDescription("Actions executed")); err != nil {
		return nil, err
	}
	if m.failed, err = meter.Int64Counter("stagequeue.actions.failed",
		metric.WithDescription("Actions that returned an error")); err != nil {
		return nil, err
	}
	if m.completed, err = meter.Int64Counter("stagequeue.stages.completed",
		metric.WithDescription("Stages fully drained")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("stagequeue.action.duration",
		metric.WithDescription("Action execution time"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

// ActionScheduled implements stagequeue.Observer
func (m *OTelMetrics) ActionScheduled(p *stagequeue.Project, stage stagequeue.Stage, d stagequeue.Disposition) {
	m.scheduled.Add(p.Context(), 1, metric.WithAttributes(
		attribute.String("stage", stage.String()),
		attribute.String("disposition", string(d)),
	))
}

// StageCompleted implements stagequeue.Observer
func (m *OTelMetrics) StageCompleted(p *stagequeue.Project, stage stagequeue.Stage, executed int) {
	m.completed.Add(p.Context(), 1, metric.WithAttributes(attribute.String("stage", stage.String())))
}

// Middleware returns action middleware counting and timing executions.
func (m *OTelMetrics) Middleware() stagequeue.ActionMiddleware {
	return func(next stagequeue.ActionRunnerFunc) stagequeue.ActionRunnerFunc {
		return func(p *stagequeue.Project, exec stagequeue.Execution) error {
			attrs := metric.WithAttributes(
				attribute.String("stage", exec.Stage.String()),
				attribute.String("mode", Mode(exec)),
			)

			start := time.Now()
			err := next(p, exec)

			ctx := p.Context()
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			m.executed.Add(ctx, 1, attrs)
			if err != nil {
				m.failed.Add(ctx, 1, attrs)
			}
			return err
		}
	}
}
