package observe

import (
	"fmt"

	"github.com/davidroman0O/stagequeue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/davidroman0O/stagequeue/observe"

// Tracing returns action middleware that records one span per execution.
// A nil tracer uses the global tracer provider.
//
// Actions carry no context, so spans are not nested: a nested inline action
// produces a sibling span whose seq attribute identifies it.
func Tracing(tracer trace.Tracer) stagequeue.ActionMiddleware {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}

	return func(next stagequeue.ActionRunnerFunc) stagequeue.ActionRunnerFunc {
		return func(p *stagequeue.Project, exec stagequeue.Execution) error {
			_, span := tracer.Start(p.Context(), fmt.Sprintf("stagequeue.%s", exec.Stage),
				trace.WithAttributes(
					attribute.String("stagequeue.project.id", p.ID),
					attribute.String("stagequeue.project.path", p.Path()),
					attribute.String("stagequeue.stage", exec.Stage.String()),
					attribute.String("stagequeue.mode", Mode(exec)),
					attribute.Int64("stagequeue.seq", int64(exec.Seq)),
				),
			)
			defer span.End()

			err := next(p, exec)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}
