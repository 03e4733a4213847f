package metrics

import (
	"context"

	metrics "github.com/tigerroll/nwpfetch/pkg/nwp/core/metrics"
	model "github.com/tigerroll/nwpfetch/pkg/nwp/core/model"
	logger "github.com/tigerroll/nwpfetch/pkg/nwp/support/util/logger"
)

// LoggingTracer is an implementation of metrics.Tracer that emits spans and
// events to the debug log. It keeps the tracing call sites in place so a
// real tracing backend can be swapped in without touching the pipeline.
type LoggingTracer struct{}

// NewLoggingTracer creates a new instance of LoggingTracer.
func NewLoggingTracer() metrics.Tracer {
	return &LoggingTracer{}
}

// StartJobSpan starts a new span for a JobExecution.
func (t *LoggingTracer) StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func()) {
	logger.Debugf("Tracer: StartJobSpan called for Job '%s'", execution.JobName)
	return ctx, func() {
		logger.Debugf("Tracer: FinishJobSpan called for Job '%s'", execution.JobName)
	}
}

// StartStepSpan starts a new span for a StepExecution.
func (t *LoggingTracer) StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func()) {
	logger.Debugf("Tracer: StartStepSpan called for Step '%s'", execution.StepName)
	return ctx, func() {
		logger.Debugf("Tracer: FinishStepSpan called for Step '%s'", execution.StepName)
	}
}

// RecordError records an error in the current span.
func (t *LoggingTracer) RecordError(ctx context.Context, module string, err error) {
	logger.Debugf("Tracer: RecordError called in module %s: %v", module, err)
}

// RecordEvent records an event in the current span.
func (t *LoggingTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	logger.Debugf("Tracer: RecordEvent called: %s, attributes: %v", name, attributes)
}

var _ metrics.Tracer = (*LoggingTracer)(nil)
