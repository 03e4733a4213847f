package metrics

import (
	"context"

	model "github.com/tigerroll/nwpfetch/pkg/nwp/core/model"
)

// Tracer is an abstract interface for tracing pipeline execution.
// It enables visualization of job and step execution flows without binding
// the core packages to a concrete tracing backend.
type Tracer interface {
	// StartJobSpan starts a span for a JobExecution.
	//
	// ctx: The parent context.
	// execution: The JobExecution to be traced.
	//
	// Returns: A context with the new span set, and a function to end the span.
	//          It is recommended to call the returned function in a defer statement.
	StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func())

	// StartStepSpan starts a span for a StepExecution.
	//
	// ctx: The parent context (typically a context with a job span).
	// execution: The StepExecution to be traced.
	//
	// Returns: A context with the new span set, and a function to end the span.
	StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func())

	// RecordError records an error in the current span.
	//
	// ctx: The context with the current span.
	// module: The name of the module or component where the error occurred.
	// err: The error to record.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current span.
	//
	// ctx: The context with the current span.
	// name: The name of the event (e.g., "download_complete", "subset_degraded").
	// attributes: Additional attributes to associate with the event.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
