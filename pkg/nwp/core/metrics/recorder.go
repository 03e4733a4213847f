package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/nwpfetch/pkg/nwp/core/model"
)

// MetricRecorder is an abstract interface for recording metrics related to pipeline execution.
//
// This interface provides a standardized way to record metrics for job, step,
// download, and conversion events, and facilitates integration with different
// metrics backends (e.g., Prometheus).
type MetricRecorder interface {
	// RecordJobStart records the start of a JobExecution.
	//
	// ctx: The context for the operation.
	// execution: Details of the started JobExecution.
	RecordJobStart(ctx context.Context, execution *model.JobExecution)

	// RecordJobEnd records the end of a JobExecution.
	//
	// ctx: The context for the operation.
	// execution: Details of the ended JobExecution.
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)

	// RecordStepStart records the start of a StepExecution.
	//
	// ctx: The context for the operation.
	// execution: Details of the started StepExecution.
	RecordStepStart(ctx context.Context, execution *model.StepExecution)

	// RecordStepEnd records the end of a StepExecution.
	//
	// ctx: The context for the operation.
	// execution: Details of the ended StepExecution.
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)

	// RecordDownload records the outcome of a single file download.
	//
	// ctx: The context for the operation.
	// status: The outcome ("success", "failed", "skipped").
	// bytes: The number of bytes transferred.
	RecordDownload(ctx context.Context, status string, bytes int64)

	// RecordConversion records the outcome of a grid conversion run.
	//
	// ctx: The context for the operation.
	// status: The outcome ("success", "failed", "degraded").
	// inputFiles: The number of input files consumed.
	RecordConversion(ctx context.Context, status string, inputFiles int)

	// RecordDuration records the execution time of a specific operation.
	//
	// ctx: The context for the operation.
	// name: The name of the duration to record (e.g., "download_duration", "interpolate_duration").
	// duration: The length of the duration to record.
	// tags: A map of additional tags or attributes to associate with the duration.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
