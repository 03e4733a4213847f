package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	metrics "github.com/tigerroll/nwpfetch/pkg/nwp/core/metrics"
	model "github.com/tigerroll/nwpfetch/pkg/nwp/core/model"
	logger "github.com/tigerroll/nwpfetch/pkg/nwp/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Job Metrics
	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec

	// Step Metrics
	stepDurationSeconds *prometheus.HistogramVec
	stepStatusCounter   *prometheus.CounterVec

	// Pipeline Metrics
	downloadCounter      *prometheus.CounterVec
	downloadBytesCounter *prometheus.CounterVec
	conversionCounter    *prometheus.CounterVec
	conversionInputFiles *prometheus.CounterVec

	// Generic operation durations (download, convert, interpolate, export).
	operationDurationSeconds *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() metrics.MetricRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nwp_job_duration_seconds",
			Help:    "Duration of pipeline job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "status", "exit_status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nwp_job_status_total",
			Help: "Total number of pipeline job executions by status.",
		}, []string{"job_name", "status"}),
		stepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nwp_step_duration_seconds",
			Help:    "Duration of pipeline step executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "step_name", "status", "exit_status"}),
		stepStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nwp_step_status_total",
			Help: "Total number of pipeline step executions by status.",
		}, []string{"job_name", "step_name", "status"}),
		downloadCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nwp_download_total",
			Help: "Total number of file downloads by outcome.",
		}, []string{"status"}),
		downloadBytesCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nwp_download_bytes_total",
			Help: "Total bytes downloaded by outcome.",
		}, []string{"status"}),
		conversionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nwp_conversion_total",
			Help: "Total number of grid conversion runs by outcome.",
		}, []string{"status"}),
		conversionInputFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nwp_conversion_input_files_total",
			Help: "Total number of input files consumed by conversions.",
		}, []string{"status"}),
		operationDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nwp_operation_duration_seconds",
			Help:    "Duration of named pipeline operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
	}

	// Register all metrics with the registry.
	registry.MustRegister(r.jobDurationSeconds)
	registry.MustRegister(r.jobStatusCounter)
	registry.MustRegister(r.stepDurationSeconds)
	registry.MustRegister(r.stepStatusCounter)
	registry.MustRegister(r.downloadCounter)
	registry.MustRegister(r.downloadBytesCounter)
	registry.MustRegister(r.conversionCounter)
	registry.MustRegister(r.conversionInputFiles)
	registry.MustRegister(r.operationDurationSeconds)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordJobStart records the start of a JobExecution.
func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobStatusCounter.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
	logger.Debugf("Metrics: Job '%s' started.", execution.JobName)
}

// RecordJobEnd records the end of a JobExecution.
func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()

	r.jobDurationSeconds.WithLabelValues(
		execution.JobName,
		execution.Status.String(),
		execution.ExitStatus,
	).Observe(duration)

	logger.Debugf("Metrics: Job '%s' ended. Duration: %.3fs", execution.JobName, duration)
}

// RecordStepStart records the start of a StepExecution.
func (r *PrometheusRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	// JobExecution is included in StepExecution, so JobName can be obtained.
	jobName := execution.JobExecution.JobName
	r.stepStatusCounter.WithLabelValues(jobName, execution.StepName, execution.Status.String()).Inc()
	logger.Debugf("Metrics: Step '%s' started.", execution.StepName)
}

// RecordStepEnd records the end of a StepExecution.
func (r *PrometheusRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()

	r.stepDurationSeconds.WithLabelValues(
		execution.JobExecution.JobName,
		execution.StepName,
		execution.Status.String(),
		execution.ExitStatus,
	).Observe(duration)

	logger.Debugf("Metrics: Step '%s' ended. Duration: %.3fs", execution.StepName, duration)
}

// RecordDownload records the outcome of a single file download.
func (r *PrometheusRecorder) RecordDownload(ctx context.Context, status string, bytes int64) {
	r.downloadCounter.WithLabelValues(status).Inc()
	if bytes > 0 {
		r.downloadBytesCounter.WithLabelValues(status).Add(float64(bytes))
	}
}

// RecordConversion records the outcome of a grid conversion run.
func (r *PrometheusRecorder) RecordConversion(ctx context.Context, status string, inputFiles int) {
	r.conversionCounter.WithLabelValues(status).Inc()
	if inputFiles > 0 {
		r.conversionInputFiles.WithLabelValues(status).Add(float64(inputFiles))
	}
}

// RecordDuration records the execution time of a named operation. Tags are
// not mapped to labels to keep the label cardinality fixed.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDurationSeconds.WithLabelValues(name).Observe(duration.Seconds())
	if len(tags) > 0 {
		logger.Debugf("Metrics: operation '%s' took %s (tags: %v).", name, duration, tags)
	}
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
