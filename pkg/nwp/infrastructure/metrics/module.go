package metrics

import (
	"go.uber.org/fx"

	metrics "github.com/tigerroll/nwpfetch/pkg/nwp/core/metrics"
)

// Module is an Fx module that provides PrometheusRecorder and LoggingTracer.
var Module = fx.Options(
	// Provide PrometheusRecorder as a metrics.MetricRecorder interface.
	fx.Provide(fx.Annotate(
		NewPrometheusRecorder,
		fx.As(new(metrics.MetricRecorder)),
	)),
	// Provide LoggingTracer as a metrics.Tracer interface.
	fx.Provide(fx.Annotate(
		NewLoggingTracer,
		fx.As(new(metrics.Tracer)),
	)),
)
