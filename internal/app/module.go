package app

import (
	"os"

	"go.uber.org/fx"

	"github.com/tigerroll/nwpfetch/internal/cli"
	"github.com/tigerroll/nwpfetch/pkg/nwp/adapter/storage"
	"github.com/tigerroll/nwpfetch/pkg/nwp/component/export"
	"github.com/tigerroll/nwpfetch/pkg/nwp/component/transport"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/config"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/job"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/mapping"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/metrics"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/planner"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/provider"
	"github.com/tigerroll/nwpfetch/pkg/nwp/engine/convert"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
)

// NewVariableMapper parses the embedded mapping tables.
func NewVariableMapper(data config.EmbeddedMapping) (*mapping.VariableMapper, error) {
	return mapping.NewVariableMapper(data)
}

// NewProvider builds the provider for the model the command targets.
func NewProvider(cfg *config.Config, mapper *mapping.VariableMapper, cmd *cli.Command) (*provider.GFSProvider, error) {
	mc, name, ok := cfg.Model(cmd.Model)
	if !ok {
		return nil, exception.NewInvalidParameterError("app", "unknown model '"+cmd.Model+"'", nil)
	}
	return provider.NewGFSProvider(name, mc, mapper.ScheduleFor(name)), nil
}

// NewPlanner builds the planner over the command's model.
func NewPlanner(cfg *config.Config, mapper *mapping.VariableMapper, prov *provider.GFSProvider, cmd *cli.Command) (*planner.Planner, error) {
	mc, name, _ := cfg.Model(cmd.Model)
	modelKey, err := mapper.ModelKey(name)
	if err != nil {
		return nil, err
	}
	return planner.NewPlanner(prov, mapper.ScheduleFor(name), cfg.Nwpfetch.Download.OutputDir, modelKey, mc.MaxForecastHours), nil
}

// NewDownloader builds the HTTP downloader from the download configuration.
func NewDownloader(cfg *config.Config, recorder metrics.MetricRecorder) *transport.Downloader {
	return transport.NewDownloader(cfg.Nwpfetch.Download, recorder)
}

// NewConvertEngine builds the conversion engine.
func NewConvertEngine(mapper *mapping.VariableMapper, cfg *config.Config, recorder metrics.MetricRecorder) *convert.Engine {
	return convert.NewEngine(mapper, cfg.Nwpfetch.Convert, recorder)
}

// NewExporter builds the Parquet exporter, or nil when the export stage is
// disabled.
func NewExporter(cfg *config.Config, resolver storage.StorageConnectionResolver) (*export.ParquetExporter, error) {
	if !cfg.Nwpfetch.Export.Enabled {
		return nil, nil
	}
	return export.NewParquetExporter(cfg.Nwpfetch.Export, resolver)
}

// NewRunner assembles the pipeline runner.
func NewRunner(
	cmd *cli.Command,
	plan *planner.Planner,
	downloader *transport.Downloader,
	engine *convert.Engine,
	exporter *export.ParquetExporter,
	cfg *config.Config,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *job.Runner {
	_, name, _ := cfg.Model(cmd.Model)
	// A nil *ParquetExporter must stay a nil interface.
	var exp job.Exporter
	if exporter != nil {
		exp = exporter
	}
	return job.NewRunner(name, plan, downloader, engine, exp, cfg, recorder, tracer)
}

// NewExecutor assembles the command executor writing to stdout.
func NewExecutor(cfg *config.Config, runner *job.Runner, plan *planner.Planner, engine *convert.Engine) *cli.Executor {
	return cli.NewExecutor(cfg, runner, plan, engine, os.Stdout)
}

// Module provides the application-level components to Fx.
var Module = fx.Options(
	fx.Provide(
		NewVariableMapper,
		NewProvider,
		NewPlanner,
		NewDownloader,
		NewConvertEngine,
		NewExporter,
		NewRunner,
		NewExecutor,
	),
)
