package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tigerroll/nwpfetch/pkg/nwp/core/config"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/job"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/model"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/planner"
	"github.com/tigerroll/nwpfetch/pkg/nwp/engine/convert"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/logger"
)

// PipelineRunner runs the full acquisition pipeline for one request.
type PipelineRunner interface {
	Run(ctx context.Context, req planner.Request) (*model.JobExecution, error)
}

// Executor carries out parsed commands.
type Executor struct {
	cfg       *config.Config
	runner    PipelineRunner
	plan      *planner.Planner
	converter job.Converter
	out       io.Writer
}

// NewExecutor creates an executor writing human-readable output to out.
func NewExecutor(cfg *config.Config, runner PipelineRunner, plan *planner.Planner, converter job.Converter, out io.Writer) *Executor {
	return &Executor{
		cfg:       cfg,
		runner:    runner,
		plan:      plan,
		converter: converter,
		out:       out,
	}
}

// Execute dispatches one command.
func (e *Executor) Execute(ctx context.Context, cmd *Command) error {
	switch cmd.Action {
	case ActionDownload:
		return e.download(ctx, cmd)
	case ActionProcess:
		return e.process(ctx, cmd)
	case ActionClean:
		return e.clean(cmd)
	case ActionStatus:
		return e.status()
	case ActionListModels:
		return e.listModels()
	default:
		return exception.NewInvalidParameterError(moduleName,
			fmt.Sprintf("unknown command '%s'", cmd.Action), nil)
	}
}

func (e *Executor) download(ctx context.Context, cmd *Command) error {
	execution, err := e.runner.Run(ctx, cmd.Request)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Job %s finished: %s\n", execution.ID, execution.ExitStatus)
	for _, f := range execution.Failures {
		fmt.Fprintf(e.out, "  failure: %s\n", exception.ExtractErrorMessage(f))
	}
	return nil
}

// process converts already-downloaded raw files of the selected runs without
// touching the network.
func (e *Executor) process(ctx context.Context, cmd *Command) error {
	mc, _, _ := e.cfg.Model(cmd.Model)
	converted := 0
	for _, date := range cmd.Dates {
		for _, cycle := range cmd.Cycles {
			inputs, err := e.rawFiles(date, cycle)
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				logger.Warnf("No raw files for run %s %sZ, skipping.", date, cycle)
				continue
			}
			c := e.cfg.Nwpfetch.Convert
			res, err := e.converter.Convert(ctx, inputs, convert.Options{
				Variables:     mc.Variables,
				ProcessedPath: filepath.Join(e.plan.ProcessedDir(date, cycle), fmt.Sprintf("%s.%s.%sz.%s", c.OutFile, date, cycle, c.Extension)),
				Interpolate:   true,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "Converted %s %sZ: %d files -> %s\n", date, cycle, res.Metadata.InputFiles, res.ProcessedPath)
			converted++
		}
	}
	if converted == 0 {
		return exception.NewInvalidParameterError(moduleName, "no runs with raw files matched the selection", nil)
	}
	return nil
}

func (e *Executor) rawFiles(date, cycle string) ([]string, error) {
	dir := e.plan.RawDir(date, cycle)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, exception.NewBatchError(moduleName,
			fmt.Sprintf("failed to read raw directory '%s'", dir), err, false, false)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// clean removes the run directories of the selection.
func (e *Executor) clean(cmd *Command) error {
	for _, date := range cmd.Dates {
		for _, cycle := range cmd.Cycles {
			dir := e.plan.RunDir(date, cycle)
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				return exception.NewBatchError(moduleName,
					fmt.Sprintf("failed to remove run directory '%s'", dir), err, false, false)
			}
			fmt.Fprintf(e.out, "Removed %s\n", dir)
		}
	}
	return nil
}

// status reports the on-disk state of every run of the model.
func (e *Executor) status() error {
	root := e.plan.Root()
	dates, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		fmt.Fprintf(e.out, "No runs found under %s\n", root)
		return nil
	}
	if err != nil {
		return exception.NewBatchError(moduleName,
			fmt.Sprintf("failed to read output directory '%s'", root), err, false, false)
	}

	found := false
	for _, dateEntry := range dates {
		if !dateEntry.IsDir() {
			continue
		}
		cycles, err := os.ReadDir(filepath.Join(root, dateEntry.Name()))
		if err != nil {
			continue
		}
		for _, cycleEntry := range cycles {
			if !cycleEntry.IsDir() {
				continue
			}
			run := filepath.Join(root, dateEntry.Name(), cycleEntry.Name())
			fmt.Fprintf(e.out, "%s %sZ: raw=%d processed=%d interpolated=%d\n",
				dateEntry.Name(), cycleEntry.Name(),
				countFiles(filepath.Join(run, "raw")),
				countFiles(filepath.Join(run, "processed")),
				countFiles(filepath.Join(run, "interpolated")))
			found = true
		}
	}
	if !found {
		fmt.Fprintf(e.out, "No runs found under %s\n", root)
	}
	return nil
}

func (e *Executor) listModels() error {
	names := make([]string, 0, len(e.cfg.Nwpfetch.Models))
	for name := range e.cfg.Nwpfetch.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		mc := e.cfg.Nwpfetch.Models[name]
		fmt.Fprintf(e.out, "%s: resolution=%s cycles=%s max_forecast_hours=%d\n",
			name, mc.Resolution, strings.Join(mc.Cycles, ","), mc.MaxForecastHours)
	}
	return nil
}

func countFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			n++
		}
	}
	return n
}
