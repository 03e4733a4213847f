// Package job orchestrates one acquisition run: planning, downloading,
// converting, and the optional tabular export.
package job

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/tigerroll/nwpfetch/pkg/nwp/component/transport"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/config"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/metrics"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/model"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/planner"
	"github.com/tigerroll/nwpfetch/pkg/nwp/engine/convert"
	"github.com/tigerroll/nwpfetch/pkg/nwp/grid"
	"github.com/tigerroll/nwpfetch/pkg/nwp/grid/gridfile"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/logger"
)

const moduleName = "job"

// PlanBuilder expands a request into download jobs and knows the run layout.
type PlanBuilder interface {
	BuildPlan(req planner.Request) (*planner.Plan, error)
	ProcessedDir(date, cycle string) string
}

// BatchDownloader fetches a batch of planned files.
type BatchDownloader interface {
	DownloadAll(ctx context.Context, jobs []planner.DownloadJob) *transport.BatchResult
}

// Converter turns raw files of one run into the processed grid format.
type Converter interface {
	Convert(ctx context.Context, inputPaths []string, opts convert.Options) (*convert.Result, error)
}

// Exporter buffers converted datasets and flushes them to storage.
type Exporter interface {
	Buffer(ds *grid.Dataset, model, date, cycle string) error
	Flush(ctx context.Context) error
}

// Runner drives the pipeline steps for one request. Unit failures (a file
// that will not download, a run that will not convert) are collected on the
// JobExecution; only step-level failures abort the run.
type Runner struct {
	modelName  string
	plan       PlanBuilder
	downloader BatchDownloader
	converter  Converter
	exporter   Exporter // nil when export is disabled
	cfg        *config.Config
	recorder   metrics.MetricRecorder
	tracer     metrics.Tracer
}

// NewRunner creates a runner. exporter may be nil.
func NewRunner(
	modelName string,
	plan PlanBuilder,
	downloader BatchDownloader,
	converter Converter,
	exporter Exporter,
	cfg *config.Config,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *Runner {
	return &Runner{
		modelName:  modelName,
		plan:       plan,
		downloader: downloader,
		converter:  converter,
		exporter:   exporter,
		cfg:        cfg,
		recorder:   recorder,
		tracer:     tracer,
	}
}

// runGroup is one model run's worth of successfully downloaded files.
type runGroup struct {
	date   string
	cycle  string
	inputs []string
}

// Run executes the pipeline for one request and returns the finished
// JobExecution. The returned error is non-nil only when a whole step failed;
// partial failures are reported through the execution's exit status.
func (r *Runner) Run(ctx context.Context, req planner.Request) (*model.JobExecution, error) {
	job := model.NewJobExecution(r.cfg.Nwpfetch.Batch.JobName)
	r.recorder.RecordJobStart(ctx, job)
	ctx, endSpan := r.tracer.StartJobSpan(ctx, job)
	defer endSpan()
	job.MarkStarted()

	plan, err := r.runPlanStep(ctx, job, req)
	if err != nil {
		return r.finishFailed(ctx, job, err), err
	}
	if len(plan.Jobs) == 0 {
		logger.Infof("Nothing to do: the plan is empty (%d triples skipped).", plan.Skipped)
		return r.finishCompleted(ctx, job), nil
	}

	groups, err := r.runDownloadStep(ctx, job, plan)
	if err != nil {
		return r.finishFailed(ctx, job, err), err
	}

	if req.SkipConvert {
		logger.Infof("Skipping conversion of %d downloaded runs as requested.", len(groups))
		return r.finishCompleted(ctx, job), nil
	}

	results := r.runConvertStep(ctx, job, req, groups)

	if r.exporter != nil && r.cfg.Nwpfetch.Export.Enabled {
		r.runExportStep(ctx, job, results)
	}

	return r.finishCompleted(ctx, job), nil
}

func (r *Runner) finishCompleted(ctx context.Context, job *model.JobExecution) *model.JobExecution {
	job.MarkCompleted()
	r.recorder.RecordJobEnd(ctx, job)
	logger.Infof("Job '%s' finished with exit status %s (%d unit failures).",
		job.JobName, job.ExitStatus, len(job.Failures))
	return job
}

func (r *Runner) finishFailed(ctx context.Context, job *model.JobExecution, err error) *model.JobExecution {
	r.tracer.RecordError(ctx, moduleName, err)
	job.MarkFailed(err)
	r.recorder.RecordJobEnd(ctx, job)
	logger.Errorf("Job '%s' failed: %s", job.JobName, exception.ExtractErrorMessage(err))
	return job
}

func (r *Runner) runPlanStep(ctx context.Context, job *model.JobExecution, req planner.Request) (*planner.Plan, error) {
	step := model.NewStepExecution("plan", job)
	r.recorder.RecordStepStart(ctx, step)
	ctx, endSpan := r.tracer.StartStepSpan(ctx, step)
	defer endSpan()

	plan, err := r.plan.BuildPlan(req)
	if err != nil {
		step.MarkFailed()
		r.recorder.RecordStepEnd(ctx, step)
		return nil, err
	}
	logger.Infof("Plan: %s", plan.Describe())
	step.MarkCompleted()
	r.recorder.RecordStepEnd(ctx, step)
	return plan, nil
}

// runDownloadStep fetches the planned files and groups the successes per
// model run, preserving the plan's forecast hour order. The step fails only
// when every download failed.
func (r *Runner) runDownloadStep(ctx context.Context, job *model.JobExecution, plan *planner.Plan) ([]runGroup, error) {
	step := model.NewStepExecution("download", job)
	r.recorder.RecordStepStart(ctx, step)
	ctx, endSpan := r.tracer.StartStepSpan(ctx, step)
	defer endSpan()

	start := time.Now()
	result := r.downloader.DownloadAll(ctx, plan.Jobs)
	r.recorder.RecordDuration(ctx, "download", time.Since(start), map[string]string{"model": r.modelName})

	failed := make(map[string]bool, len(result.Failed))
	for _, f := range result.Failed {
		failed[f.Job.DestPath] = true
		job.AddFailure(f.Err)
		r.tracer.RecordError(ctx, moduleName, f.Err)
	}

	if result.Succeeded == 0 {
		step.MarkFailed()
		r.recorder.RecordStepEnd(ctx, step)
		err := exception.NewBatchError(moduleName,
			fmt.Sprintf("all %d downloads failed", len(plan.Jobs)), result.Err(), false, false)
		return nil, err
	}

	var groups []runGroup
	index := make(map[string]int)
	for _, j := range plan.Jobs {
		if failed[j.DestPath] {
			continue
		}
		key := j.Date + "/" + j.Cycle
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, runGroup{date: j.Date, cycle: j.Cycle})
		}
		groups[i].inputs = append(groups[i].inputs, j.DestPath)
	}

	step.MarkCompleted()
	r.recorder.RecordStepEnd(ctx, step)
	return groups, nil
}

// runConvertStep converts each run independently; a run that fails to
// convert is recorded as a unit failure and the remaining runs proceed.
func (r *Runner) runConvertStep(ctx context.Context, job *model.JobExecution, req planner.Request, groups []runGroup) []*convert.Result {
	step := model.NewStepExecution("convert", job)
	r.recorder.RecordStepStart(ctx, step)
	ctx, endSpan := r.tracer.StartStepSpan(ctx, step)
	defer endSpan()

	variables := req.Variables
	if len(variables) == 0 {
		if mc, _, ok := r.cfg.Model(r.modelName); ok {
			variables = mc.Variables
		}
	}

	var results []*convert.Result
	for _, g := range groups {
		start := time.Now()
		res, err := r.converter.Convert(ctx, g.inputs, convert.Options{
			Variables:     variables,
			Bounds:        req.Bounds,
			ProcessedPath: filepath.Join(r.plan.ProcessedDir(g.date, g.cycle), r.outputFileName(g.date, g.cycle)),
			Interpolate:   !req.SkipInterpolate,
		})
		r.recorder.RecordDuration(ctx, "convert", time.Since(start),
			map[string]string{"model": r.modelName, "date": g.date, "cycle": g.cycle})
		if err != nil {
			job.AddFailure(err)
			r.tracer.RecordError(ctx, moduleName, err)
			logger.Errorf("Conversion of run %s %sZ failed: %s", g.date, g.cycle, exception.ExtractErrorMessage(err))
			continue
		}
		logger.Infof("Converted run %s %sZ: %d files -> %.1f MB (%d time steps).",
			g.date, g.cycle, res.Metadata.InputFiles, res.Metadata.OutputMB, res.Metadata.TimeSteps)
		results = append(results, res)
	}

	step.MarkCompleted()
	r.recorder.RecordStepEnd(ctx, step)
	return results
}

// runExportStep flattens converted runs into the tabular export. The
// interpolated output is preferred when it exists.
func (r *Runner) runExportStep(ctx context.Context, job *model.JobExecution, results []*convert.Result) {
	step := model.NewStepExecution("export", job)
	r.recorder.RecordStepStart(ctx, step)
	ctx, endSpan := r.tracer.StartStepSpan(ctx, step)
	defer endSpan()

	start := time.Now()
	buffered := 0
	for _, res := range results {
		path := res.InterpolatedPath
		if path == "" {
			path = res.ProcessedPath
		}
		ds, err := gridfile.ReadFile(path)
		if err != nil {
			job.AddFailure(err)
			r.tracer.RecordError(ctx, moduleName, err)
			continue
		}
		date, cycle := runOfPath(path)
		if err := r.exporter.Buffer(ds, r.modelName, date, cycle); err != nil {
			job.AddFailure(err)
			r.tracer.RecordError(ctx, moduleName, err)
			continue
		}
		buffered++
	}

	if buffered > 0 {
		if err := r.exporter.Flush(ctx); err != nil {
			job.AddFailure(err)
			r.tracer.RecordError(ctx, moduleName, err)
			step.MarkFailed()
			r.recorder.RecordStepEnd(ctx, step)
			return
		}
	}
	r.recorder.RecordDuration(ctx, "export", time.Since(start), map[string]string{"model": r.modelName})
	step.MarkCompleted()
	r.recorder.RecordStepEnd(ctx, step)
}

// outputFileName builds the converted artifact name for one run.
func (r *Runner) outputFileName(date, cycle string) string {
	c := r.cfg.Nwpfetch.Convert
	return fmt.Sprintf("%s.%s.%sz.%s", c.OutFile, date, cycle, c.Extension)
}

// runOfPath recovers the (date, cycle) of a run from its artifact path,
// which is laid out as .../{model_key}/{date}/{cycle}/{stage}/{file}.
func runOfPath(path string) (string, string) {
	stageDir := filepath.Dir(path)
	cycleDir := filepath.Dir(stageDir)
	dateDir := filepath.Dir(cycleDir)
	return filepath.Base(dateDir), filepath.Base(cycleDir)
}
