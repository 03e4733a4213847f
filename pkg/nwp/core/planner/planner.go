// Package planner expands a download request into the concrete set of files
// to fetch and lays out the on-disk run directories.
package planner

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tigerroll/nwpfetch/pkg/nwp/core/provider"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/schedule"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/logger"
)

const moduleName = "planner"

// DownloadJob is one file to fetch.
type DownloadJob struct {
	Model        string
	Date         string
	Cycle        string
	ForecastHour int
	URL          string
	DestPath     string
}

// Plan is the expanded set of download jobs for a request. Triples that
// failed validation are counted in Skipped; the rest of the plan stands.
type Plan struct {
	Jobs    []DownloadJob
	Skipped int
}

// Request selects the model runs and lead times to plan. StartHour/EndHour
// and Days are mutually exclusive ways to pick forecast hours; leaving all
// three unset plans every published hour.
type Request struct {
	Dates     []string
	Cycles    []string
	StartHour *int
	EndHour   *int
	Days      *float64
	Variables []string
	Levels    []string
	Bounds    *provider.Bounds
	// Clean removes stale raw, processed, and interpolated artifacts of the
	// planned runs before downloading.
	Clean bool
	// SkipConvert stops the pipeline after the download step.
	SkipConvert bool
	// SkipInterpolate converts without writing the hourly interpolated output.
	SkipInterpolate bool
}

// Planner expands requests against one provider.
type Planner struct {
	prov             provider.Provider
	table            schedule.Table
	outputDir        string
	modelKey         string
	maxForecastHours int
}

// NewPlanner creates a planner.
// modelKey is the directory prefix of the model's runs (e.g., "gfs.0p25").
func NewPlanner(prov provider.Provider, table schedule.Table, outputDir, modelKey string, maxForecastHours int) *Planner {
	return &Planner{
		prov:             prov,
		table:            table,
		outputDir:        outputDir,
		modelKey:         modelKey,
		maxForecastHours: maxForecastHours,
	}
}

// Root returns the directory holding every run of this model.
func (p *Planner) Root() string {
	return filepath.Join(p.outputDir, p.modelKey)
}

// RunDir returns the root directory of one model run.
func (p *Planner) RunDir(date, cycle string) string {
	return filepath.Join(p.outputDir, p.modelKey, date, cycle)
}

// RawDir returns the directory holding downloaded source files of one run.
func (p *Planner) RawDir(date, cycle string) string {
	return filepath.Join(p.RunDir(date, cycle), "raw")
}

// ProcessedDir returns the directory holding converted output of one run.
func (p *Planner) ProcessedDir(date, cycle string) string {
	return filepath.Join(p.RunDir(date, cycle), "processed")
}

// InterpolatedDir returns the directory holding interpolated output of one run.
func (p *Planner) InterpolatedDir(date, cycle string) string {
	return filepath.Join(p.RunDir(date, cycle), "interpolated")
}

// BuildPlan expands the request into the cartesian product of dates, cycles,
// and forecast hours. A triple that fails provider validation is logged and
// skipped; the remaining triples still form a usable plan.
func (p *Planner) BuildPlan(req Request) (*Plan, error) {
	if len(req.Dates) == 0 {
		return nil, exception.NewInvalidParameterError(moduleName, "no run dates given", nil)
	}
	if req.Days != nil && (req.StartHour != nil || req.EndHour != nil) {
		return nil, exception.NewInvalidParameterError(moduleName,
			"forecast days and forecast hour range are mutually exclusive", nil)
	}

	cycles := req.Cycles
	if len(cycles) == 0 {
		cycles = p.prov.Cycles()
	}

	plan := &Plan{}
	for _, date := range req.Dates {
		for _, cycle := range cycles {
			hours, err := p.resolveHours(req, cycle)
			if err != nil {
				return nil, err
			}
			if req.Clean {
				p.cleanStale(date, cycle, hours)
			}
			for _, fh := range hours {
				job, err := p.buildJob(req, date, cycle, fh)
				if err != nil {
					logger.Warnf("Skipping %s %sZ f%03d: %s", date, cycle, fh, exception.ExtractErrorMessage(err))
					plan.Skipped++
					continue
				}
				plan.Jobs = append(plan.Jobs, job)
			}
		}
	}
	return plan, nil
}

// resolveHours picks the forecast hours of one cycle from the request.
func (p *Planner) resolveHours(req Request, cycle string) ([]int, error) {
	ranges := p.table.RangesFor(cycle)

	if req.Days != nil {
		return schedule.ResolveDays(*req.Days, ranges)
	}

	start, end := 0, p.maxForecastHours
	if req.StartHour != nil {
		start = *req.StartHour
	}
	if req.EndHour != nil {
		end = *req.EndHour
	}
	return schedule.ResolveRange(start, end, ranges)
}

func (p *Planner) buildJob(req Request, date, cycle string, fh int) (DownloadJob, error) {
	url, err := p.prov.BuildURL(provider.Request{
		Date:         date,
		Cycle:        cycle,
		ForecastHour: fh,
		Variables:    req.Variables,
		Levels:       req.Levels,
		Bounds:       req.Bounds,
	})
	if err != nil {
		return DownloadJob{}, err
	}
	return DownloadJob{
		Model:        p.prov.Name(),
		Date:         date,
		Cycle:        cycle,
		ForecastHour: fh,
		URL:          url,
		DestPath:     filepath.Join(p.RawDir(date, cycle), p.prov.FileName(cycle, fh)),
	}, nil
}

// cleanStale removes leftover artifacts of a run that is about to be
// re-fetched: the raw files of the planned hours plus any processed and
// interpolated output derived from them.
func (p *Planner) cleanStale(date, cycle string, hours []int) {
	for _, fh := range hours {
		path := filepath.Join(p.RawDir(date, cycle), p.prov.FileName(cycle, fh))
		if err := os.Remove(path); err == nil {
			logger.Debugf("Removed stale raw file '%s'", path)
		} else if !os.IsNotExist(err) {
			logger.Warnf("Failed to remove stale raw file '%s': %v", path, err)
		}
	}
	for _, dir := range []string{p.ProcessedDir(date, cycle), p.InterpolatedDir(date, cycle)} {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			logger.Warnf("Failed to remove stale output directory '%s': %v", dir, err)
		} else {
			logger.Debugf("Removed stale output directory '%s'", dir)
		}
	}
}

// Describe returns a one-line summary of the plan for logging.
func (p *Plan) Describe() string {
	return fmt.Sprintf("%d download jobs planned (%d skipped)", len(p.Jobs), p.Skipped)
}
