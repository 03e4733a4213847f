package convert

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tigerroll/nwpfetch/pkg/nwp/core/config"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/mapping"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/metrics"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/provider"
	"github.com/tigerroll/nwpfetch/pkg/nwp/engine/interpolate"
	"github.com/tigerroll/nwpfetch/pkg/nwp/grid"
	"github.com/tigerroll/nwpfetch/pkg/nwp/grid/gridfile"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/logger"
)

const moduleName = "convert"

// state is one stage of the conversion pipeline.
type state int

const (
	stateLoad state = iota
	stateValidate
	stateFilterVariables
	stateStandardizeNames
	stateSpatialSubset
	stateOptimize
	stateWriteProcessed
	stateInterpolate
	stateWriteInterpolated
)

func (s state) String() string {
	switch s {
	case stateLoad:
		return "LOAD"
	case stateValidate:
		return "VALIDATE"
	case stateFilterVariables:
		return "FILTER_VARIABLES"
	case stateStandardizeNames:
		return "STANDARDIZE_NAMES"
	case stateSpatialSubset:
		return "SPATIAL_SUBSET"
	case stateOptimize:
		return "OPTIMIZE"
	case stateWriteProcessed:
		return "WRITE_PROCESSED"
	case stateInterpolate:
		return "INTERPOLATE"
	case stateWriteInterpolated:
		return "WRITE_INTERPOLATED"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// dimension aliases normalized during STANDARDIZE_NAMES.
var (
	latAliases  = []string{"lat", "lats", "y"}
	lonAliases  = []string{"lon", "lons", "long", "x"}
	timeAliases = []string{"valid_time"}
)

// Options controls one conversion run.
type Options struct {
	// Variables are the requested GRIB codes, used to filter fallback loads.
	Variables []string
	// Bounds subsets the output spatially. Nil keeps the full grid.
	Bounds *provider.Bounds
	// ProcessedPath is the destination of the converted file.
	ProcessedPath string
	// Interpolate densifies the time axis to hourly and writes a second file.
	Interpolate bool
}

// Metadata summarizes a finished conversion.
type Metadata struct {
	InputFiles       int
	InputMB          float64
	OutputMB         float64
	CompressionRatio float64
	TimeSteps        int
	Variables        []string
	TimeRange        [2]time.Time
	// SpatialExtent is [latMin, latMax, lonMin, lonMax] in degrees.
	SpatialExtent [4]float64
}

// Result reports what a conversion produced.
type Result struct {
	ProcessedPath    string
	InterpolatedPath string
	LoaderStrategy   string
	Metadata         Metadata
}

// Engine drives GRIB input through load, validation, standardization,
// subsetting, and compressed output.
type Engine struct {
	loader   *Loader
	mapper   *mapping.VariableMapper
	cfg      config.ConvertConfig
	recorder metrics.MetricRecorder
}

// NewEngine creates a conversion engine.
func NewEngine(mapper *mapping.VariableMapper, cfg config.ConvertConfig, recorder metrics.MetricRecorder) *Engine {
	return &Engine{
		loader:   NewLoader(),
		mapper:   mapper,
		cfg:      cfg,
		recorder: recorder,
	}
}

// InterpolatedPath derives the interpolated output path from the processed
// one by swapping the exact "processed" path segment.
func InterpolatedPath(processedPath string) string {
	parts := strings.Split(processedPath, string(filepath.Separator))
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] == "processed" {
			parts[i] = "interpolated"
			break
		}
	}
	return strings.Join(parts, string(filepath.Separator))
}

// Convert runs the pipeline over the input files and writes the processed
// (and optionally interpolated) output.
func (e *Engine) Convert(ctx context.Context, inputPaths []string, opts Options) (*Result, error) {
	result, err := e.convert(ctx, inputPaths, opts)
	if err != nil {
		e.recorder.RecordConversion(ctx, "failure", len(inputPaths))
		return nil, err
	}
	e.recorder.RecordConversion(ctx, "success", len(inputPaths))
	return result, nil
}

func (e *Engine) convert(ctx context.Context, inputPaths []string, opts Options) (*Result, error) {
	if opts.ProcessedPath == "" {
		return nil, exception.NewInvalidParameterError(moduleName, "no processed output path given", nil)
	}

	e.enter(stateLoad)
	ds, strategy, err := e.loader.Load(inputPaths)
	if err != nil {
		return nil, err
	}
	logger.Infof("Loaded %d input files via '%s' strategy", len(inputPaths), strategy)

	e.enter(stateValidate)
	if err := validate(ds); err != nil {
		return nil, err
	}

	if strategy == "per-level" {
		e.enter(stateFilterVariables)
		e.filterVariables(ds, opts.Variables)
	}

	e.enter(stateStandardizeNames)
	e.standardizeNames(ds)

	e.enter(stateSpatialSubset)
	ds = e.spatialSubset(ds, opts.Bounds)

	e.enter(stateOptimize)
	writeOpts := gridfile.Options{
		CompressionLevel: e.cfg.CompressionLevel,
		TimeChunk:        e.cfg.TimeChunk,
	}

	e.enter(stateWriteProcessed)
	written, err := gridfile.WriteFile(opts.ProcessedPath, ds, writeOpts)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to write processed output", err, false, false)
	}

	result := &Result{
		ProcessedPath:  opts.ProcessedPath,
		LoaderStrategy: strategy,
		Metadata:       buildMetadata(ds, inputPaths, written),
	}
	logger.Infof("Wrote processed file '%s' (%.1f MB, ratio %.2f)",
		opts.ProcessedPath, result.Metadata.OutputMB, result.Metadata.CompressionRatio)

	if opts.Interpolate {
		e.enter(stateInterpolate)
		interpolated, err := interpolate.Hourly(ds)
		if err != nil {
			return nil, err
		}

		e.enter(stateWriteInterpolated)
		interpPath := InterpolatedPath(opts.ProcessedPath)
		if _, err := gridfile.WriteFile(interpPath, interpolated, writeOpts); err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to write interpolated output", err, false, false)
		}
		result.InterpolatedPath = interpPath
		logger.Infof("Wrote interpolated file '%s' (%d time steps)", interpPath, interpolated.TimeSteps())
	}

	return result, nil
}

func (e *Engine) enter(s state) {
	logger.Debugf("Conversion state: %s", s)
}

// validate checks that the loaded dataset has the axes the rest of the
// pipeline relies on. NaN values are reported but not fatal.
func validate(ds *grid.Dataset) error {
	var missing []string
	if ds.TimeDim == "" || ds.TimeSteps() < 1 {
		missing = append(missing, "time")
	}
	if !hasAnyDim(ds, "latitude", latAliases) {
		missing = append(missing, "latitude")
	}
	if !hasAnyDim(ds, "longitude", lonAliases) {
		missing = append(missing, "longitude")
	}
	if len(missing) > 0 {
		return exception.NewDataShapeError(moduleName,
			fmt.Sprintf("loaded data is missing required dimensions: %s", strings.Join(missing, ", ")), nil)
	}
	if ds.HasNaN() {
		logger.Warnf("Loaded data contains NaN values (bitmap-masked grid points)")
	}
	return nil
}

func hasAnyDim(ds *grid.Dataset, canonical string, aliases []string) bool {
	if ds.HasDim(canonical) {
		return true
	}
	for _, alias := range aliases {
		if ds.HasDim(alias) {
			return true
		}
	}
	return false
}

// filterVariables keeps only the best candidate per requested GRIB code.
// Candidate lists run from generic to specific, so the last present
// candidate wins (t2m beats t). When nothing matches, everything is kept.
func (e *Engine) filterVariables(ds *grid.Dataset, codes []string) {
	if len(codes) == 0 {
		codes = e.mapper.GRIBCodes()
	}

	keep := make(map[string]bool)
	for _, code := range codes {
		var best string
		for _, candidate := range e.mapper.CandidatesFor(code) {
			if _, ok := ds.Vars[candidate]; ok {
				best = candidate
			}
		}
		if best != "" {
			keep[best] = true
		}
	}

	if len(keep) == 0 {
		logger.Warnf("No loaded variable matched the requested codes %v, keeping all %d variables", codes, len(ds.Vars))
		return
	}

	for name := range ds.Vars {
		if !keep[name] {
			logger.Debugf("Dropping unrequested variable '%s'", name)
			delete(ds.Vars, name)
		}
	}
}

// standardizeNames renames dimensions and variables onto the output
// conventions, drops the model initialization time, and moves the time axis
// to the front. Standardization is a degradable step: a rename or reorder
// that fails is logged and that part of the grid stays as loaded.
func (e *Engine) standardizeNames(ds *grid.Dataset) {
	for _, alias := range latAliases {
		if err := ds.RenameDim(alias, "latitude"); err != nil {
			logger.Warnf("Keeping dimension '%s' as loaded: %s", alias, exception.ExtractErrorMessage(err))
		}
	}
	for _, alias := range lonAliases {
		if err := ds.RenameDim(alias, "longitude"); err != nil {
			logger.Warnf("Keeping dimension '%s' as loaded: %s", alias, exception.ExtractErrorMessage(err))
		}
	}
	for _, alias := range timeAliases {
		if err := ds.RenameDim(alias, "time"); err != nil {
			logger.Warnf("Keeping dimension '%s' as loaded: %s", alias, exception.ExtractErrorMessage(err))
		}
	}
	ds.DropRefTime()

	for _, name := range ds.VarNames() {
		if std := e.mapper.StandardName(name); std != name {
			ds.RenameVar(name, std)
		}
	}

	if err := ds.Transpose("time", "latitude", "longitude"); err != nil {
		logger.Warnf("Keeping dimension order as loaded: %s", exception.ExtractErrorMessage(err))
	}
}

// spatialSubset cuts the dataset down to the requested bounds. Subsetting is
// a degradable step: on any failure the full grid is written instead.
func (e *Engine) spatialSubset(ds *grid.Dataset, bounds *provider.Bounds) *grid.Dataset {
	if bounds == nil {
		return ds
	}

	subset, err := applyBounds(ds, *bounds)
	if err != nil {
		logger.Warnf("Spatial subset failed, writing full grid: %s", exception.ExtractErrorMessage(err))
		return ds
	}
	return subset
}

func applyBounds(ds *grid.Dataset, b provider.Bounds) (*grid.Dataset, error) {
	lats := ds.Coords["latitude"]
	lons := ds.Coords["longitude"]
	if len(lats) == 0 || len(lons) == 0 {
		return nil, exception.NewDataShapeError(moduleName, "dataset has no spatial coordinates", nil)
	}

	// Match the request convention to the grid: 0-360 grids need negative
	// request longitudes shifted.
	left, right := b.LeftLon, b.RightLon
	if maxFloat(lons) > 180 {
		if left < 0 {
			left += 360
		}
		if right < 0 {
			right += 360
		}
	}

	var latIdx []int
	for i, lat := range lats {
		if lat >= b.BottomLat && lat <= b.TopLat {
			latIdx = append(latIdx, i)
		}
	}
	var lonIdx []int
	for i, lon := range lons {
		if lon >= left && lon <= right {
			lonIdx = append(lonIdx, i)
		}
	}
	if len(latIdx) == 0 || len(lonIdx) == 0 {
		return nil, exception.NewDataShapeError(moduleName,
			fmt.Sprintf("bounds [%g, %g] x [%g, %g] select no grid points", b.BottomLat, b.TopLat, left, right), nil)
	}

	subset, err := ds.SelectIndices("latitude", latIdx)
	if err != nil {
		return nil, err
	}
	return subset.SelectIndices("longitude", lonIdx)
}

// buildMetadata computes the conversion summary.
func buildMetadata(ds *grid.Dataset, inputPaths []string, outputBytes int64) Metadata {
	var inputBytes int64
	for _, path := range inputPaths {
		if info, err := os.Stat(path); err == nil {
			inputBytes += info.Size()
		}
	}

	md := Metadata{
		InputFiles: len(inputPaths),
		InputMB:    round1(float64(inputBytes) / (1024 * 1024)),
		OutputMB:   round1(float64(outputBytes) / (1024 * 1024)),
		TimeSteps:  ds.TimeSteps(),
	}
	// The ratio comes from the raw byte sizes; dividing the rounded MB
	// figures would distort it for small files.
	if outputBytes > 0 {
		md.CompressionRatio = round2(float64(inputBytes) / float64(outputBytes))
	}

	md.Variables = ds.VarNames()
	sort.Strings(md.Variables)

	if len(ds.Times) > 0 {
		md.TimeRange = [2]time.Time{ds.Times[0], ds.Times[len(ds.Times)-1]}
	}
	if lats := ds.Coords["latitude"]; len(lats) > 0 {
		md.SpatialExtent[0] = minFloat(lats)
		md.SpatialExtent[1] = maxFloat(lats)
	}
	if lons := ds.Coords["longitude"]; len(lons) > 0 {
		md.SpatialExtent[2] = minFloat(lons)
		md.SpatialExtent[3] = maxFloat(lons)
	}
	return md
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

func minFloat(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxFloat(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
