// Package convert turns downloaded GRIB files into a single standardized,
// compressed dataset.
package convert

import (
	"fmt"
	"time"

	"github.com/tigerroll/nwpfetch/pkg/nwp/grid"
	"github.com/tigerroll/nwpfetch/pkg/nwp/grid/grib2"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/logger"
)

// loadTimeDim is the dimension name of the time axis as loaded from GRIB;
// standardization later renames it to "time".
const loadTimeDim = "valid_time"

// fallbackLevelFilters are the level slices loaded one at a time when the
// bulk load fails. Loading per level sidesteps name collisions between
// parameters that appear on several levels in one file.
var fallbackLevelFilters = []grib2.LevelFilter{
	grib2.SurfaceFilter(),
	grib2.HeightAboveGroundFilter(2),
	grib2.HeightAboveGroundFilter(10),
}

// loaderStrategy is one way of assembling raw files into a dataset. The
// loader tries strategies in their listed order.
type loaderStrategy struct {
	name string
	load func(paths []string) (*grid.Dataset, error)
}

// Loader reads GRIB files into a merged dataset with an ascending time axis.
type Loader struct {
	strategies []loaderStrategy
}

// NewLoader creates a loader with the bulk strategy first and the per-level
// fallback second.
func NewLoader() *Loader {
	l := &Loader{}
	l.strategies = []loaderStrategy{
		{name: "bulk", load: l.loadBulk},
		{name: "per-level", load: l.loadPerLevel},
	}
	return l
}

// Load assembles the files into one dataset. Each strategy is tried in
// order; a strategy failure is logged and the next one runs. The returned
// strategy name tells the caller whether the fallback path was used.
func (l *Loader) Load(paths []string) (*grid.Dataset, string, error) {
	if len(paths) == 0 {
		return nil, "", exception.NewInvalidParameterError(moduleName, "no input files to load", nil)
	}

	var lastErr error
	for _, strategy := range l.strategies {
		ds, err := strategy.load(paths)
		if err == nil {
			return ds, strategy.name, nil
		}
		logger.Warnf("Loader strategy '%s' failed: %s", strategy.name, exception.ExtractErrorMessage(err))
		lastErr = err
	}
	return nil, "", exception.NewBatchErrorf(moduleName,
		"all loader strategies failed for %d input files", len(paths), lastErr)
}

// loadBulk decodes every message of every file and concatenates along time.
func (l *Loader) loadBulk(paths []string) (*grid.Dataset, error) {
	parts := make([]*grid.Dataset, 0, len(paths))
	for _, path := range paths {
		msgs, err := grib2.DecodeFile(path)
		if err != nil {
			return nil, exception.NewBatchErrorf(moduleName, "failed to decode '%s'", path, err)
		}
		ds, err := datasetFromMessages(msgs)
		if err != nil {
			return nil, err
		}
		parts = append(parts, ds)
	}
	return concatSorted(parts)
}

// loadPerLevel decodes each file once, assembles one dataset per level
// filter, and merges them with override-on-collision before concatenating
// along time.
func (l *Loader) loadPerLevel(paths []string) (*grid.Dataset, error) {
	parts := make([]*grid.Dataset, 0, len(paths))
	for _, path := range paths {
		msgs, err := grib2.DecodeFile(path)
		if err != nil {
			return nil, exception.NewBatchErrorf(moduleName, "failed to decode '%s'", path, err)
		}

		var merged *grid.Dataset
		for _, filter := range fallbackLevelFilters {
			var selected []*grib2.Message
			for _, m := range msgs {
				if m.MatchesLevel(filter) {
					selected = append(selected, m)
				}
			}
			if len(selected) == 0 {
				continue
			}
			ds, err := datasetFromMessages(selected)
			if err != nil {
				return nil, err
			}
			if merged == nil {
				merged = ds
				continue
			}
			if err := merged.Merge(ds, true); err != nil {
				return nil, exception.NewBatchErrorf(moduleName, "failed to merge level slice of '%s'", path, err)
			}
		}
		if merged == nil {
			return nil, exception.NewBatchErrorf(moduleName, "no messages matched any level filter in '%s'", path)
		}
		parts = append(parts, merged)
	}
	return concatSorted(parts)
}

func concatSorted(parts []*grid.Dataset) (*grid.Dataset, error) {
	ds, err := grid.ConcatTime(parts)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to concatenate input files along time", err, false, false)
	}
	if err := ds.SortByTime(); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to sort time axis", err, false, false)
	}
	return ds, nil
}

// datasetFromMessages builds a single-run dataset from the messages of one
// file. All messages must share one grid and one valid time. Terrain height
// is stored without a time dimension.
func datasetFromMessages(msgs []*grib2.Message) (*grid.Dataset, error) {
	if len(msgs) == 0 {
		return nil, exception.NewBatchError(moduleName, "no messages to assemble", nil, false, false)
	}

	first := msgs[0]
	ds := grid.NewDataset()
	ds.TimeDim = loadTimeDim
	ds.Times = []time.Time{first.ValidTime}
	ref := first.RefTime
	ds.RefTime = &ref
	ds.Coords["latitude"] = first.Lats
	ds.Coords["longitude"] = first.Lons

	for _, m := range msgs {
		if m.Ni != first.Ni || m.Nj != first.Nj {
			return nil, exception.NewDataShapeError(moduleName,
				fmt.Sprintf("message '%s' has grid %dx%d, expected %dx%d", m.ShortName, m.Ni, m.Nj, first.Ni, first.Nj), nil)
		}
		if !m.ValidTime.Equal(first.ValidTime) {
			return nil, exception.NewDataShapeError(moduleName,
				fmt.Sprintf("message '%s' valid at %s, expected %s", m.ShortName, m.ValidTime, first.ValidTime), nil)
		}
		if _, exists := ds.Vars[m.ShortName]; exists {
			return nil, exception.NewDataShapeError(moduleName,
				fmt.Sprintf("duplicate variable '%s' in one file", m.ShortName), nil)
		}

		attrs := grid.Attrs{
			Units:      m.Units,
			GRIBName:   m.ShortName,
			Level:      m.LevelName(),
			LevelValue: m.LevelValue,
		}
		values := append([]float64(nil), m.Values...)

		if m.ShortName == "orog" {
			err := ds.SetVar(m.ShortName, &grid.Variable{
				Dims:  []string{"latitude", "longitude"},
				Data:  values,
				Attrs: attrs,
			}, map[string]int{"latitude": m.Nj, "longitude": m.Ni})
			if err != nil {
				return nil, exception.NewBatchErrorf(moduleName, "failed to add static variable '%s'", m.ShortName, err)
			}
			continue
		}

		err := ds.SetVar(m.ShortName, &grid.Variable{
			Dims:  []string{loadTimeDim, "latitude", "longitude"},
			Data:  values,
			Attrs: attrs,
		}, map[string]int{loadTimeDim: 1, "latitude": m.Nj, "longitude": m.Ni})
		if err != nil {
			return nil, exception.NewBatchErrorf(moduleName, "failed to add variable '%s'", m.ShortName, err)
		}
	}
	return ds, nil
}
