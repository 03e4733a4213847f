// Package interpolate densifies a dataset's time axis to hourly resolution.
//
// Forecast output beyond the hourly publication window arrives in 3-hour
// steps; downstream consumers want one field per hour. Values are linearly
// interpolated between the surrounding forecast steps.
package interpolate

import (
	"fmt"
	"sort"
	"time"

	"github.com/tigerroll/nwpfetch/pkg/nwp/grid"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/logger"
)

const moduleName = "interpolate"

// Hourly resamples the dataset onto a uniform hourly time axis spanning
// [min, max] of the existing axis. When the axis is already hourly or denser
// the input dataset is returned unchanged. Variables without a time
// dimension are carried over as-is.
func Hourly(ds *grid.Dataset) (*grid.Dataset, error) {
	if ds.TimeDim == "" || len(ds.Times) < 2 {
		return ds, nil
	}
	if !sort.SliceIsSorted(ds.Times, func(i, j int) bool { return ds.Times[i].Before(ds.Times[j]) }) {
		return nil, exception.NewDataShapeError(moduleName, "time axis is not sorted ascending", nil)
	}

	maxGap := time.Duration(0)
	for i := 1; i < len(ds.Times); i++ {
		if gap := ds.Times[i].Sub(ds.Times[i-1]); gap > maxGap {
			maxGap = gap
		}
	}
	if maxGap <= time.Hour {
		logger.Debugf("Time axis already hourly (max gap %s), skipping interpolation", maxGap)
		return ds, nil
	}

	first, last := ds.Times[0], ds.Times[len(ds.Times)-1]
	steps := int(last.Sub(first)/time.Hour) + 1
	newTimes := make([]time.Time, steps)
	for i := range newTimes {
		newTimes[i] = first.Add(time.Duration(i) * time.Hour)
	}

	out := grid.NewDataset()
	out.TimeDim = ds.TimeDim
	out.Times = newTimes
	out.RefTime = ds.RefTime
	for dim, size := range ds.Dims {
		if dim == ds.TimeDim {
			out.Dims[dim] = steps
		} else {
			out.Dims[dim] = size
		}
	}
	for name, vals := range ds.Coords {
		out.Coords[name] = vals
	}

	for name, v := range ds.Vars {
		if !v.HasDim(ds.TimeDim) {
			out.Vars[name] = v
			continue
		}
		if v.Dims[0] != ds.TimeDim {
			return nil, exception.NewDataShapeError(moduleName,
				fmt.Sprintf("variable '%s' must have '%s' as its leading dimension", name, ds.TimeDim), nil)
		}
		iv, err := interpolateVar(v, ds.Times, newTimes)
		if err != nil {
			return nil, err
		}
		out.Vars[name] = iv
	}

	logger.Infof("Interpolated %d time steps to %d hourly steps", len(ds.Times), steps)
	return out, nil
}

// interpolateVar resamples one variable along its leading time dimension.
// Points outside the source range extrapolate from the nearest segment.
func interpolateVar(v *grid.Variable, srcTimes, dstTimes []time.Time) (*grid.Variable, error) {
	srcSteps := len(srcTimes)
	if len(v.Data)%srcSteps != 0 {
		return nil, exception.NewDataShapeError(moduleName,
			fmt.Sprintf("variable data length %d is not divisible by %d time steps", len(v.Data), srcSteps), nil)
	}
	stride := len(v.Data) / srcSteps

	out := &grid.Variable{
		Dims:  append([]string(nil), v.Dims...),
		Data:  make([]float64, len(dstTimes)*stride),
		Attrs: v.Attrs,
	}

	for k, t := range dstTimes {
		i0, i1 := bracket(srcTimes, t)
		span := srcTimes[i1].Sub(srcTimes[i0]).Seconds()
		var w float64
		if span > 0 {
			w = t.Sub(srcTimes[i0]).Seconds() / span
		}
		dst := out.Data[k*stride : (k+1)*stride]
		a := v.Data[i0*stride : (i0+1)*stride]
		b := v.Data[i1*stride : (i1+1)*stride]
		for j := range dst {
			dst[j] = a[j] + w*(b[j]-a[j])
		}
	}
	return out, nil
}

// bracket returns the indices of the segment surrounding t. Times before the
// first or after the last point map onto the first or last segment.
func bracket(times []time.Time, t time.Time) (int, int) {
	n := len(times)
	idx := sort.Search(n, func(i int) bool { return !times[i].Before(t) })
	switch {
	case idx == 0:
		return 0, 1
	case idx == n:
		return n - 2, n - 1
	default:
		return idx - 1, idx
	}
}
