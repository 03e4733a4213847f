package grid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleTimeDataset(t *testing.T, valid time.Time, varName string, values []float64) *Dataset {
	t.Helper()
	ds := NewDataset()
	ds.TimeDim = "valid_time"
	ds.Times = []time.Time{valid}
	ds.Coords["latitude"] = []float64{50, 49.75}
	ds.Coords["longitude"] = []float64{10, 10.25}
	require.NoError(t, ds.SetVar(varName, &Variable{
		Dims: []string{"valid_time", "latitude", "longitude"},
		Data: values,
	}, map[string]int{"valid_time": 1, "latitude": 2, "longitude": 2}))
	return ds
}

func TestConcatTimeAndSortAscending(t *testing.T) {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	// Files supplied in reverse lead-time order must still sort to ascending time.
	f3 := singleTimeDataset(t, base.Add(3*time.Hour), "t2m", []float64{3, 3, 3, 3})
	f0 := singleTimeDataset(t, base, "t2m", []float64{0, 0, 0, 0})

	ds, err := ConcatTime([]*Dataset{f3, f0})
	require.NoError(t, err)
	require.NoError(t, ds.SortByTime())

	require.Equal(t, 2, ds.TimeSteps())
	assert.Equal(t, base, ds.Times[0])
	assert.Equal(t, base.Add(3*time.Hour), ds.Times[1])

	v0, err := ds.ValueAt("t2m", map[string]int{"valid_time": 0, "latitude": 0, "longitude": 0})
	require.NoError(t, err)
	v1, err := ds.ValueAt("t2m", map[string]int{"valid_time": 1, "latitude": 0, "longitude": 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, v0)
	assert.Equal(t, 3.0, v1)
}

func TestMergeOverrideOnCollision(t *testing.T) {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	a := singleTimeDataset(t, base, "t2m", []float64{1, 1, 1, 1})
	b := singleTimeDataset(t, base, "t2m", []float64{2, 2, 2, 2})

	require.NoError(t, a.Merge(b, true))
	v, err := a.ValueAt("t2m", map[string]int{"valid_time": 0, "latitude": 0, "longitude": 0})
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	// Without override the existing field is kept.
	c := singleTimeDataset(t, base, "t2m", []float64{9, 9, 9, 9})
	require.NoError(t, a.Merge(c, false))
	v, err = a.ValueAt("t2m", map[string]int{"valid_time": 0, "latitude": 0, "longitude": 0})
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
}

func TestMergeDimensionConflict(t *testing.T) {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	a := singleTimeDataset(t, base, "t2m", []float64{1, 1, 1, 1})

	b := NewDataset()
	b.Coords["latitude"] = []float64{50, 49.75, 49.5}
	require.NoError(t, b.SetVar("orog", &Variable{
		Dims: []string{"latitude"},
		Data: []float64{100, 200, 300},
	}, map[string]int{"latitude": 3}))

	assert.Error(t, a.Merge(b, true))
}

func TestRenameDimPropagates(t *testing.T) {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	ds := singleTimeDataset(t, base, "t2m", []float64{1, 2, 3, 4})

	require.NoError(t, ds.RenameDim("valid_time", "time"))
	assert.Equal(t, "time", ds.TimeDim)
	assert.Equal(t, []string{"time", "latitude", "longitude"}, ds.Vars["t2m"].Dims)
	assert.True(t, ds.HasDim("time"))
	assert.False(t, ds.HasDim("valid_time"))

	// Renaming a missing dimension is a no-op.
	require.NoError(t, ds.RenameDim("lats", "latitude"))

	// Renaming onto an existing dimension is an error.
	assert.Error(t, ds.RenameDim("latitude", "longitude"))
}

func TestTransposePutsTimeFirst(t *testing.T) {
	ds := NewDataset()
	ds.TimeDim = "time"
	ds.Times = []time.Time{
		time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 30, 1, 0, 0, 0, time.UTC),
	}
	ds.Coords["latitude"] = []float64{50, 49.75}
	// Stored (latitude, time): value = lat*10 + t.
	require.NoError(t, ds.SetVar("t2m", &Variable{
		Dims: []string{"latitude", "time"},
		Data: []float64{0, 1, 10, 11},
	}, map[string]int{"latitude": 2, "time": 2}))

	require.NoError(t, ds.Transpose("time", "latitude", "longitude"))

	assert.Equal(t, []string{"time", "latitude"}, ds.Vars["t2m"].Dims)
	assert.Equal(t, []float64{0, 10, 1, 11}, ds.Vars["t2m"].Data)
}

func TestSelectIndicesSubsetsCoordsAndData(t *testing.T) {
	ds := NewDataset()
	ds.TimeDim = "time"
	ds.Times = []time.Time{time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)}
	ds.Coords["latitude"] = []float64{50, 49.75, 49.5}
	ds.Coords["longitude"] = []float64{10, 10.25}
	require.NoError(t, ds.SetVar("t2m", &Variable{
		Dims: []string{"time", "latitude", "longitude"},
		Data: []float64{1, 2, 3, 4, 5, 6},
	}, map[string]int{"time": 1, "latitude": 3, "longitude": 2}))
	// A static field without a time dimension is still subset along latitude.
	require.NoError(t, ds.SetVar("orog", &Variable{
		Dims: []string{"latitude", "longitude"},
		Data: []float64{7, 8, 9, 10, 11, 12},
	}, map[string]int{"latitude": 3, "longitude": 2}))

	out, err := ds.SelectIndices("latitude", []int{1, 2})
	require.NoError(t, err)

	assert.Equal(t, []float64{49.75, 49.5}, out.Coords["latitude"])
	assert.Equal(t, 2, out.Dims["latitude"])
	assert.Equal(t, []float64{3, 4, 5, 6}, out.Vars["t2m"].Data)
	assert.Equal(t, []float64{9, 10, 11, 12}, out.Vars["orog"].Data)

	_, err = ds.SelectIndices("latitude", []int{5})
	assert.Error(t, err)
}
