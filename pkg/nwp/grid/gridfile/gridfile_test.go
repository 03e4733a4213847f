package gridfile

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/nwpfetch/pkg/nwp/grid"
)

func sampleDataset(t *testing.T, steps int) *grid.Dataset {
	t.Helper()
	ds := grid.NewDataset()
	ds.TimeDim = "time"
	ref := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	ds.RefTime = &ref
	for i := 0; i < steps; i++ {
		ds.Times = append(ds.Times, ref.Add(time.Duration(i)*time.Hour))
	}
	ds.Coords["latitude"] = []float64{50, 49.75}
	ds.Coords["longitude"] = []float64{10, 10.25, 10.5}

	data := make([]float64, steps*2*3)
	for i := range data {
		data[i] = 273.15 + 0.01*float64(i)
	}
	require.NoError(t, ds.SetVar("t2m", &grid.Variable{
		Dims:  []string{"time", "latitude", "longitude"},
		Data:  data,
		Attrs: grid.Attrs{Units: "K", LongName: "2 metre temperature"},
	}, map[string]int{"time": steps, "latitude": 2, "longitude": 3}))
	require.NoError(t, ds.SetVar("hgt", &grid.Variable{
		Dims:  []string{"latitude", "longitude"},
		Data:  []float64{12, 15, 20, 31, 44, 58},
		Attrs: grid.Attrs{Units: "gpm"},
	}, map[string]int{"latitude": 2, "longitude": 3}))
	return ds
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ds := sampleDataset(t, 4)

	data, err := Encode(ds, Options{})
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, ds.Dims, out.Dims)
	assert.Equal(t, ds.Coords, out.Coords)
	assert.Equal(t, ds.Times, out.Times)
	assert.Equal(t, "time", out.TimeDim)
	require.NotNil(t, out.RefTime)
	assert.True(t, ds.RefTime.Equal(*out.RefTime))
	assert.Equal(t, ds.Vars["t2m"].Data, out.Vars["t2m"].Data)
	assert.Equal(t, ds.Vars["t2m"].Attrs, out.Vars["t2m"].Attrs)
	assert.Equal(t, ds.Vars["hgt"].Data, out.Vars["hgt"].Data)
}

func TestEncodeSplitsLongTimeAxisIntoChunks(t *testing.T) {
	ds := sampleDataset(t, 60)

	data, err := Encode(ds, Options{TimeChunk: 24})
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, ds.Vars["t2m"].Data, out.Vars["t2m"].Data)
	assert.Len(t, out.Times, 60)
}

func TestEncodePreservesNaN(t *testing.T) {
	ds := sampleDataset(t, 1)
	ds.Vars["t2m"].Data[2] = math.NaN()

	data, err := Encode(ds, Options{})
	require.NoError(t, err)
	out, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(out.Vars["t2m"].Data[2]))
	assert.Equal(t, ds.Vars["t2m"].Data[3], out.Vars["t2m"].Data[3])
}

func TestDecodeRejectsCorruptedChunk(t *testing.T) {
	ds := sampleDataset(t, 2)
	data, err := Encode(ds, Options{})
	require.NoError(t, err)

	// Flip a bit in the last chunk byte.
	data[len(data)-1] ^= 0xff
	_, err = Decode(data)
	assert.Error(t, err)
}

func TestDecodeRejectsForeignData(t *testing.T) {
	_, err := Decode([]byte("definitely not a grid file"))
	assert.Error(t, err)
}

func TestWriteAndReadFile(t *testing.T) {
	ds := sampleDataset(t, 3)
	path := filepath.Join(t.TempDir(), "processed", "gfs.20260830.00z.grid")

	n, err := WriteFile(path, ds, Options{CompressionLevel: 6})
	require.NoError(t, err)
	assert.Greater(t, n, int64(0))

	out, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ds.Vars["t2m"].Data, out.Vars["t2m"].Data)
}

func TestCompressionShrinksSmoothFields(t *testing.T) {
	ds := grid.NewDataset()
	ds.Coords["latitude"] = make([]float64, 100)
	ds.Coords["longitude"] = make([]float64, 100)
	field := make([]float64, 100*100)
	for i := range field {
		field[i] = 101325 // constant pressure field
	}
	require.NoError(t, ds.SetVar("sp", &grid.Variable{
		Dims: []string{"latitude", "longitude"},
		Data: field,
	}, map[string]int{"latitude": 100, "longitude": 100}))

	data, err := Encode(ds, Options{})
	require.NoError(t, err)
	assert.Less(t, len(data), len(field)*8/10)
}
