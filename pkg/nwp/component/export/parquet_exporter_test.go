package export

import (
	"bytes"
	"context"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/nwpfetch/pkg/nwp/adapter/storage"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/config"
	"github.com/tigerroll/nwpfetch/pkg/nwp/grid"
)

// fakeConnection captures uploads in memory.
type fakeConnection struct {
	objects map[string][]byte
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{objects: make(map[string][]byte)}
}

func (c *fakeConnection) Upload(_ context.Context, _ string, objectName string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	c.objects[objectName] = b
	return nil
}

func (c *fakeConnection) Download(_ context.Context, _ string, objectName string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(c.objects[objectName])), nil
}

func (c *fakeConnection) ListObjects(_ context.Context, _ string, prefix string, fn func(string) error) error {
	for name := range c.objects {
		if strings.HasPrefix(name, prefix) {
			if err := fn(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *fakeConnection) DeleteObject(_ context.Context, _ string, objectName string) error {
	delete(c.objects, objectName)
	return nil
}

func (c *fakeConnection) Close() error { return nil }
func (c *fakeConnection) Type() string { return "fake" }
func (c *fakeConnection) Name() string { return "fake" }

type fakeResolver struct {
	conn storage.StorageConnection
}

func (r *fakeResolver) ResolveStorageConnection(_ context.Context, _ string) (storage.StorageConnection, error) {
	return r.conn, nil
}

func exportDataset(t *testing.T) *grid.Dataset {
	t.Helper()
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	ds := &grid.Dataset{
		Dims:    map[string]int{"time": 2, "latitude": 2, "longitude": 2},
		Coords:  map[string][]float64{"latitude": {50, 49.75}, "longitude": {10, 10.25}},
		Times:   []time.Time{base, base.Add(time.Hour)},
		TimeDim: "time",
		Vars: map[string]*grid.Variable{
			"t2m": {
				Dims: []string{"time", "latitude", "longitude"},
				Data: []float64{280, 281, 282, 283, 284, 285, 286, 287},
			},
			"hgt": {
				Dims: []string{"latitude", "longitude"},
				Data: []float64{40, 41, 42, 43},
			},
		},
	}
	return ds
}

func newTestExporter(t *testing.T, conn storage.StorageConnection) *ParquetExporter {
	t.Helper()
	e, err := NewParquetExporter(config.ExportConfig{
		StorageRef:    "exports",
		OutputBaseDir: "nwp/long",
	}, &fakeResolver{conn: conn})
	require.NoError(t, err)
	return e
}

func TestBufferFlattensDatasetIntoPartition(t *testing.T) {
	e := newTestExporter(t, newFakeConnection())

	require.NoError(t, e.Buffer(exportDataset(t), "gfs", "20260830", "00"))

	records := e.bufferedItems["date=20260830/cycle=00"]
	// 2 steps x 4 points for t2m, plus 4 static hgt points.
	require.Len(t, records, 12)
	assert.EqualValues(t, 12, e.totalRecordsBuffered)

	byVar := map[string]int{}
	for _, r := range records {
		byVar[r.Variable]++
		assert.Equal(t, "gfs", r.Model)
		assert.Equal(t, "20260830", r.Date)
		assert.Equal(t, "00", r.Cycle)
	}
	assert.Equal(t, map[string]int{"t2m": 8, "hgt": 4}, byVar)
}

func TestBufferSkipsNaNPoints(t *testing.T) {
	e := newTestExporter(t, newFakeConnection())

	ds := exportDataset(t)
	ds.Vars["t2m"].Data[0] = math.NaN()
	require.NoError(t, e.Buffer(ds, "gfs", "20260830", "00"))

	assert.EqualValues(t, 11, e.totalRecordsBuffered)
}

func TestFlushUploadsOneFilePerPartition(t *testing.T) {
	conn := newFakeConnection()
	e := newTestExporter(t, conn)

	require.NoError(t, e.Buffer(exportDataset(t), "gfs", "20260830", "00"))
	require.NoError(t, e.Buffer(exportDataset(t), "gfs", "20260830", "06"))
	require.NoError(t, e.Flush(context.Background()))

	require.Len(t, conn.objects, 2)
	seen := map[string]bool{}
	for name, data := range conn.objects {
		require.True(t, strings.HasPrefix(name, "nwp/long/date=20260830/cycle="), name)
		assert.True(t, strings.HasSuffix(name, ".parquet"), name)
		if strings.Contains(name, "cycle=00/") {
			seen["00"] = true
		}
		if strings.Contains(name, "cycle=06/") {
			seen["06"] = true
		}
		// Parquet files start and end with the PAR1 magic.
		require.Greater(t, len(data), 8)
		assert.Equal(t, []byte("PAR1"), data[:4])
		assert.Equal(t, []byte("PAR1"), data[len(data)-4:])
	}
	assert.Equal(t, map[string]bool{"00": true, "06": true}, seen)

	// Buffers are cleared after a flush.
	assert.EqualValues(t, 0, e.totalRecordsBuffered)
	assert.Empty(t, e.bufferedItems)
}

func TestFlushWithoutRecordsIsNoOp(t *testing.T) {
	conn := newFakeConnection()
	e := newTestExporter(t, conn)

	require.NoError(t, e.Flush(context.Background()))
	assert.Empty(t, conn.objects)
}

func TestBufferRejectsDatasetWithoutTimeAxis(t *testing.T) {
	e := newTestExporter(t, newFakeConnection())

	err := e.Buffer(&grid.Dataset{}, "gfs", "20260830", "00")
	assert.Error(t, err)
}

func TestNewParquetExporterValidatesConfig(t *testing.T) {
	_, err := NewParquetExporter(config.ExportConfig{OutputBaseDir: "x"}, &fakeResolver{})
	assert.Error(t, err)

	_, err = NewParquetExporter(config.ExportConfig{StorageRef: "exports"}, &fakeResolver{})
	assert.Error(t, err)

	_, err = NewParquetExporter(config.ExportConfig{
		StorageRef:      "exports",
		OutputBaseDir:   "x",
		CompressionType: "LZO",
	}, &fakeResolver{})
	assert.Error(t, err)
}
