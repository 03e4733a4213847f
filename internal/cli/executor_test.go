package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/nwpfetch/pkg/nwp/core/config"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/model"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/planner"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/provider"
	"github.com/tigerroll/nwpfetch/pkg/nwp/engine/convert"
)

type fakeRunner struct {
	req       planner.Request
	execution *model.JobExecution
	err       error
}

func (f *fakeRunner) Run(_ context.Context, req planner.Request) (*model.JobExecution, error) {
	f.req = req
	return f.execution, f.err
}

type fakeConverter struct {
	calls [][]string
	opts  []convert.Options
}

func (f *fakeConverter) Convert(_ context.Context, inputs []string, opts convert.Options) (*convert.Result, error) {
	f.calls = append(f.calls, inputs)
	f.opts = append(f.opts, opts)
	return &convert.Result{
		ProcessedPath: opts.ProcessedPath,
		Metadata:      convert.Metadata{InputFiles: len(inputs)},
	}, nil
}

func newTestExecutor(t *testing.T, outputDir string, runner PipelineRunner, converter *fakeConverter) (*Executor, *bytes.Buffer) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Nwpfetch.Download.OutputDir = outputDir
	mc := cfg.Nwpfetch.Models["gfs"]
	prov := provider.NewGFSProvider("gfs", mc, nil)
	plan := planner.NewPlanner(prov, nil, outputDir, "gfs.0p25", mc.MaxForecastHours)
	out := &bytes.Buffer{}
	return NewExecutor(cfg, runner, plan, converter, out), out
}

func writeRawFile(t *testing.T, outputDir, date, cycle, name string) {
	t.Helper()
	dir := filepath.Join(outputDir, "gfs.0p25", date, cycle, "raw")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
}

func TestExecuteDownloadReportsFailures(t *testing.T) {
	execution := model.NewJobExecution("nwpfetch")
	execution.AddFailure(assert.AnError)
	execution.MarkCompleted()
	runner := &fakeRunner{execution: execution}
	e, out := newTestExecutor(t, t.TempDir(), runner, &fakeConverter{})

	cmd := &Command{Action: ActionDownload, Model: "gfs", Request: planner.Request{Dates: []string{"20260830"}}}
	require.NoError(t, e.Execute(context.Background(), cmd))

	assert.Equal(t, []string{"20260830"}, runner.req.Dates)
	assert.Contains(t, out.String(), "PARTIAL")
	assert.Contains(t, out.String(), "failure:")
}

func TestExecuteProcessConvertsRawFiles(t *testing.T) {
	outputDir := t.TempDir()
	writeRawFile(t, outputDir, "20260830", "00", "gfs.t00z.pgrb2.0p25.f003")
	writeRawFile(t, outputDir, "20260830", "00", "gfs.t00z.pgrb2.0p25.f000")
	conv := &fakeConverter{}
	e, out := newTestExecutor(t, outputDir, &fakeRunner{}, conv)

	cmd := &Command{Action: ActionProcess, Model: "gfs", Dates: []string{"20260830"}, Cycles: []string{"00", "06"}}
	require.NoError(t, e.Execute(context.Background(), cmd))

	// Only the run with raw files converts; inputs come sorted.
	require.Len(t, conv.calls, 1)
	assert.Equal(t, []string{
		filepath.Join(outputDir, "gfs.0p25", "20260830", "00", "raw", "gfs.t00z.pgrb2.0p25.f000"),
		filepath.Join(outputDir, "gfs.0p25", "20260830", "00", "raw", "gfs.t00z.pgrb2.0p25.f003"),
	}, conv.calls[0])
	assert.Equal(t,
		filepath.Join(outputDir, "gfs.0p25", "20260830", "00", "processed", "gfs.20260830.00z.grid"),
		conv.opts[0].ProcessedPath)
	assert.True(t, conv.opts[0].Interpolate)
	assert.Contains(t, out.String(), "Converted 20260830 00Z")
}

func TestExecuteProcessFailsWhenNothingMatches(t *testing.T) {
	e, _ := newTestExecutor(t, t.TempDir(), &fakeRunner{}, &fakeConverter{})

	cmd := &Command{Action: ActionProcess, Model: "gfs", Dates: []string{"20260830"}, Cycles: []string{"00"}}
	assert.Error(t, e.Execute(context.Background(), cmd))
}

func TestExecuteCleanRemovesRunDirectories(t *testing.T) {
	outputDir := t.TempDir()
	writeRawFile(t, outputDir, "20260830", "00", "gfs.t00z.pgrb2.0p25.f000")
	writeRawFile(t, outputDir, "20260830", "06", "gfs.t06z.pgrb2.0p25.f000")
	e, out := newTestExecutor(t, outputDir, &fakeRunner{}, &fakeConverter{})

	cmd := &Command{Action: ActionClean, Model: "gfs", Dates: []string{"20260830"}, Cycles: []string{"00"}}
	require.NoError(t, e.Execute(context.Background(), cmd))

	_, err := os.Stat(filepath.Join(outputDir, "gfs.0p25", "20260830", "00"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(outputDir, "gfs.0p25", "20260830", "06"))
	assert.NoError(t, err)
	assert.Contains(t, out.String(), "Removed")
}

func TestExecuteStatusListsRuns(t *testing.T) {
	outputDir := t.TempDir()
	writeRawFile(t, outputDir, "20260830", "00", "gfs.t00z.pgrb2.0p25.f000")
	writeRawFile(t, outputDir, "20260830", "00", "gfs.t00z.pgrb2.0p25.f003")
	e, out := newTestExecutor(t, outputDir, &fakeRunner{}, &fakeConverter{})

	cmd := &Command{Action: ActionStatus, Model: "gfs"}
	require.NoError(t, e.Execute(context.Background(), cmd))

	assert.Contains(t, out.String(), "20260830 00Z: raw=2 processed=0 interpolated=0")
}

func TestExecuteStatusOnEmptyTree(t *testing.T) {
	e, out := newTestExecutor(t, t.TempDir(), &fakeRunner{}, &fakeConverter{})

	require.NoError(t, e.Execute(context.Background(), &Command{Action: ActionStatus, Model: "gfs"}))
	assert.Contains(t, out.String(), "No runs found")
}

func TestExecuteListModels(t *testing.T) {
	e, out := newTestExecutor(t, t.TempDir(), &fakeRunner{}, &fakeConverter{})

	require.NoError(t, e.Execute(context.Background(), &Command{Action: ActionListModels}))
	assert.Contains(t, out.String(), "gfs: resolution=0p25 cycles=00,06,12,18 max_forecast_hours=240")
}
