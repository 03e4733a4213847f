package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/nwpfetch/pkg/nwp/core/config"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestParseDownloadExpandsDateRange(t *testing.T) {
	cfg := config.NewConfig()
	cmd, err := Parse([]string{"download", "-date", "20260829-20260831", "-cycle", "00,12"}, cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, ActionDownload, cmd.Action)
	assert.Equal(t, "gfs", cmd.Model)
	assert.Equal(t, []string{"20260829", "20260830", "20260831"}, cmd.Request.Dates)
	assert.Equal(t, []string{"00", "12"}, cmd.Request.Cycles)
}

func TestParseDownloadFlags(t *testing.T) {
	cfg := config.NewConfig()
	cmd, err := Parse([]string{
		"download",
		"-date", "20260830",
		"-start-hour", "0",
		"-end-hour", "48",
		"-vars", "TMP,RH",
		"-bounds", "-90,-30,60,0",
		"-clean",
	}, cfg, nil)
	require.NoError(t, err)

	require.NotNil(t, cmd.Request.StartHour)
	require.NotNil(t, cmd.Request.EndHour)
	assert.Equal(t, 0, *cmd.Request.StartHour)
	assert.Equal(t, 48, *cmd.Request.EndHour)
	assert.Nil(t, cmd.Request.Days)
	assert.Equal(t, []string{"TMP", "RH"}, cmd.Request.Variables)
	require.NotNil(t, cmd.Request.Bounds)
	assert.Equal(t, -90.0, cmd.Request.Bounds.LeftLon)
	assert.Equal(t, -30.0, cmd.Request.Bounds.RightLon)
	assert.Equal(t, 60.0, cmd.Request.Bounds.TopLat)
	assert.Equal(t, 0.0, cmd.Request.Bounds.BottomLat)
	assert.True(t, cmd.Request.Clean)
}

func TestParseDownloadSkipAndOutputDirFlags(t *testing.T) {
	cfg := config.NewConfig()
	cmd, err := Parse([]string{
		"download",
		"-date", "20260830",
		"-output-dir", "/tmp/nwp",
		"-skip-convert",
		"-skip-interpolate",
	}, cfg, nil)
	require.NoError(t, err)

	assert.True(t, cmd.Request.SkipConvert)
	assert.True(t, cmd.Request.SkipInterpolate)
	assert.Equal(t, "/tmp/nwp", cfg.Nwpfetch.Download.OutputDir)
}

func TestParseDownloadLatestResolvesRun(t *testing.T) {
	cfg := config.NewConfig()
	now := time.Date(2026, 8, 30, 17, 0, 0, 0, time.UTC)
	cmd, err := Parse([]string{"download", "-latest"}, cfg, fixedNow(now))
	require.NoError(t, err)

	assert.Equal(t, []string{"20260830"}, cmd.Request.Dates)
	assert.Equal(t, []string{"12"}, cmd.Request.Cycles)
}

func TestParseDownloadLatestRejectsExplicitDate(t *testing.T) {
	cfg := config.NewConfig()
	_, err := Parse([]string{"download", "-latest", "-date", "20260830"}, cfg, nil)
	require.Error(t, err)
	assert.True(t, exception.IsInvalidParameterError(err))
}

func TestParseRejectsBadDates(t *testing.T) {
	cfg := config.NewConfig()
	for _, value := range []string{"2026-8-30", "20261345", "20260831-20260829"} {
		_, err := Parse([]string{"download", "-date", value}, cfg, nil)
		assert.Error(t, err, value)
	}
}

func TestParseRejectsUnknownCommandAndModel(t *testing.T) {
	cfg := config.NewConfig()

	_, err := Parse([]string{"frobnicate"}, cfg, nil)
	assert.Error(t, err)

	_, err = Parse([]string{"download", "-model", "ecmwf", "-date", "20260830"}, cfg, nil)
	assert.Error(t, err)
}

func TestParseProcessDefaultsCycles(t *testing.T) {
	cfg := config.NewConfig()
	cmd, err := Parse([]string{"process", "-date", "20260830"}, cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, ActionProcess, cmd.Action)
	assert.Equal(t, []string{"20260830"}, cmd.Dates)
	assert.Equal(t, []string{"00", "06", "12", "18"}, cmd.Cycles)
}

func TestParseCleanRequiresDate(t *testing.T) {
	cfg := config.NewConfig()
	_, err := Parse([]string{"clean"}, cfg, nil)
	require.Error(t, err)
	assert.True(t, exception.IsInvalidParameterError(err))
}

func TestLatestAvailableRun(t *testing.T) {
	cycles := []string{"00", "06", "12", "18"}
	tests := []struct {
		hour      int
		wantDate  string
		wantCycle string
	}{
		// A cycle is published four hours after its nominal time.
		{hour: 3, wantDate: "20260829", wantCycle: "18"},
		{hour: 4, wantDate: "20260830", wantCycle: "00"},
		{hour: 9, wantDate: "20260830", wantCycle: "00"},
		{hour: 10, wantDate: "20260830", wantCycle: "06"},
		{hour: 16, wantDate: "20260830", wantCycle: "12"},
		{hour: 22, wantDate: "20260830", wantCycle: "18"},
		{hour: 23, wantDate: "20260830", wantCycle: "18"},
	}
	for _, tt := range tests {
		now := time.Date(2026, 8, 30, tt.hour, 30, 0, 0, time.UTC)
		date, cycle := LatestAvailableRun(now, cycles)
		assert.Equal(t, tt.wantDate, date, "hour %d", tt.hour)
		assert.Equal(t, tt.wantCycle, cycle, "hour %d", tt.hour)
	}
}
