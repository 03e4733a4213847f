package provider

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/nwpfetch/pkg/nwp/core/config"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/schedule"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
)

func gfsModelConfig() config.ModelConfig {
	return config.ModelConfig{
		Resolution:       "0p25",
		BaseURL:          "https://nomads.ncep.noaa.gov/cgi-bin/filter_gfs_0p25_1hr.pl",
		Cycles:           []string{"00", "06", "12", "18"},
		FrequencyHours:   3,
		MaxForecastHours: 240,
		Variables:        []string{"TMP", "RH", "UGRD", "VGRD", "HGT"},
		Levels:           []string{"surface", "2_m_above_ground", "10_m_above_ground"},
	}
}

func gfsSchedule() schedule.Table {
	return schedule.Table{
		"00": {{Start: 0, End: 120, Stride: 1}, {Start: 123, End: 240, Stride: 3}},
		"06": {{Start: 0, End: 120, Stride: 1}, {Start: 123, End: 240, Stride: 3}},
		"12": {{Start: 0, End: 120, Stride: 1}, {Start: 123, End: 240, Stride: 3}},
		"18": {{Start: 0, End: 120, Stride: 1}, {Start: 123, End: 240, Stride: 3}},
	}
}

func newTestProvider(t *testing.T) *GFSProvider {
	t.Helper()
	return NewGFSProvider("gfs", gfsModelConfig(), gfsSchedule())
}

func TestBuildURLAssemblesFilterQuery(t *testing.T) {
	p := newTestProvider(t)

	raw, err := p.BuildURL(Request{Date: "20260830", Cycle: "06", ForecastHour: 27})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "https://nomads.ncep.noaa.gov/cgi-bin/filter_gfs_0p25_1hr.pl?"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "gfs.t06z.pgrb2.0p25.f027", q.Get("file"))
	assert.Equal(t, "/gfs.20260830/06/atmos", q.Get("dir"))
	assert.Equal(t, "0", q.Get("leftlon"))
	assert.Equal(t, "360", q.Get("rightlon"))
	assert.Equal(t, "90", q.Get("toplat"))
	assert.Equal(t, "-90", q.Get("bottomlat"))
	for _, v := range []string{"TMP", "RH", "UGRD", "VGRD", "HGT"} {
		assert.Equal(t, "on", q.Get("var_"+v), v)
	}
	for _, lev := range []string{"surface", "2_m_above_ground", "10_m_above_ground"} {
		assert.Equal(t, "on", q.Get("lev_"+lev), lev)
	}
}

func TestBuildURLNormalizesNegativeLongitudes(t *testing.T) {
	p := newTestProvider(t)

	raw, err := p.BuildURL(Request{
		Date: "20260830", Cycle: "00", ForecastHour: 0,
		Bounds: &Bounds{LeftLon: -90, RightLon: -30, TopLat: 50, BottomLat: 10},
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "270", q.Get("leftlon"))
	assert.Equal(t, "330", q.Get("rightlon"))
	assert.Equal(t, "50", q.Get("toplat"))
	assert.Equal(t, "10", q.Get("bottomlat"))
}

func TestBuildURLOverridesVariablesAndLevels(t *testing.T) {
	p := newTestProvider(t)

	raw, err := p.BuildURL(Request{
		Date: "20260830", Cycle: "00", ForecastHour: 3,
		Variables: []string{"TMP"},
		Levels:    []string{"2_m_above_ground"},
	})
	require.NoError(t, err)

	q, err := url.ParseQuery(strings.SplitN(raw, "?", 2)[1])
	require.NoError(t, err)
	assert.Equal(t, "on", q.Get("var_TMP"))
	assert.Empty(t, q.Get("var_RH"))
	assert.Equal(t, "on", q.Get("lev_2_m_above_ground"))
	assert.Empty(t, q.Get("lev_surface"))
}

func TestValidateRejectsBadDates(t *testing.T) {
	p := newTestProvider(t)

	for _, date := range []string{"2026083", "202608300", "2026-08-30", "20261345"} {
		err := p.Validate(Request{Date: date, Cycle: "00", ForecastHour: 0})
		assert.True(t, exception.IsInvalidParameterError(err), date)
	}
}

func TestValidateRejectsUnknownCycle(t *testing.T) {
	p := newTestProvider(t)
	err := p.Validate(Request{Date: "20260830", Cycle: "03", ForecastHour: 0})
	assert.True(t, exception.IsInvalidParameterError(err))
}

func TestValidateForecastHourBoundsAndSchedule(t *testing.T) {
	p := newTestProvider(t)

	assert.NoError(t, p.Validate(Request{Date: "20260830", Cycle: "00", ForecastHour: 0}))
	assert.NoError(t, p.Validate(Request{Date: "20260830", Cycle: "00", ForecastHour: 119}))
	assert.NoError(t, p.Validate(Request{Date: "20260830", Cycle: "00", ForecastHour: 123}))
	assert.NoError(t, p.Validate(Request{Date: "20260830", Cycle: "00", ForecastHour: 240}))

	// 121 falls between the hourly and 3-hourly publication blocks.
	err := p.Validate(Request{Date: "20260830", Cycle: "00", ForecastHour: 121})
	assert.True(t, exception.IsInvalidParameterError(err))

	err = p.Validate(Request{Date: "20260830", Cycle: "00", ForecastHour: -1})
	assert.True(t, exception.IsInvalidParameterError(err))
	err = p.Validate(Request{Date: "20260830", Cycle: "00", ForecastHour: 241})
	assert.True(t, exception.IsInvalidParameterError(err))
}

func TestValidateFallsBackToFrequencyWithoutSchedule(t *testing.T) {
	p := NewGFSProvider("gfs", gfsModelConfig(), nil)

	assert.NoError(t, p.Validate(Request{Date: "20260830", Cycle: "00", ForecastHour: 6}))
	err := p.Validate(Request{Date: "20260830", Cycle: "00", ForecastHour: 7})
	assert.True(t, exception.IsInvalidParameterError(err))
}

func TestFileNamePadsForecastHour(t *testing.T) {
	p := newTestProvider(t)
	assert.Equal(t, "gfs.t00z.pgrb2.0p25.f000", p.FileName("00", 0))
	assert.Equal(t, "gfs.t12z.pgrb2.0p25.f024", p.FileName("12", 24))
	assert.Equal(t, "gfs.t18z.pgrb2.0p25.f240", p.FileName("18", 240))
}
