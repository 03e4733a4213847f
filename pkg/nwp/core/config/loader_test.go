package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
nwpfetch:
  system:
    logging:
      level: DEBUG
  download:
    output_dir: /var/lib/nwpfetch
    concurrency: 8
  models:
    gfs:
      resolution: 0p25
      base_url: https://nomads.ncep.noaa.gov/cgi-bin/filter_gfs_0p25_1hr.pl
      cycles: ["00", "12"]
      frequency_hours: 3
      max_forecast_hours: 384
      variables: [TMP]
      levels: [surface]
      bounds:
        leftlon: 0
        rightlon: 360
        toplat: 90
        bottomlat: -90
  adapter:
    storage:
      local:
        type: local
        base_dir: /var/lib/nwpfetch
`

func TestLoadConfigMergesYAMLOverDefaults(t *testing.T) {
	cfg, err := LoadConfig("", EmbeddedConfig(testYAML))
	require.NoError(t, err)

	// YAML values win over defaults.
	assert.Equal(t, "DEBUG", cfg.Nwpfetch.System.Logging.Level)
	assert.Equal(t, "/var/lib/nwpfetch", cfg.Nwpfetch.Download.OutputDir)
	assert.Equal(t, 8, cfg.Nwpfetch.Download.Concurrency)

	// Defaults survive where YAML is silent.
	assert.Equal(t, 8192, cfg.Nwpfetch.Download.ChunkSizeBytes)
	assert.Equal(t, 3, cfg.Nwpfetch.Download.Retry.MaxAttempts)
	assert.Equal(t, 6, cfg.Nwpfetch.Convert.CompressionLevel)
	assert.Equal(t, 24, cfg.Nwpfetch.Convert.TimeChunk)

	// Model entries from YAML replace the default wholesale.
	gfs := cfg.Nwpfetch.Models["gfs"]
	assert.Equal(t, 384, gfs.MaxForecastHours)
	assert.Equal(t, []string{"00", "12"}, gfs.Cycles)
	assert.Equal(t, []string{"TMP"}, gfs.Variables)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("NWPFETCH_SYSTEM_LOGGING_LEVEL", "WARN")
	t.Setenv("NWPFETCH_DOWNLOAD_CONCURRENCY", "2")

	cfg, err := LoadConfig("", EmbeddedConfig(testYAML))
	require.NoError(t, err)

	assert.Equal(t, "WARN", cfg.Nwpfetch.System.Logging.Level)
	assert.Equal(t, 2, cfg.Nwpfetch.Download.Concurrency)
}

func TestLoadConfigAdapterConfigsPreserved(t *testing.T) {
	cfg, err := LoadConfig("", EmbeddedConfig(testYAML))
	require.NoError(t, err)

	adapterMap, ok := cfg.Nwpfetch.AdapterConfigs.(map[string]interface{})
	require.True(t, ok)
	_, ok = adapterMap["storage"]
	assert.True(t, ok)
}

func TestModelLookupFallsBackToDefaultModel(t *testing.T) {
	cfg := NewConfig()

	mc, name, ok := cfg.Model("")
	require.True(t, ok)
	assert.Equal(t, "gfs", name)
	assert.Equal(t, "0p25", mc.Resolution)

	_, _, ok = cfg.Model("icon")
	assert.False(t, ok)
}
