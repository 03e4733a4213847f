package config

// Package config provides structures and utilities for managing application configuration.

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
// This is used when loading configuration from an embedded source (e.g., a compiled binary).
type EmbeddedConfig []byte

// EmbeddedMapping holds the content of the embedded variable mapping tables.
type EmbeddedMapping []byte

// RetryConfig holds configuration for the download retry mechanism.
type RetryConfig struct {
	MaxAttempts     int     `yaml:"max_attempts"`     // MaxAttempts is the maximum number of retry attempts.
	InitialInterval int     `yaml:"initial_interval"` // InitialInterval is the initial backoff interval in milliseconds.
	Factor          float64 `yaml:"factor"`           // Factor is the factor by which the interval increases per attempt.
}

// DownloadConfig holds configuration for the download stage.
type DownloadConfig struct {
	// OutputDir is the root directory under which raw, processed, and
	// interpolated artifacts are stored.
	OutputDir string `yaml:"output_dir"`
	// Concurrency is the number of parallel downloads.
	Concurrency int `yaml:"concurrency"`
	// ChunkSizeBytes is the copy granularity for streaming downloads.
	ChunkSizeBytes int `yaml:"chunk_size_bytes"`
	// TimeoutSeconds is the per-request HTTP timeout.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// Retry is the download retry configuration.
	Retry RetryConfig `yaml:"retry"`
}

// ConvertConfig holds configuration for the grid conversion stage.
type ConvertConfig struct {
	// CompressionLevel is the deflate level applied to processed output chunks.
	CompressionLevel int `yaml:"compression_level"`
	// TimeChunk is the maximum number of time steps per output chunk.
	TimeChunk int `yaml:"time_chunk"`
	// OutFile is the base name of converted artifacts.
	OutFile string `yaml:"out_file"`
	// Extension is the file extension of converted artifacts.
	Extension string `yaml:"extension"`
}

// ExportConfig holds configuration for the optional tabular export stage.
type ExportConfig struct {
	// Enabled toggles the Parquet export after interpolation.
	Enabled bool `yaml:"enabled"`
	// StorageRef is the name of the storage connection receiving exports.
	StorageRef string `yaml:"storage_ref"`
	// OutputBaseDir is the base directory within the storage target.
	OutputBaseDir string `yaml:"output_base_dir"`
	// CompressionType is the Parquet compression codec ("SNAPPY", "GZIP", "NONE").
	CompressionType string `yaml:"compression_type"`
}

// BoundsConfig describes the spatial request window in the 0-360 longitude
// convention used by the upstream filter endpoint.
type BoundsConfig struct {
	LeftLon   float64 `yaml:"leftlon"`
	RightLon  float64 `yaml:"rightlon"`
	TopLat    float64 `yaml:"toplat"`
	BottomLat float64 `yaml:"bottomlat"`
}

// ModelConfig holds per-model download settings.
type ModelConfig struct {
	// Resolution is the grid resolution key (e.g., "0p25").
	Resolution string `yaml:"resolution"`
	// BaseURL is the GRIB filter endpoint for this model.
	BaseURL string `yaml:"base_url"`
	// Cycles is the list of model cycles published per day.
	Cycles []string `yaml:"cycles"`
	// FrequencyHours is the fallback output frequency when no schedule table exists.
	FrequencyHours int `yaml:"frequency_hours"`
	// MaxForecastHours is the longest published lead time.
	MaxForecastHours int `yaml:"max_forecast_hours"`
	// Variables is the list of upstream parameter codes to request.
	Variables []string `yaml:"variables"`
	// Levels is the list of upstream level names to request.
	Levels []string `yaml:"levels"`
	// Bounds is the spatial request window.
	Bounds BoundsConfig `yaml:"bounds"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone. Upstream cycle times are UTC.
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// BatchConfig holds settings for the pipeline run itself.
type BatchConfig struct {
	// JobName is the logical name reported in metrics and traces.
	JobName string `yaml:"job_name"`
	// DefaultModel is the model used when a request names none.
	DefaultModel string `yaml:"default_model"`
}

// NwpfetchConfig holds all configuration under the "nwpfetch" top-level key.
type NwpfetchConfig struct {
	// Batch contains pipeline run configuration.
	Batch BatchConfig `yaml:"batch"`
	// System contains system-wide configurations.
	System SystemConfig `yaml:"system"`
	// Download contains download stage configuration.
	Download DownloadConfig `yaml:"download"`
	// Convert contains conversion stage configuration.
	Convert ConvertConfig `yaml:"convert"`
	// Export contains export stage configuration.
	Export ExportConfig `yaml:"export"`
	// Models contains per-model download settings.
	Models map[string]ModelConfig `yaml:"models"`
	// AdapterConfigs holds configurations for storage adapters, keyed by concern
	// ("storage") and then by connection name.
	AdapterConfigs interface{} `yaml:"adapter"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	// Nwpfetch contains the top-level configuration for the pipeline.
	Nwpfetch NwpfetchConfig `yaml:"nwpfetch"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// GlobalConfig is a pointer to the configuration instance shared across the application.
// It is expected to be set via fx.Supply or fx.Provide.
var GlobalConfig *Config

// NewConfig returns a new instance of Config with default values.
// The GFS defaults mirror the published characteristics of the 0.25 degree
// NOMADS filter endpoint.
func NewConfig() *Config {
	cfg := &Config{
		Nwpfetch: NwpfetchConfig{
			Batch: BatchConfig{
				JobName:      "nwpfetch",
				DefaultModel: "gfs",
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Download: DownloadConfig{
				OutputDir:      "data",
				Concurrency:    4,
				ChunkSizeBytes: 8192,
				TimeoutSeconds: 120,
				Retry: RetryConfig{
					MaxAttempts:     3,
					InitialInterval: 1000,
					Factor:          1.0,
				},
			},
			Convert: ConvertConfig{
				CompressionLevel: 6,
				TimeChunk:        24,
				OutFile:          "gfs",
				Extension:        "grid",
			},
			Export: ExportConfig{
				Enabled:         false,
				StorageRef:      "local",
				OutputBaseDir:   "exports",
				CompressionType: "SNAPPY",
			},
			Models: map[string]ModelConfig{
				"gfs": {
					Resolution:       "0p25",
					BaseURL:          "https://nomads.ncep.noaa.gov/cgi-bin/filter_gfs_0p25_1hr.pl",
					Cycles:           []string{"00", "06", "12", "18"},
					FrequencyHours:   3,
					MaxForecastHours: 240,
					Variables:        []string{"TMP", "RH", "UGRD", "VGRD", "HGT"},
					Levels:           []string{"surface", "2_m_above_ground", "10_m_above_ground"},
					Bounds: BoundsConfig{
						LeftLon:   0,
						RightLon:  360,
						TopLat:    90,
						BottomLat: -90,
					},
				},
			},
		},
	}

	// Initialize AdapterConfigs as an empty map, to be populated by YAML or by mergeConfig.
	cfg.Nwpfetch.AdapterConfigs = map[string]interface{}{}
	return cfg
}

// Model returns the configuration for a named model, falling back to the
// default model when name is empty.
func (c *Config) Model(name string) (ModelConfig, string, bool) {
	if name == "" {
		name = c.Nwpfetch.Batch.DefaultModel
	}
	mc, ok := c.Nwpfetch.Models[name]
	return mc, name, ok
}
