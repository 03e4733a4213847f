package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/logger"

	"go.uber.org/fx"
)

// Package config provides utilities for loading and managing application configuration
// from various sources, including YAML files and environment variables.

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig // EmbeddedConfig contains the raw bytes of the configuration file.
	EnvFilePath    string         `name:"envFilePath" optional:"true"` // EnvFilePath is the path to the .env file, if any.
}

// loadConfig loads configuration from a file and environment variables.
// This function is intended to be called only once during application startup.
//
// Parameters:
//
//	envFilePath: The path to the .env file.
//	embeddedConfig: The embedded configuration bytes.
//
// Returns:
//
//	A pointer to the loaded Config and an error if loading fails.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	// 1. Load defaults from NewConfig()

	// 2. Load configuration from embedded YAML into a temporary Config struct.
	// This ensures that YAML values are correctly parsed into their respective types.
	var yamlConfig Config
	if err := yaml.Unmarshal(embeddedConfig, &yamlConfig); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false, false)
	}

	// 3. Merge YAML configuration into the default configuration.
	mergeConfig(cfg, &yamlConfig)

	// 4. Override with environment variables
	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It initializes the application configuration by loading defaults,
// merging from embedded YAML, and overriding with environment variables.
// It also sets the global logger level.
//
// Parameters:
//
//	params: ConfigParams containing dependencies like embedded config and env file path.
//
// Returns:
//
//	A pointer to the initialized Config and an error if configuration loading fails.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load configuration", err, false, false)
	}

	// Set global configuration
	GlobalConfig = cfg

	// Set log level
	logger.SetLogLevel(cfg.Nwpfetch.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Nwpfetch.System.Logging.Level)

	return cfg, nil
}

// LoadConfig loads configuration from configuration files and environment variables.
// This function is expected to be called only once during application startup.
//
// Parameters:
//
//	envFilePath: The path to the .env file.
//	embeddedConfig: The embedded configuration bytes.
//
// Returns:
//
//	A pointer to the loaded Config and an error if loading fails.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig)
}

// mergeConfig performs a deep merge from sourceConfig into destConfig.
// Values in sourceConfig will overwrite corresponding values in destConfig
// if they are not zero/empty values for their type.
//
// Parameters:
//
//	destConfig: The destination Config to merge into.
//	sourceConfig: The source Config to merge from.
func mergeConfig(destConfig, sourceConfig *Config) {
	mergeNwpfetchConfig(&destConfig.Nwpfetch, &sourceConfig.Nwpfetch)
}

// mergeNwpfetchConfig merges source into dest.
func mergeNwpfetchConfig(dest, source *NwpfetchConfig) {
	// Merge BatchConfig
	if source.Batch.JobName != "" {
		dest.Batch.JobName = source.Batch.JobName
	}
	if source.Batch.DefaultModel != "" {
		dest.Batch.DefaultModel = source.Batch.DefaultModel
	}

	// Merge SystemConfig
	mergeSystemConfig(&dest.System, &source.System)

	// Merge DownloadConfig
	mergeDownloadConfig(&dest.Download, &source.Download)

	// Merge ConvertConfig
	if source.Convert.CompressionLevel != 0 {
		dest.Convert.CompressionLevel = source.Convert.CompressionLevel
	}
	if source.Convert.TimeChunk != 0 {
		dest.Convert.TimeChunk = source.Convert.TimeChunk
	}
	if source.Convert.OutFile != "" {
		dest.Convert.OutFile = source.Convert.OutFile
	}
	if source.Convert.Extension != "" {
		dest.Convert.Extension = source.Convert.Extension
	}

	// Merge ExportConfig
	if source.Export.Enabled {
		dest.Export.Enabled = true
	}
	if source.Export.StorageRef != "" {
		dest.Export.StorageRef = source.Export.StorageRef
	}
	if source.Export.OutputBaseDir != "" {
		dest.Export.OutputBaseDir = source.Export.OutputBaseDir
	}
	if source.Export.CompressionType != "" {
		dest.Export.CompressionType = source.Export.CompressionType
	}

	// Merge Models: a model present in the source replaces the default entry wholesale.
	if source.Models != nil {
		if dest.Models == nil {
			dest.Models = make(map[string]ModelConfig)
		}
		for name, mc := range source.Models {
			dest.Models[name] = mc
		}
	}

	// Merge AdapterConfigs (storage connection definitions).
	if source.AdapterConfigs != nil {
		sourceMap, sourceOK := source.AdapterConfigs.(map[string]interface{})
		destMap, destOK := dest.AdapterConfigs.(map[string]interface{})
		if sourceOK && destOK {
			for key, value := range sourceMap {
				destMap[key] = value
			}
		} else {
			dest.AdapterConfigs = source.AdapterConfigs
		}
	}
}

// mergeDownloadConfig merges source into dest.
func mergeDownloadConfig(dest, source *DownloadConfig) {
	if source.OutputDir != "" {
		dest.OutputDir = source.OutputDir
	}
	if source.Concurrency != 0 {
		dest.Concurrency = source.Concurrency
	}
	if source.ChunkSizeBytes != 0 {
		dest.ChunkSizeBytes = source.ChunkSizeBytes
	}
	if source.TimeoutSeconds != 0 {
		dest.TimeoutSeconds = source.TimeoutSeconds
	}
	mergeRetryConfig(&dest.Retry, &source.Retry)
}

// mergeRetryConfig merges source into dest.
func mergeRetryConfig(dest, source *RetryConfig) {
	if source.MaxAttempts != 0 {
		dest.MaxAttempts = source.MaxAttempts
	}
	if source.InitialInterval != 0 {
		dest.InitialInterval = source.InitialInterval
	}
	if source.Factor != 0 {
		dest.Factor = source.Factor
	}
}

// mergeSystemConfig merges source into dest.
func mergeSystemConfig(dest, source *SystemConfig) {
	if source.Timezone != "" {
		dest.Timezone = source.Timezone
	}
	if source.Logging.Level != "" {
		dest.Logging.Level = source.Logging.Level
	}
}

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// It uses the "yaml" tag to determine the environment variable name.
//
// Parameters:
//
//	val: The reflect.Value of the struct to populate.
//	prefix: The prefix for environment variable names (e.g., "NWPFETCH_DOWNLOAD_").
//
// Returns: An error if any field cannot be set.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists && field.Kind() != reflect.Map { // Map types continue so nested environment variables are processed.
			continue
		}

		if field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Struct {
			// For map[string]struct{}, process nested environment variables
			// Example: NWPFETCH_MODELS_GFS_BASE_URL
			if err := loadMapOfStructsFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapOfStructsFromEnv loads fields of type map[string]struct{} from environment variables.
// It infers map keys and struct field names from environment variable names.
//
// Example: For the field `Models map[string]ModelConfig`, an environment variable
// `NWPFETCH_MODELS_GFS_RESOLUTION=0p50` sets the `Resolution` field of the
// ModelConfig instance associated with the key "gfs".
//
// Parameters:
//
//	mapField: The reflect.Value of the map field.
//	prefix: The environment variable prefix for this map (e.g., "NWPFETCH_MODELS_").
func loadMapOfStructsFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}

	elemType := mapField.Type().Elem()

	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}

		keyPartWithValue := strings.TrimPrefix(env, prefix)
		parts := strings.SplitN(keyPartWithValue, "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyAndField := parts[0]
		envValue := parts[1]

		keyAndFieldParts := strings.Split(keyAndField, "_")
		if len(keyAndFieldParts) < 2 {
			continue
		}
		mapKey := strings.ToLower(keyAndFieldParts[0])
		structFieldName := strings.Join(keyAndFieldParts[1:], "_")

		structVal := mapField.MapIndex(reflect.ValueOf(mapKey))
		if !structVal.IsValid() {
			structVal = reflect.New(elemType).Elem()
		} else {
			// Map values are not addressable; copy before mutating.
			copied := reflect.New(elemType).Elem()
			copied.Set(structVal)
			structVal = copied
		}

		if err := setStructFieldFromEnv(structVal, structFieldName, envValue); err != nil {
			return err
		}
		mapField.SetMapIndex(reflect.ValueOf(mapKey), structVal)
	}
	return nil
}

// setStructFieldFromEnv sets the value of a specific struct field from an environment variable.
// It iterates through the struct's fields, matching the `fieldName` (case-insensitively)
// against the field's `yaml` tag.
//
// Parameters:
//
//	structVal: The reflect.Value of the struct instance.
//	fieldName: The name of the field to set (derived from the environment variable).
//	value: The string value to set.
//
// Returns: An error if the field cannot be set due to type conversion issues.
func setStructFieldFromEnv(structVal reflect.Value, fieldName string, value string) error {
	typ := structVal.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := structVal.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}

		if strings.EqualFold(yamlTag, fieldName) {
			return setField(field, value)
		}
	}
	return nil // Field not found is not an error.
}

// setField sets the value of a reflect.Value field based on its kind.
// It handles string, int, float, and bool types.
//
// Parameters:
//
//	field: The reflect.Value of the field to set.
//	value: The string value to convert and set.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
