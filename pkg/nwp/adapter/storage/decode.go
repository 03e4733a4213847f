package storage

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	storageConfig "github.com/tigerroll/nwpfetch/pkg/nwp/adapter/storage/config"
	coreConfig "github.com/tigerroll/nwpfetch/pkg/nwp/core/config"
)

// DecodeConfig extracts the named storage entry from the application's
// adapter configuration. The AdapterConfigs field is an interface{} carrying
// the raw YAML mapping, so the entry is decoded with yaml tag names.
func DecodeConfig(cfg *coreConfig.Config, name string) (storageConfig.StorageConfig, error) {
	var storageCfg storageConfig.StorageConfig

	rawAdapterConfig, ok := cfg.Nwpfetch.AdapterConfigs.(map[string]interface{})
	if !ok {
		return storageCfg, fmt.Errorf("invalid 'adapter' configuration format: expected map[string]interface{}")
	}
	storageConfigMap, ok := rawAdapterConfig["storage"].(map[string]interface{})
	if !ok {
		return storageCfg, fmt.Errorf("invalid 'storage' configuration format: expected map[string]interface{}")
	}
	namedConfig, ok := storageConfigMap[name]
	if !ok {
		return storageCfg, fmt.Errorf("storage configuration for name '%s' not found", name)
	}

	// Use mapstructure.DecoderConfig to recognize yaml tags.
	decoderConfig := &mapstructure.DecoderConfig{
		Metadata: nil,
		Result:   &storageCfg,
		TagName:  "yaml",
	}
	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return storageCfg, fmt.Errorf("failed to create decoder for storage config '%s': %w", name, err)
	}
	if err := decoder.Decode(namedConfig); err != nil {
		return storageCfg, fmt.Errorf("failed to decode storage config for '%s': %w", name, err)
	}
	return storageCfg, nil
}
