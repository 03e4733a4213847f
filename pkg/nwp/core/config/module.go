// Package config provides core configuration structures and utilities for the pipeline.
// This module defines Fx providers for configuration-related components.
package config

import "go.uber.org/fx"

// NewLoggingConfigProvider extracts and provides *LoggingConfig from *Config.
// This allows other Fx components to depend only on the logging configuration.
//
// Parameters:
//
//	cfg: The main application configuration.
//
// Returns:
//
//	A pointer to the LoggingConfig.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.Nwpfetch.System.Logging
}

// Module provides configuration-related components to Fx.
var Module = fx.Options(
	fx.Provide(NewLoggingConfigProvider),
)
