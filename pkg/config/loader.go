package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// configFileName is the single configuration file loaded from the config dir.
const configFileName = "conductor.yaml"

// conductorYAMLConfig represents the complete conductor.yaml file structure.
type conductorYAMLConfig struct {
	Server   *ServerConfig   `yaml:"server"`
	Limits   *LimitsConfig   `yaml:"limits"`
	Pipeline *PipelineConfig `yaml:"pipeline"`
	Cleanup  *CleanupConfig  `yaml:"cleanup"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load conductor.yaml from configDir (missing file = all defaults)
//  2. Expand environment variables
//  3. Merge user-defined sections onto built-in defaults
//  4. Validate all configuration
//  5. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"max_connections_per_user", cfg.Limits.MaxConnectionsPerUser,
		"step_timeout", cfg.Pipeline.StepTimeout,
		"run_timeout", cfg.Pipeline.RunTimeout)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	yamlCfg, err := loadConductorYAML(configDir)
	if err != nil {
		return nil, NewLoadError(configFileName, err)
	}

	// Start with built-in defaults, then merge user config on top so unset
	// fields keep their defaults.
	server := DefaultServerConfig()
	if yamlCfg.Server != nil {
		if err := mergo.Merge(server, yamlCfg.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}

	limits := DefaultLimitsConfig()
	if yamlCfg.Limits != nil {
		if err := mergo.Merge(limits, yamlCfg.Limits, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge limits config: %w", err)
		}
	}

	pipeline := DefaultPipelineConfig()
	if yamlCfg.Pipeline != nil {
		if err := mergo.Merge(pipeline, yamlCfg.Pipeline, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge pipeline config: %w", err)
		}
	}

	cleanup := DefaultCleanupConfig()
	if yamlCfg.Cleanup != nil {
		if err := mergo.Merge(cleanup, yamlCfg.Cleanup, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge cleanup config: %w", err)
		}
	}

	return &Config{
		configDir: configDir,
		Server:    server,
		Limits:    limits,
		Pipeline:  pipeline,
		Cleanup:   cleanup,
	}, nil
}

// loadConductorYAML reads and parses conductor.yaml with env expansion.
// A missing file is not an error — the gateway runs on built-in defaults.
func loadConductorYAML(configDir string) (*conductorYAMLConfig, error) {
	var cfg conductorYAMLConfig

	path := filepath.Join(configDir, configFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("Configuration file not found, using built-in defaults", "path", path)
			return &cfg, nil
		}
		return nil, err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// letting the YAML parser fail with a clearer message.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return &cfg, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	if cfg.Limits.MaxConnectionsPerUser < 1 {
		return NewValidationError("limits", "max_connections_per_user",
			fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, cfg.Limits.MaxConnectionsPerUser))
	}
	if cfg.Pipeline.StepTimeout <= 0 {
		return NewValidationError("pipeline", "step_timeout",
			fmt.Errorf("%w: must be positive, got %v", ErrInvalidValue, cfg.Pipeline.StepTimeout))
	}
	if cfg.Pipeline.RunTimeout < cfg.Pipeline.StepTimeout {
		return NewValidationError("pipeline", "run_timeout",
			fmt.Errorf("%w: must be >= step_timeout (%v), got %v", ErrInvalidValue,
				cfg.Pipeline.StepTimeout, cfg.Pipeline.RunTimeout))
	}
	if cfg.Server.WriteTimeout <= 0 {
		return NewValidationError("server", "write_timeout",
			fmt.Errorf("%w: must be positive, got %v", ErrInvalidValue, cfg.Server.WriteTimeout))
	}
	if cfg.Server.SendBufferSize < 1 {
		return NewValidationError("server", "send_buffer_size",
			fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, cfg.Server.SendBufferSize))
	}
	if cfg.Cleanup.SweepInterval <= 0 {
		return NewValidationError("cleanup", "sweep_interval",
			fmt.Errorf("%w: must be positive, got %v", ErrInvalidValue, cfg.Cleanup.SweepInterval))
	}
	return nil
}
