package config

// Config is the umbrella configuration object returned by Initialize()
// and injected into components at startup. No component reads ambient
// global configuration state.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// HTTP/WebSocket server settings
	Server *ServerConfig

	// Per-user resource limits
	Limits *LimitsConfig

	// Execution engine settings
	Pipeline *PipelineConfig

	// Background maintenance settings
	Cleanup *CleanupConfig
}

// Initialize is defined in loader.go

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}
