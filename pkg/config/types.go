package config

import "time"

// ServerConfig contains HTTP/WebSocket server settings.
type ServerConfig struct {
	// AllowedWSOrigins is the list of Origin patterns accepted for WebSocket
	// upgrades. Empty means same-origin only — cross-origin connections are
	// rejected by default.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`

	// WriteTimeout bounds a single WebSocket write. A client that cannot
	// drain its event stream within this window is disconnected.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// SendBufferSize is the per-session outbound event queue depth. Events
	// beyond this are dropped with a warning (terminal events excepted).
	SendBufferSize int `yaml:"send_buffer_size"`

	// ShutdownTimeout is the max time to wait for active sessions to drain
	// during graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		WriteTimeout:    10 * time.Second,
		SendBufferSize:  256,
		ShutdownTimeout: 30 * time.Second,
	}
}

// LimitsConfig contains per-user resource limits enforced by the
// connection registry.
type LimitsConfig struct {
	// MaxConnectionsPerUser is the ceiling of concurrently admitted
	// WebSocket connections per user. Exceeding it yields a policy close,
	// not an application error.
	MaxConnectionsPerUser int `yaml:"max_connections_per_user"`
}

// DefaultLimitsConfig returns the built-in limits defaults.
func DefaultLimitsConfig() *LimitsConfig {
	return &LimitsConfig{
		MaxConnectionsPerUser: 5,
	}
}

// PipelineConfig contains execution engine settings.
type PipelineConfig struct {
	// StepTimeout is the max execution time for a single pipeline step.
	// A timed-out step counts as failed for dependency purposes; the
	// pipeline itself continues.
	StepTimeout time.Duration `yaml:"step_timeout"`

	// RunTimeout is the max wall-clock time for a whole pipeline run.
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// DefaultPipelineConfig returns the built-in pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		StepTimeout: 2 * time.Minute,
		RunTimeout:  15 * time.Minute,
	}
}

// CleanupConfig contains background maintenance settings.
type CleanupConfig struct {
	// SweepInterval is how often the background sweeper reclaims zombie
	// connection slots across all users.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// ThreadRetention is how long an untouched thread is kept before the
	// sweeper removes it. Zero disables thread retention.
	ThreadRetention time.Duration `yaml:"thread_retention"`
}

// DefaultCleanupConfig returns the built-in cleanup defaults.
func DefaultCleanupConfig() *CleanupConfig {
	return &CleanupConfig{
		SweepInterval:   1 * time.Minute,
		ThreadRetention: 30 * 24 * time.Hour,
	}
}
