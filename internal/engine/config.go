package engine

import (
	"time"

	"github.com/roadrunner-server/errors"
)

// PluginName is the engine's endure component name and config root key.
const PluginName = "plugin_engine"

// Config is the engine's configuration, unmarshalled from the
// "plugin_engine" key of the host config file (viper, spf13/viper).
type Config struct {
	// PluginsDir is scanned for subdirectories containing a manifest.json.
	PluginsDir string `mapstructure:"plugins_dir"`

	// LogDir receives each plugin's captured stderr.
	LogDir string `mapstructure:"log_dir"`

	// InitializeTimeout bounds the startup "initialize" round trip.
	InitializeTimeout time.Duration `mapstructure:"initialize_timeout"`

	// MCPGracePeriod is how long the engine waits after starting a
	// launch-on-startup MCP plugin before re-reading its manifest and
	// rebuilding the catalogue. Serve publishes the catalogue without
	// waiting for this reload.
	MCPGracePeriod time.Duration `mapstructure:"mcp_grace_period"`

	// ExecTimeout is the soft per-execute deadline T_exec.
	ExecTimeout time.Duration `mapstructure:"exec_timeout"`

	// SessionTimeout is the session-total deadline T_session.
	SessionTimeout time.Duration `mapstructure:"session_timeout"`

	// InputAckTimeout is T_ack, the deadline for an "input" ack response.
	InputAckTimeout time.Duration `mapstructure:"input_ack_timeout"`

	// GracefulShutdown/ForceShutdown are T_graceful/T_force.
	GracefulShutdown time.Duration `mapstructure:"graceful_shutdown"`
	ForceShutdown    time.Duration `mapstructure:"force_shutdown"`

	// ManifestDebounce is the manifest watcher's debounce window.
	ManifestDebounce time.Duration `mapstructure:"manifest_debounce"`
}

// InitDefaults fills in zero-valued fields with their defaults, then
// validates the result.
func (c *Config) InitDefaults() error {
	if c.PluginsDir == "" {
		c.PluginsDir = "plugins"
	}
	if c.InitializeTimeout == 0 {
		c.InitializeTimeout = 10 * time.Second
	}
	if c.MCPGracePeriod == 0 {
		c.MCPGracePeriod = 5 * time.Second
	}
	if c.ExecTimeout == 0 {
		c.ExecTimeout = 30 * time.Second
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = 5 * time.Minute
	}
	if c.InputAckTimeout == 0 {
		c.InputAckTimeout = 2 * time.Second
	}
	if c.GracefulShutdown == 0 {
		c.GracefulShutdown = 2 * time.Second
	}
	if c.ForceShutdown == 0 {
		c.ForceShutdown = 2 * time.Second
	}
	if c.ManifestDebounce == 0 {
		c.ManifestDebounce = 250 * time.Millisecond
	}
	return c.Validate()
}

// Validate checks the config is internally consistent.
func (c *Config) Validate() error {
	const op = errors.Op("engine_config_validate")
	if c.PluginsDir == "" {
		return errors.E(op, errors.Str("plugins_dir must not be empty"))
	}
	if c.ExecTimeout <= 0 {
		return errors.E(op, errors.Str("exec_timeout must be positive"))
	}
	if c.SessionTimeout <= 0 {
		return errors.E(op, errors.Str("session_timeout must be positive"))
	}
	return nil
}
