package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDefaultsFillsEveryTimeout(t *testing.T) {
	cfg := &Config{PluginsDir: "plugins"}
	require.NoError(t, cfg.InitDefaults())

	assert.Equal(t, 10*time.Second, cfg.InitializeTimeout)
	assert.Equal(t, 5*time.Second, cfg.MCPGracePeriod)
	assert.Equal(t, 30*time.Second, cfg.ExecTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 2*time.Second, cfg.InputAckTimeout)
	assert.Equal(t, 2*time.Second, cfg.GracefulShutdown)
	assert.Equal(t, 2*time.Second, cfg.ForceShutdown)
	assert.Equal(t, 250*time.Millisecond, cfg.ManifestDebounce)
}

func TestInitDefaultsDefaultsPluginsDir(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.InitDefaults())
	assert.Equal(t, "plugins", cfg.PluginsDir)
}

func TestValidateRejectsEmptyPluginsDir(t *testing.T) {
	cfg := &Config{PluginsDir: "", ExecTimeout: time.Second, SessionTimeout: time.Second}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveTimeouts(t *testing.T) {
	cfg := &Config{PluginsDir: "plugins", ExecTimeout: 0, SessionTimeout: time.Second}
	assert.Error(t, cfg.Validate())

	cfg2 := &Config{PluginsDir: "plugins", ExecTimeout: time.Second, SessionTimeout: 0}
	assert.Error(t, cfg2.Validate())
}
