// Package manifest parses, validates, and atomically (re)writes a plugin's
// manifest.json.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	rrerrors "github.com/roadrunner-server/errors"
)

const ProtocolVersion = "2.0"

// TetherConfig carries the optional, host-enforced-or-not liveness knobs a
// plugin author may declare. Only
// HeartbeatInterval/HeartbeatTimeout have engine-enforced semantics (the
// Watchdog, package watchdog); OnboardingTimeout and AllowPassthrough are
// passed through as metadata.
type TetherConfig struct {
	HeartbeatIntervalSeconds int  `json:"heartbeat_interval,omitempty"`
	HeartbeatTimeoutSeconds  int  `json:"heartbeat_timeout,omitempty"`
	OnboardingTimeoutSeconds int  `json:"onboarding_timeout,omitempty"`
	AllowPassthrough         bool `json:"allow_passthrough,omitempty"`
}

// MCPConfig describes a plugin's optional federation to an external MCP
// server.
type MCPConfig struct {
	Enabled                bool   `json:"enabled"`
	ServerURL              string `json:"server_url,omitempty"`
	StdioCommand           string `json:"stdio_command,omitempty"`
	LaunchOnStartup        bool   `json:"launch_on_startup,omitempty"`
	PollIntervalSeconds    int    `json:"poll_interval,omitempty"`
	AutoRefreshSession     bool   `json:"auto_refresh_session,omitempty"`
	SessionRefreshMarginS  int    `json:"session_refresh_margin_s,omitempty"`
}

// FunctionDecl is one function a plugin exposes. Parameters is a JSON
// Schema fragment keyed by parameter name.
type FunctionDecl struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Tags        []string                   `json:"tags,omitempty"`
	Properties  map[string]json.RawMessage `json:"properties,omitempty"`
	Required    []string                   `json:"required,omitempty"`
}

// Validate checks the FunctionDecl's own invariant: required is a subset
// of the declared properties.
func (f *FunctionDecl) Validate() error {
	const op = rrerrors.Op("manifest_function_validate")
	for _, name := range f.Required {
		if _, ok := f.Properties[name]; !ok {
			return rrerrors.E(op, fmt.Errorf("function %q: required parameter %q has no schema", f.Name, name))
		}
	}
	return nil
}

// Manifest is the on-disk description of a plugin.
type Manifest struct {
	ManifestVersion int            `json:"manifestVersion"`
	Name            string         `json:"name,omitempty"`
	Version         string         `json:"version,omitempty"`
	Description     string         `json:"description,omitempty"`
	Executable      string         `json:"executable"`
	Persistent      bool           `json:"persistent,omitempty"`
	ProtocolVersion string         `json:"protocol_version"`
	Tags            []string       `json:"tags,omitempty"`
	MCP             *MCPConfig     `json:"mcp,omitempty"`
	TetherConfig    *TetherConfig  `json:"tether_config,omitempty"`
	Functions       []FunctionDecl `json:"functions"`

	// SourcePath is the absolute path this manifest was parsed from. It is
	// never serialised; it exists so the Manifest Watcher (package
	// manifestwatch) and the atomic writer below can round-trip without the
	// caller re-threading the path everywhere.
	SourcePath string `json:"-"`
}

// Parse decodes and validates raw manifest bytes.
func Parse(raw []byte) (*Manifest, error) {
	const op = rrerrors.Op("manifest_parse")

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, rrerrors.E(op, err)
	}
	if err := m.Validate(); err != nil {
		return nil, rrerrors.E(op, err)
	}
	return &m, nil
}

// Load reads and parses the manifest.json at path.
func Load(path string) (*Manifest, error) {
	const op = rrerrors.Op("manifest_load")

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, rrerrors.E(op, err)
	}
	m, err := Parse(raw)
	if err != nil {
		return nil, rrerrors.E(op, err)
	}
	m.SourcePath = path
	return m, nil
}

// Validate enforces the required-field and uniqueness invariants:
// manifestVersion, executable, protocol_version == "2.0",
// and a (possibly empty, for MCP-auto-populated plugins) functions array
// with unique names.
func (m *Manifest) Validate() error {
	const op = rrerrors.Op("manifest_validate")

	if m.ManifestVersion == 0 {
		return rrerrors.E(op, rrerrors.Str("manifestVersion is required"))
	}
	if m.Executable == "" {
		return rrerrors.E(op, rrerrors.Str("executable is required"))
	}
	if m.ProtocolVersion != ProtocolVersion {
		return rrerrors.E(op, fmt.Errorf("protocol_version must be %q, got %q", ProtocolVersion, m.ProtocolVersion))
	}
	if m.Functions == nil {
		m.Functions = []FunctionDecl{}
	}

	seen := make(map[string]struct{}, len(m.Functions))
	for i := range m.Functions {
		f := &m.Functions[i]
		if _, dup := seen[f.Name]; dup {
			return rrerrors.E(op, fmt.Errorf("duplicate function name %q", f.Name))
		}
		seen[f.Name] = struct{}{}
		if err := f.Validate(); err != nil {
			return rrerrors.E(op, err)
		}
	}
	return nil
}

// FunctionNames returns the declared function names, in manifest order.
func (m *Manifest) FunctionNames() []string {
	names := make([]string, len(m.Functions))
	for i, f := range m.Functions {
		names[i] = f.Name
	}
	return names
}

// Dir returns the plugin directory the manifest lives in.
func (m *Manifest) Dir() string {
	if m.SourcePath == "" {
		return ""
	}
	return filepath.Dir(m.SourcePath)
}
