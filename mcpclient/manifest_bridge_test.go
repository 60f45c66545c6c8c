package mcpclient

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gassist/plugin-engine/internal/manifest"
)

func TestToFunctionDeclsCarriesSchema(t *testing.T) {
	tools := []Tool{
		{
			Name:        "get_forecast",
			Description: "fetch the forecast",
			InputSchema: map[string]any{
				"properties": map[string]any{
					"city": map[string]any{"type": "string"},
				},
				"required": []any{"city"},
			},
		},
	}

	decls := ToFunctionDecls(tools)
	require.Len(t, decls, 1)
	assert.Equal(t, "get_forecast", decls[0].Name)
	assert.Contains(t, decls[0].Properties, "city")
	assert.Equal(t, []string{"city"}, decls[0].Required)
}

func TestDefaultChangeHandlerRewritesManifestAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	base := &manifest.Manifest{
		ManifestVersion: 1,
		Executable:      "plugin.exe",
		ProtocolVersion: manifest.ProtocolVersion,
		Functions:       []manifest.FunctionDecl{{Name: "static_fn", Description: "static"}},
		SourcePath:      path,
	}
	require.NoError(t, base.Write(path))

	handler := DefaultChangeHandler(base)
	handler(nil, nil, []Tool{{Name: "discovered_fn", Description: "from mcp"}})

	reloaded, err := manifest.Load(path)
	require.NoError(t, err)
	assert.Contains(t, reloaded.FunctionNames(), "static_fn")
	assert.Contains(t, reloaded.FunctionNames(), "discovered_fn")
}
