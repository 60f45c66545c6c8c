package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gassist/plugin-engine/internal/manifest"
)

func TestBuildResolvesFunctionsToOwningPlugin(t *testing.T) {
	manifests := map[string]*manifest.Manifest{
		"weather": {Name: "weather", Functions: []manifest.FunctionDecl{{Name: "get_forecast"}}},
		"mail":    {Name: "mail", Functions: []manifest.FunctionDecl{{Name: "send_email"}}},
	}

	cat := Build(manifests)

	ref, ok := cat.Resolve("get_forecast")
	require.True(t, ok)
	assert.Equal(t, "weather", ref.Plugin)

	ref, ok = cat.Resolve("send_email")
	require.True(t, ok)
	assert.Equal(t, "mail", ref.Plugin)

	_, ok = cat.Resolve("unknown_fn")
	assert.False(t, ok)
}

func TestBuildFunctionsAndPlugins(t *testing.T) {
	manifests := map[string]*manifest.Manifest{
		"weather": {Name: "weather", Functions: []manifest.FunctionDecl{{Name: "get_forecast"}, {Name: "get_alerts"}}},
	}
	cat := Build(manifests)

	assert.ElementsMatch(t, []string{"get_forecast", "get_alerts"}, cat.Functions("weather"))
	assert.Equal(t, []string{"weather"}, cat.Plugins())
	assert.Len(t, cat.Describe(), 2)
}

func TestNilCatalogueIsSafeToQuery(t *testing.T) {
	var cat *Catalogue
	_, ok := cat.Resolve("anything")
	assert.False(t, ok)
	assert.Nil(t, cat.Functions("anything"))
	assert.Nil(t, cat.Plugins())
	assert.Nil(t, cat.Describe())
}
