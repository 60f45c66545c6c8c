package engine

import (
	"github.com/gassist/plugin-engine/internal/manifest"
)

// FunctionRef identifies one callable function by the plugin that owns it.
type FunctionRef struct {
	Plugin   string
	Function manifest.FunctionDecl
}

// Catalogue is the engine's immutable view of every function every known
// plugin currently exposes. It is never mutated in place; Build produces a
// fresh Catalogue which the Engine publishes via atomic.Pointer, so readers
// always observe a consistent copy-on-write snapshot.
type Catalogue struct {
	byFunction map[string]FunctionRef
	byPlugin   map[string][]string
}

// Build constructs a Catalogue from the current manifest of every known
// plugin. On a function-name collision the plugin visited last wins;
// since manifests is a map, which plugin that is is not defined.
func Build(manifests map[string]*manifest.Manifest) *Catalogue {
	c := &Catalogue{
		byFunction: make(map[string]FunctionRef),
		byPlugin:   make(map[string][]string),
	}
	for plugin, m := range manifests {
		if m == nil {
			continue
		}
		names := make([]string, 0, len(m.Functions))
		for _, fn := range m.Functions {
			c.byFunction[fn.Name] = FunctionRef{Plugin: plugin, Function: fn}
			names = append(names, fn.Name)
		}
		c.byPlugin[plugin] = names
	}
	return c
}

// Resolve looks up which plugin exposes the named function.
func (c *Catalogue) Resolve(function string) (FunctionRef, bool) {
	if c == nil {
		return FunctionRef{}, false
	}
	ref, ok := c.byFunction[function]
	return ref, ok
}

// Functions lists every function name a given plugin currently exposes.
func (c *Catalogue) Functions(plugin string) []string {
	if c == nil {
		return nil
	}
	return c.byPlugin[plugin]
}

// Plugins lists every plugin name with a manifest in the catalogue,
// including plugins that expose no functions. The order is not defined.
func (c *Catalogue) Plugins() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.byPlugin))
	for name := range c.byPlugin {
		out = append(out, name)
	}
	return out
}

// Describe returns every FunctionRef known to the catalogue, for the
// diagnostic ListPlugins/Describe query surface.
func (c *Catalogue) Describe() []FunctionRef {
	if c == nil {
		return nil
	}
	out := make([]FunctionRef, 0, len(c.byFunction))
	for _, ref := range c.byFunction {
		out = append(out, ref)
	}
	return out
}
