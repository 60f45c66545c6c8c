package mcpclient

import (
	"encoding/json"

	"github.com/gassist/plugin-engine/internal/manifest"
)

// ToFunctionDecls converts MCP tools into the FunctionDecl shape the
// manifest model (package manifest) expects, so a plugin's default
// tool-change callback can rewrite its manifest directly from a poller
// tick.
func ToFunctionDecls(tools []Tool) []manifest.FunctionDecl {
	out := make([]manifest.FunctionDecl, 0, len(tools))
	for _, t := range tools {
		out = append(out, manifest.FunctionDecl{
			Name:        t.Name,
			Description: t.Description,
			Properties:  schemaProperties(t.InputSchema),
			Required:    schemaRequired(t.InputSchema),
		})
	}
	return out
}

func schemaProperties(schema map[string]any) map[string]json.RawMessage {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(props))
	for name, def := range props {
		raw, err := json.Marshal(def)
		if err != nil {
			continue
		}
		out[name] = raw
	}
	return out
}

func schemaRequired(schema map[string]any) []string {
	raw, ok := schema["required"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// DefaultChangeHandler returns a ChangeFunc that merges the new tool set
// into base and writes the result back to base's source path.
func DefaultChangeHandler(base *manifest.Manifest) ChangeFunc {
	return func(added, removed []Tool, all []Tool) {
		_, _ = base.WriteDiscovered(ToFunctionDecls(all))
	}
}
