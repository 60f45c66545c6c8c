package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"

	rrerrors "github.com/roadrunner-server/errors"
)

// MergeDiscovered returns a copy of m whose Functions is the union of m's
// own (static) functions and discovered, deduplicated by name with
// discovered winning on collision.
func (m *Manifest) MergeDiscovered(discovered []FunctionDecl) *Manifest {
	merged := *m

	byName := make(map[string]FunctionDecl, len(m.Functions)+len(discovered))
	order := make([]string, 0, len(m.Functions)+len(discovered))

	for _, f := range m.Functions {
		if _, ok := byName[f.Name]; !ok {
			order = append(order, f.Name)
		}
		byName[f.Name] = f
	}
	for _, f := range discovered {
		if _, ok := byName[f.Name]; !ok {
			order = append(order, f.Name)
		}
		byName[f.Name] = f
	}

	merged.Functions = make([]FunctionDecl, len(order))
	for i, name := range order {
		merged.Functions[i] = byName[name]
	}
	return &merged
}

// Write atomically persists m to path: it marshals to a temp file in the
// same directory, then renames over path, so a concurrent reader (the
// Manifest Watcher) never observes a half-written file.
func (m *Manifest) Write(path string) error {
	const op = rrerrors.Op("manifest_write")

	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return rrerrors.E(op, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return rrerrors.E(op, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return rrerrors.E(op, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return rrerrors.E(op, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return rrerrors.E(op, err)
	}
	return nil
}

// WriteDiscovered merges discovered into m and atomically writes the
// result to m.SourcePath, returning the merged manifest so the caller
// (typically the MCP sub-client's poller) can keep using it.
func (m *Manifest) WriteDiscovered(discovered []FunctionDecl) (*Manifest, error) {
	const op = rrerrors.Op("manifest_write_discovered")

	if m.SourcePath == "" {
		return nil, rrerrors.E(op, rrerrors.Str("manifest has no source path to write back to"))
	}
	merged := m.MergeDiscovered(discovered)
	if err := merged.Write(m.SourcePath); err != nil {
		return nil, rrerrors.E(op, err)
	}
	return merged, nil
}
