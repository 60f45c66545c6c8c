// Package engine implements plugin discovery and startup, request dispatch
// (routed through the passthrough session controller, package session),
// streaming aggregation, and manifest-reload handling. It is wired as an
// endure/v2 component (Init/Serve/Stop/Name/Weight/Collects/RPC/
// MetricsCollector) so it can be hosted by a RoadRunner-style container.
package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	v4 "github.com/roadrunner-server/api/v4/plugins/v4"
	"github.com/roadrunner-server/endure/v2/dep"
	rrerrors "github.com/roadrunner-server/errors"
	"go.uber.org/zap"

	"github.com/gassist/plugin-engine/internal/jsonrpc"
	"github.com/gassist/plugin-engine/internal/manifest"
	"github.com/gassist/plugin-engine/internal/manifestwatch"
	"github.com/gassist/plugin-engine/internal/session"
	"github.com/gassist/plugin-engine/internal/watchdog"
)

// Configurer is the host's config-access seam.
type Configurer = v4.Configurer

// Logger is the host's named-logger seam.
type Logger = v4.Logger

// Engine is the endure component driving every Plugin Instance.
type Engine struct {
	mu  sync.RWMutex
	cfg *Config
	log *zap.Logger

	instances map[string]*Instance

	catalogue atomic.Pointer[Catalogue]
	sessions  *session.Controller

	metrics *statsCollector
	watcher *manifestwatch.Watcher

	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// Init implements endure's lifecycle contract.
func (e *Engine) Init(cfg Configurer, log Logger) error {
	const op = rrerrors.Op("engine_init")

	if !cfg.Has(PluginName) {
		return rrerrors.E(op, rrerrors.Disabled)
	}

	e.cfg = &Config{}
	if err := cfg.UnmarshalKey(PluginName, e.cfg); err != nil {
		return rrerrors.E(op, err)
	}
	if err := e.cfg.InitDefaults(); err != nil {
		return rrerrors.E(op, err)
	}

	e.log = log.NamedLogger(PluginName)
	e.instances = make(map[string]*Instance)
	e.sessions = session.New()
	e.metrics = newStatsCollector()
	e.catalogue.Store(Build(nil))
	e.ctx, e.cancel = context.WithCancel(context.Background())

	return nil
}

// Serve discovers and starts every persistent plugin, returning a channel
// that carries a plugin-discovery or manifest-watcher setup error, if
// either fails; background tasks never send on it.
func (e *Engine) Serve() chan error {
	errCh := make(chan error, 1)

	manifests, err := discover(e.cfg.PluginsDir)
	if err != nil {
		e.log.Error("plugin discovery failed", zap.Error(err))
		errCh <- err
		return errCh
	}

	watcher, err := manifestwatch.New(e.cfg.ManifestDebounce, e.log, e.reloadManifest)
	if err != nil {
		e.log.Error("manifest watcher setup failed", zap.Error(err))
		errCh <- err
		return errCh
	}
	e.watcher = watcher

	for name, m := range manifests {
		inst := NewInstance(m, m.Persistent, e.log)
		e.mu.Lock()
		e.instances[name] = inst
		e.mu.Unlock()

		if err := e.watcher.Add(filepath.Dir(m.SourcePath), name); err != nil {
			e.log.Warn("manifest watch registration failed", zap.String("plugin", name), zap.Error(err))
		}

		if !m.Persistent {
			continue
		}
		if err := e.startInstance(e.ctx, inst); err != nil {
			e.log.Error("plugin startup failed", zap.String("plugin", name), zap.Error(err))
			continue
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.watcher.Run()
	}()

	e.rebuildCatalogue()
	e.log.Info("engine serving", zap.Int("plugins", len(e.instances)))
	return errCh
}

// startInstance spawns the process, sends "initialize" with the bounded
// timeout, and starts the watchdog loop.
func (e *Engine) startInstance(ctx context.Context, inst *Instance) error {
	const op = rrerrors.Op("engine_start_instance")

	logDir := e.cfg.LogDir
	env := map[string]string{"PLUGIN_DATA_DIR": inst.Manifest.Dir()}
	if err := inst.Start(ctx, logDir, env); err != nil {
		return rrerrors.E(op, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, e.cfg.InitializeTimeout)
	defer cancel()
	id := inst.NextID()
	req, err := jsonrpc.NewRequest(id, jsonrpc.MethodInitialize, nil)
	if err != nil {
		return rrerrors.E(op, err)
	}
	if _, err := inst.Call(initCtx, id, req); err != nil {
		return rrerrors.E(op, err)
	}
	e.metrics.SetPluginState(inst.Name(), true)

	wdCfg := watchdog.NewConfig(inst.Manifest.TetherConfig)
	wd := watchdog.New(inst.Name(), wdCfg)
	inst.Watchdog = wd

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		wd.Run(e.ctx, func(pingCtx context.Context) error {
			id := inst.NextID()
			req, err := jsonrpc.NewRequest(id, jsonrpc.MethodPing, jsonrpc.PingParams{Timestamp: now().Unix()})
			if err != nil {
				return err
			}
			callCtx, cancel := context.WithTimeout(pingCtx, wdCfg.Timeout)
			defer cancel()
			_, err = inst.Call(callCtx, id, req)
			if err == nil {
				wd.NotifyPong()
			}
			e.metrics.SetMissedPongs(inst.Name(), wd.MissedPongs())
			return err
		}, func() {
			e.log.Warn("watchdog killing unresponsive plugin", zap.String("plugin", inst.Name()))
			_ = inst.Kill()
			e.metrics.SetPluginState(inst.Name(), false)
		})
	}()

	if mcp := inst.Manifest.MCP; mcp != nil && mcp.LaunchOnStartup {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			time.Sleep(e.cfg.MCPGracePeriod)
			e.reloadManifest(inst.Name())
		}()
	}

	return nil
}

// reloadManifest re-reads a plugin's manifest.json from disk and rebuilds
// the catalogue, without killing the plugin.
func (e *Engine) reloadManifest(pluginName string) {
	e.mu.RLock()
	inst := e.instances[pluginName]
	e.mu.RUnlock()
	if inst == nil {
		return
	}

	reloaded, err := manifest.Load(inst.Manifest.SourcePath)
	if err != nil {
		e.log.Warn("manifest reload failed, retaining previous view", zap.String("plugin", pluginName), zap.Error(err))
		return
	}

	e.mu.Lock()
	inst.Manifest = reloaded
	e.mu.Unlock()
	e.rebuildCatalogue()
}

func (e *Engine) rebuildCatalogue() {
	e.mu.RLock()
	manifests := make(map[string]*manifest.Manifest, len(e.instances))
	for name, inst := range e.instances {
		manifests[name] = inst.Manifest
	}
	e.mu.RUnlock()
	e.catalogue.Store(Build(manifests))
}

// Catalogue returns the current immutable function catalogue snapshot.
func (e *Engine) Catalogue() *Catalogue { return e.catalogue.Load() }

func (e *Engine) instance(name string) *Instance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.instances[name]
}

// ListPlugins is the diagnostic query surface: a read-only view backed
// entirely by existing state.
func (e *Engine) ListPlugins() []PluginStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]PluginStatus, 0, len(e.instances))
	for name, inst := range e.instances {
		status := PluginStatus{Name: name, State: inst.State().String(), Persistent: inst.Persistent}
		if inst.Watchdog != nil {
			status.MissedPongs = inst.Watchdog.MissedPongs()
		}
		out = append(out, status)
	}
	return out
}

// Describe returns the full function catalogue for diagnostics.
func (e *Engine) Describe() []FunctionRef {
	return e.Catalogue().Describe()
}

// PluginStatus is ListPlugins' per-plugin row.
type PluginStatus struct {
	Name        string
	State       string
	Persistent  bool
	MissedPongs int
}

// Stop shuts every instance down gracefully-then-forced and stops
// background tasks.
func (e *Engine) Stop(ctx context.Context) error {
	e.cancel()

	if e.watcher != nil {
		_ = e.watcher.Close()
	}

	e.mu.RLock()
	instances := make([]*Instance, 0, len(e.instances))
	for _, inst := range e.instances {
		instances = append(instances, inst)
	}
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, inst := range instances {
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()
			_ = inst.Shutdown(ctx, e.cfg.GracefulShutdown, e.cfg.ForceShutdown)
			e.metrics.SetPluginState(inst.Name(), false)
		}(inst)
	}
	wg.Wait()
	e.wg.Wait()
	return nil
}

// Name implements endure's component contract.
func (e *Engine) Name() string { return PluginName }

// Weight implements endure's dependency-resolution ordering contract.
func (e *Engine) Weight() uint { return 10 }

// MetricsCollector exposes prometheus collectors.
func (e *Engine) MetricsCollector() []interface{} {
	return []interface{}{e.metrics}
}

// RPC exposes no RPC surface; plugin processes are reached over their own
// stdio transport, not a shared worker-pool RPC service.
func (e *Engine) RPC() interface{} { return nil }

// Collects declares no endure dependency injection points: Init takes
// everything it needs (Configurer, Logger) directly.
func (e *Engine) Collects() []*dep.In { return nil }

// discover scans pluginsDir for subdirectories containing a valid
// manifest.json.
func discover(pluginsDir string) (map[string]*manifest.Manifest, error) {
	const op = rrerrors.Op("engine_discover")

	entries, err := os.ReadDir(pluginsDir)
	if err != nil {
		return nil, rrerrors.E(op, err)
	}

	out := make(map[string]*manifest.Manifest)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(pluginsDir, entry.Name(), "manifest.json")
		m, err := manifest.Load(path)
		if err != nil {
			continue
		}
		out[m.Name] = m
	}
	return out, nil
}

// now is overridable in tests.
var now = time.Now
