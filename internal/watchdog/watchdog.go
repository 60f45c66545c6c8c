// Package watchdog implements the per-plugin liveness monitor: a
// periodic ping tick, a missed-pong counter, and a kill
// trigger once that counter reaches its threshold.
package watchdog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gassist/plugin-engine/internal/manifest"
)

// Defaults, overridden per plugin by manifest.TetherConfig when present.
const (
	DefaultInterval  = 5 * time.Second
	DefaultTimeout   = 1 * time.Second
	DefaultMaxMissed = 2
)

// Config is one plugin's liveness policy.
type Config struct {
	Interval  time.Duration
	Timeout   time.Duration
	MaxMissed int
}

// NewConfig builds the effective config for a plugin, applying
// tether.HeartbeatIntervalSeconds/HeartbeatTimeoutSeconds on top of the
// package defaults when tether is non-nil and sets them.
func NewConfig(tether *manifest.TetherConfig) Config {
	cfg := Config{Interval: DefaultInterval, Timeout: DefaultTimeout, MaxMissed: DefaultMaxMissed}
	if tether == nil {
		return cfg
	}
	if tether.HeartbeatIntervalSeconds > 0 {
		cfg.Interval = time.Duration(tether.HeartbeatIntervalSeconds) * time.Second
	}
	if tether.HeartbeatTimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(tether.HeartbeatTimeoutSeconds) * time.Second
	}
	return cfg
}

// SendPingFunc sends a ping request to the plugin. It returns promptly; the
// Watchdog does its own waiting for the matching pong via NotifyPong.
type SendPingFunc func(ctx context.Context) error

// KillFunc terminates the monitored plugin process.
type KillFunc func()

// Watchdog monitors one plugin. Its zero value is not usable; use New.
type Watchdog struct {
	name   string
	cfg    Config
	missed int32
	pong   chan struct{}
	killed chan struct{}
}

// New creates a Watchdog for the plugin named name.
func New(name string, cfg Config) *Watchdog {
	return &Watchdog{
		name:   name,
		cfg:    cfg,
		pong:   make(chan struct{}, 1),
		killed: make(chan struct{}),
	}
}

// Name returns the monitored plugin's name.
func (w *Watchdog) Name() string { return w.name }

// MissedPongs returns the current consecutive-miss count.
func (w *Watchdog) MissedPongs() int { return int(atomic.LoadInt32(&w.missed)) }

// NotifyPong records a pong received for this plugin, resetting the
// missed-pong counter. The engine's ping sender calls this when a ping's
// response arrives.
func (w *Watchdog) NotifyPong() {
	select {
	case w.pong <- struct{}{}:
	default:
	}
}

// Killed reports whether this Watchdog has already triggered a kill.
func (w *Watchdog) Killed() <-chan struct{} { return w.killed }

// Run drives the ping/timeout/kill loop until ctx is cancelled or kill
// fires. send is invoked once per tick; if no pong arrives within
// cfg.Timeout, the miss counter increments. At cfg.MaxMissed consecutive
// misses, kill is invoked exactly once and Run returns.
func (w *Watchdog) Run(ctx context.Context, send SendPingFunc, kill KillFunc) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.tick(ctx, send) {
				close(w.killed)
				kill()
				return
			}
		}
	}
}

// tick sends one ping and waits for its pong, returning true if the
// consecutive-miss threshold has now been reached.
func (w *Watchdog) tick(ctx context.Context, send SendPingFunc) bool {
	// Drain any stale pong left over from a prior, already-timed-out tick.
	select {
	case <-w.pong:
	default:
	}

	if err := send(ctx); err != nil {
		return w.recordMiss()
	}

	timer := time.NewTimer(w.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-w.pong:
		atomic.StoreInt32(&w.missed, 0)
		return false
	case <-timer.C:
		return w.recordMiss()
	case <-ctx.Done():
		return false
	}
}

func (w *Watchdog) recordMiss() bool {
	n := atomic.AddInt32(&w.missed, 1)
	return int(n) >= w.cfg.MaxMissed
}
