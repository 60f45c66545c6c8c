package watchdog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gassist/plugin-engine/internal/manifest"
)

func fastConfig() Config {
	return Config{Interval: 10 * time.Millisecond, Timeout: 10 * time.Millisecond, MaxMissed: 2}
}

func TestNotifyPongResetsMissedCounter(t *testing.T) {
	w := New("p1", fastConfig())

	var sends int32
	send := func(ctx context.Context) error {
		atomic.AddInt32(&sends, 1)
		w.NotifyPong()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	killed := false
	w.Run(ctx, send, func() { killed = true })

	assert.False(t, killed)
	assert.Equal(t, 0, w.MissedPongs())
	assert.GreaterOrEqual(t, atomic.LoadInt32(&sends), int32(2))
}

func TestMissedPongsTriggerKillAtThreshold(t *testing.T) {
	w := New("p2", fastConfig())

	send := func(ctx context.Context) error { return nil } // never pongs

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	killCalled := make(chan struct{})
	w.Run(ctx, send, func() { close(killCalled) })

	select {
	case <-killCalled:
	case <-time.After(time.Second):
		t.Fatal("kill was not invoked after MaxMissed consecutive misses")
	}
	assert.GreaterOrEqual(t, w.MissedPongs(), 2)

	select {
	case <-w.Killed():
	default:
		t.Fatal("Killed channel should be closed once kill fires")
	}
}

func TestSendErrorCountsAsAMissedPong(t *testing.T) {
	w := New("p3", fastConfig())

	send := func(ctx context.Context) error { return assertErr{} }

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	killCalled := make(chan struct{})
	w.Run(ctx, send, func() { close(killCalled) })

	select {
	case <-killCalled:
	case <-time.After(time.Second):
		t.Fatal("send errors should still count toward the miss threshold")
	}
}

func TestNewConfigAppliesTetherOverrides(t *testing.T) {
	cfg := NewConfig(&manifest.TetherConfig{HeartbeatIntervalSeconds: 30, HeartbeatTimeoutSeconds: 15})
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, 15*time.Second, cfg.Timeout)

	def := NewConfig(nil)
	require.Equal(t, DefaultInterval, def.Interval)
	require.Equal(t, DefaultMaxMissed, def.MaxMissed)
}

type assertErr struct{}

func (assertErr) Error() string { return "ping send failed" }
