package mcpclient

import (
	"context"
	"time"
)

// StartPolling runs a background poller with period cfg.PollInterval.
// Each tick calls tools/list, diffs against the
// previously known set, and invokes onChange when the set differs. It is
// the one piece of the sub-client that runs as a separate cooperative
// task from the plugin's main run loop, and it never holds the frame
// stream's write lock while idle — it only calls into the engine-facing
// SDK (e.g. a manifest rewrite) from within onChange.
//
// Calling StartPolling when cfg.PollInterval == 0 is a no-op, matching
// "poll_interval_s ≥ 0, 0 disables polling".
func (c *Client) StartPolling(ctx context.Context, onChange ChangeFunc) {
	if c.cfg.PollInterval <= 0 || onChange == nil {
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})
	done := c.pollDone
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				c.pollOnce(pollCtx, onChange)
			}
		}
	}()
}

// StopPolling halts the background poller, if running, and waits for its
// goroutine to exit.
func (c *Client) StopPolling() {
	c.mu.Lock()
	cancel := c.pollCancel
	done := c.pollDone
	c.pollCancel = nil
	c.pollDone = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

func (c *Client) pollOnce(ctx context.Context, onChange ChangeFunc) {
	previous := c.KnownTools()

	current, err := c.ListTools(ctx)
	if err != nil {
		// Offline: keep serving the last known tool set; the next tick
		// tries again.
		return
	}

	added, removed := diffTools(previous, current)
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	onChange(added, removed, current)
}

// diffTools computes which tools in next are new relative to prev, and
// which of prev's tools are no longer present in next, comparing by name.
func diffTools(prev, next []Tool) (added, removed []Tool) {
	prevByName := make(map[string]Tool, len(prev))
	for _, t := range prev {
		prevByName[t.Name] = t
	}
	nextByName := make(map[string]Tool, len(next))
	for _, t := range next {
		nextByName[t.Name] = t
	}

	for _, t := range next {
		if _, ok := prevByName[t.Name]; !ok {
			added = append(added, t)
		}
	}
	for _, t := range prev {
		if _, ok := nextByName[t.Name]; !ok {
			removed = append(removed, t)
		}
	}
	return added, removed
}
