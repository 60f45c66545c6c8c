// Package session implements the passthrough session controller: a
// single-slot Idle -> Owned{plugin,deadline} -> Idle state
// machine that decides whether an incoming user turn routes to the
// currently-owning plugin's "input" method or through ordinary function
// resolution to "execute".
package session

import (
	"sync"
	"time"
)

// DefaultTTL is the session deadline applied when a caller does not
// specify one.
const DefaultTTL = 5 * time.Minute

// now is overridable in tests.
var now = time.Now

// Controller holds at most one owned session at a time behind a single
// mutex. All methods are non-blocking.
type Controller struct {
	mu       sync.Mutex
	owner    string
	deadline time.Time
}

// New returns an idle Controller.
func New() *Controller {
	return &Controller{}
}

// Acquire makes plugin the session owner until ttl elapses, overwriting
// any previous owner (including re-acquiring for the same plugin, which
// simply refreshes the deadline). ttl <= 0 uses DefaultTTL.
func (c *Controller) Acquire(plugin string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owner = plugin
	c.deadline = now().Add(ttl)
}

// Release clears ownership if plugin currently holds it. Releasing a
// session that isn't owned, or owned by a different plugin, is a no-op
// that reports false.
func (c *Controller) Release(plugin string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owner == "" || c.owner != plugin {
		return false
	}
	c.owner = ""
	c.deadline = time.Time{}
	return true
}

// Owner reports the current owning plugin, if any. An owner past its
// deadline is treated as idle and cleared as a side effect (the
// Owned -> Idle transition on expiry).
func (c *Controller) Owner() (plugin string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owner == "" {
		return "", false
	}
	if now().After(c.deadline) {
		c.owner = ""
		c.deadline = time.Time{}
		return "", false
	}
	return c.owner, true
}

// IsIdle reports whether the controller currently has no live owner.
func (c *Controller) IsIdle() bool {
	_, ok := c.Owner()
	return !ok
}
