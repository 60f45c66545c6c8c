package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAcquireThenOwnerReportsHolder(t *testing.T) {
	c := New()
	assert.True(t, c.IsIdle())

	c.Acquire("weatherbot", time.Minute)
	plugin, ok := c.Owner()
	assert.True(t, ok)
	assert.Equal(t, "weatherbot", plugin)
	assert.False(t, c.IsIdle())
}

func TestReleaseOnlySucceedsForCurrentOwner(t *testing.T) {
	c := New()
	c.Acquire("weatherbot", time.Minute)

	assert.False(t, c.Release("othervar"))
	_, ok := c.Owner()
	assert.True(t, ok)

	assert.True(t, c.Release("weatherbot"))
	assert.True(t, c.IsIdle())
}

func TestSessionExpiresAfterDeadline(t *testing.T) {
	restore := now
	defer func() { now = restore }()

	base := time.Now()
	now = func() time.Time { return base }

	c := New()
	c.Acquire("weatherbot", 5*time.Minute)

	now = func() time.Time { return base.Add(6 * time.Minute) }
	_, ok := c.Owner()
	assert.False(t, ok)
	assert.True(t, c.IsIdle())
}

func TestAcquireOverwritesPreviousOwner(t *testing.T) {
	c := New()
	c.Acquire("first", time.Minute)
	c.Acquire("second", time.Minute)

	plugin, ok := c.Owner()
	assert.True(t, ok)
	assert.Equal(t, "second", plugin)
}

func TestZeroTTLUsesDefault(t *testing.T) {
	restore := now
	defer func() { now = restore }()
	base := time.Now()
	now = func() time.Time { return base }

	c := New()
	c.Acquire("p", 0)

	now = func() time.Time { return base.Add(DefaultTTL - time.Second) }
	_, ok := c.Owner()
	assert.True(t, ok)

	now = func() time.Time { return base.Add(DefaultTTL + time.Second) }
	_, ok = c.Owner()
	assert.False(t, ok)
}
