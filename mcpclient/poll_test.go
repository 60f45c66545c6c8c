package mcpclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffToolsAddedAndRemoved(t *testing.T) {
	prev := []Tool{{Name: "A"}, {Name: "B"}}
	next := []Tool{{Name: "A"}, {Name: "C"}}

	added, removed := diffTools(prev, next)

	assert.Len(t, added, 1)
	assert.Equal(t, "C", added[0].Name)
	assert.Len(t, removed, 1)
	assert.Equal(t, "B", removed[0].Name)
}

func TestDiffToolsNoChange(t *testing.T) {
	prev := []Tool{{Name: "A"}, {Name: "B"}}
	next := []Tool{{Name: "A"}, {Name: "B"}}

	added, removed := diffTools(prev, next)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestDiffToolsSequentialTicksAddAndRemove(t *testing.T) {
	// [A, B] -> [A, B] (no diff) -> [A, C] (added=[C], removed=[B])
	initial := []Tool{{Name: "A"}, {Name: "B"}}
	tick1 := []Tool{{Name: "A"}, {Name: "B"}}
	added, removed := diffTools(initial, tick1)
	assert.Empty(t, added)
	assert.Empty(t, removed)

	tick2 := []Tool{{Name: "A"}, {Name: "C"}}
	added, removed = diffTools(tick1, tick2)
	assert.Equal(t, []Tool{{Name: "C"}}, added)
	assert.Equal(t, []Tool{{Name: "B"}}, removed)
}
