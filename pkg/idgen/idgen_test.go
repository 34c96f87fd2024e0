package idgen

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewHasPrefix(t *testing.T) {
	g := NewGenerator()
	id := g.New(PrefixTask)
	assert.True(t, strings.HasPrefix(id, "task_"))
}

func TestGeneratorNewIsUnique(t *testing.T) {
	g := NewGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := g.New(PrefixOutcome)
		require.False(t, seen[id], "duplicate id minted: %s", id)
		seen[id] = true
	}
}

func TestGeneratorCounterIsMonotonic(t *testing.T) {
	g := NewGenerator()
	parts := func(id string) string {
		fields := strings.Split(id, "_")
		require.Len(t, fields, 3)
		return fields[1]
	}
	a := parts(g.New(PrefixWorker))
	b := parts(g.New(PrefixWorker))
	assert.Less(t, a, b)
}

func TestProgressSeqMonotonic(t *testing.T) {
	seq := NewProgressSeq(0)
	prev := int64(0)
	for i := 0; i < 100; i++ {
		next := seq.Next()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestFakeClockAdvance(t *testing.T) {
	c := NewFakeClock(1000)
	assert.EqualValues(t, 1000, c.NowMillis())
	c.Advance(5 * time.Second)
	assert.EqualValues(t, 6000, c.NowMillis())
	c.Set(42)
	assert.EqualValues(t, 42, c.NowMillis())
}
