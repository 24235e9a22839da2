package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/google/uuid"
)

func TestUUIDv7GeneratorProducesValidSortableIDs(t *testing.T) {
	g := UUIDv7Generator{}
	a := g.Generate()
	b := g.Generate()

	ua, err := uuid.Parse(a)
	assert.NoError(t, err)
	assert.Equal(t, uuid.Version(7), ua.Version())
	assert.NotEqual(t, a, b)
}

func TestFixedGeneratorReturnsInOrderThenPanics(t *testing.T) {
	g := NewFixedGenerator("one", "two")
	assert.Equal(t, "one", g.Generate())
	assert.Equal(t, "two", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestSeqGenerator(t *testing.T) {
	g := NewSeqGenerator("exec")
	assert.Equal(t, "exec-1", g.Generate())
	assert.Equal(t, "exec-2", g.Generate())
	assert.Equal(t, "exec-3", g.Generate())
}

func TestClockSequence(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())

	r := NewClockAt(41)
	assert.Equal(t, int64(42), r.Next())
}
