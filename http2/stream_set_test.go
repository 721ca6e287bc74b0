package http2

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamSetDefaultActive(t *testing.T) {
	s := NewStreamSet(MaxTrackedStreams)
	assert.Equal(t, StreamActive, s.Get(3))
	assert.Equal(t, 0, s.Len())
}

func TestStreamSetMarkAndGet(t *testing.T) {
	s := NewStreamSet(MaxTrackedStreams)
	s.Mark(3, StreamReset)
	s.Mark(5, StreamClosed)

	assert.Equal(t, StreamReset, s.Get(3))
	assert.Equal(t, StreamClosed, s.Get(5))
	assert.Equal(t, StreamActive, s.Get(7))
	assert.Equal(t, 2, s.Len())

	// marking Active drops the entry again
	s.Mark(3, StreamActive)
	assert.Equal(t, StreamActive, s.Get(3))
	assert.Equal(t, 1, s.Len())
}

func TestStreamSetPrunesLowestIDs(t *testing.T) {
	s := NewStreamSet(4)
	for id := uint32(1); id <= 13; id += 2 {
		s.Mark(id, StreamClosed)
	}
	assert.Equal(t, 4, s.Len())

	// the oldest (lowest) ids fall back to Active
	assert.Equal(t, StreamActive, s.Get(1))
	assert.Equal(t, StreamActive, s.Get(3))
	assert.Equal(t, StreamClosed, s.Get(7))
	assert.Equal(t, StreamClosed, s.Get(13))
}

func TestStreamStateString(t *testing.T) {
	assert.Equal(t, "Active", StreamActive.String())
	assert.Equal(t, "Reset", StreamReset.String())
	assert.Equal(t, "Closed", StreamClosed.String())
}
