package http2

import (
	"github.com/huandu/skiplist"
)

type StreamState uint8

const (
	StreamActive StreamState = iota
	StreamReset
	StreamClosed
)

var streamStateStr = map[StreamState]string{
	StreamActive: "Active",
	StreamReset:  "Reset",
	StreamClosed: "Closed",
}

func (s StreamState) String() string {
	name, ok := streamStateStr[s]
	if ok {
		return name
	}
	return "UNKNOW"
}

// StreamSet remembers per-stream state tags, ordered by stream id. Streams
// with no entry are Active. The peer opens streams with increasing ids, so
// when the table fills up the lowest (oldest) ids are pruned first; a peer
// cannot grow the table without bound.
type StreamSet struct {
	list       *skiplist.SkipList
	maxTracked int
}

func NewStreamSet(maxTracked int) *StreamSet {
	var s StreamSet
	s.list = skiplist.New(skiplist.Uint32)
	s.maxTracked = maxTracked
	return &s
}

func (s *StreamSet) Mark(streamID uint32, state StreamState) {
	if state == StreamActive {
		s.list.Remove(streamID)
		return
	}
	s.list.Set(streamID, state)
	for s.list.Len() > s.maxTracked {
		s.list.RemoveElement(s.list.Front())
	}
}

func (s *StreamSet) Get(streamID uint32) StreamState {
	ele := s.list.Get(streamID)
	if ele == nil {
		return StreamActive
	}
	return ele.Value.(StreamState)
}

func (s *StreamSet) Len() int {
	return s.list.Len()
}
