package http2

import (
	"sync"
)

// ConnSet tracks the live connections of a server so shutdown can reach
// them. Connections register on accept and deregister when Serve returns.
type ConnSet struct {
	rw       sync.RWMutex
	internal map[*Conn]int
}

func NewConnSet() *ConnSet {
	return &ConnSet{internal: make(map[*Conn]int)}
}

func (set *ConnSet) Add(c *Conn) {
	set.rw.Lock()
	defer set.rw.Unlock()

	set.internal[c] = 1
}

func (set *ConnSet) Remove(c *Conn) {
	set.rw.Lock()
	defer set.rw.Unlock()

	delete(set.internal, c)
}

func (set *ConnSet) ToArray() []*Conn {
	set.rw.RLock()
	defer set.rw.RUnlock()

	res := make([]*Conn, len(set.internal))
	i := 0
	for key := range set.internal {
		res[i] = key
		i++
	}
	return res
}

func (set *ConnSet) Size() int {
	set.rw.RLock()
	defer set.rw.RUnlock()

	return len(set.internal)
}

func (set *ConnSet) CloseAll() {
	for _, conn := range set.ToArray() {
		_ = conn.Close()
	}
}
