package poll

import (
	"sync"
	"unsafe"
)

const pollBlockSize = 4 * 1024

// pollCache recycles records. Records are allocated a block at a time and
// linked through PollData.link while free.
type pollCache struct {
	mu    sync.Mutex
	first *PollData

	allocated int // records ever created
	free      int // records currently on the list
}

func (c *pollCache) alloc() *PollData {
	c.mu.Lock()
	if c.first == nil {
		const pdSize = unsafe.Sizeof(PollData{})
		n := pollBlockSize / pdSize
		if n == 0 {
			n = 1
		}
		for i := uintptr(0); i < n; i++ {
			pd := newPollData()
			pd.pooled = true
			pd.link = c.first
			c.first = pd
		}
		c.allocated += int(n)
		c.free += int(n)
	}
	pd := c.first
	c.first = pd.link
	pd.link = nil
	c.free--
	c.mu.Unlock()
	return pd
}

// release puts pd back on the free list. The caller has already reset pd and
// marked it pooled under its own lock.
func (c *pollCache) release(pd *PollData) {
	c.mu.Lock()
	pd.link = c.first
	c.first = pd
	c.free++
	c.mu.Unlock()
}

func (c *pollCache) stats() (allocated, free int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocated, c.free
}
