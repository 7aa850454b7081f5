package poll

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPollCacheAllocatesInBlocks(t *testing.T) {
	var c pollCache

	first := c.alloc()
	allocated, free := c.stats()
	assert.Greater(t, allocated, 1)
	assert.Equal(t, allocated-1, free)
	assert.Nil(t, first.link)
	assert.Same(t, first, first.rop.pd)
	assert.True(t, first.rop.isRead)
	assert.False(t, first.wop.isRead)

	seen := map[*PollData]bool{first: true}
	for i := 0; i < free; i++ {
		pd := c.alloc()
		assert.False(t, seen[pd], "record handed out twice")
		seen[pd] = true
	}
	_, free = c.stats()
	assert.Equal(t, 0, free)

	// an empty list grows by another block
	c.alloc()
	grown, _ := c.stats()
	assert.Equal(t, 2*allocated, grown)
}

func TestPollCacheReleaseIsLIFO(t *testing.T) {
	var c pollCache
	a := c.alloc()
	b := c.alloc()
	_, free := c.stats()

	c.release(a)
	c.release(b)
	_, after := c.stats()
	assert.Equal(t, free+2, after)

	assert.Same(t, b, c.alloc())
	assert.Same(t, a, c.alloc())
}
