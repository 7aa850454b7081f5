package netfd

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFdRefLastReferenceDestroys(t *testing.T) {
	var r fdRef
	require.True(t, r.incref())
	require.True(t, r.incref())

	require.True(t, r.increfAndClose())
	assert.True(t, r.closing())
	assert.False(t, r.incref())
	assert.False(t, r.increfAndClose())

	assert.False(t, r.decref())
	assert.False(t, r.decref())
	assert.True(t, r.decref())
}

func TestFdRefCloseWithoutUsers(t *testing.T) {
	var r fdRef
	assert.False(t, r.closing())
	require.True(t, r.increfAndClose())
	assert.True(t, r.decref())
}

func TestFdRefUnbalancedDecrefPanics(t *testing.T) {
	var r fdRef
	assert.Panics(t, func() { r.decref() })
}

func TestFdRefConcurrentUsersAndClose(t *testing.T) {
	var r fdRef
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		destroyed int
	)
	drop := func() {
		if r.decref() {
			mu.Lock()
			destroyed++
			mu.Unlock()
		}
	}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if !r.incref() {
					return
				}
				drop()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if r.increfAndClose() {
			drop()
		}
	}()
	wg.Wait()

	assert.True(t, r.closing())
	assert.Equal(t, 1, destroyed)
}
