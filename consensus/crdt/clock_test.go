package crdt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockTickIsStrictlyIncreasing(t *testing.T) {
	c := NewClock()
	var last Timestamp
	for i := 0; i < 100; i++ {
		next := c.Tick()
		require.Greater(t, next, last)
		last = next
	}
	assert.Equal(t, Timestamp(100), c.Now())
}

func TestClockMergeIsMaxPlusOne(t *testing.T) {
	for _, tc := range []struct {
		local, peer, want Timestamp
	}{
		{0, 0, 1},
		{0, 7, 8},
		{7, 0, 8},
		{5, 5, 6},
		{10, 3, 11},
		{3, 10, 11},
	} {
		c := NewClock()
		for i := Timestamp(0); i < tc.local; i++ {
			c.Tick()
		}
		assert.Equal(t, tc.want, c.Merge(tc.peer), "local=%d peer=%d", tc.local, tc.peer)
		assert.Equal(t, tc.want, c.Now())
	}
}

func TestClockNeverDecreasesUnderConcurrency(t *testing.T) {
	c := NewClock()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if j%2 == 0 {
					c.Tick()
				} else {
					c.Merge(Timestamp(i))
				}
			}
		}(i)
	}
	wg.Wait()
	assert.GreaterOrEqual(t, c.Now(), Timestamp(400))
}
