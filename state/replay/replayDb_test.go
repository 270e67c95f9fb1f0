package replay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkedOperationStaysSeen(t *testing.T) {
	s := New()
	assert.False(t, s.IsOperationSeen("op-1"))
	s.MarkOperationSeen("op-1")
	assert.True(t, s.IsOperationSeen("op-1"))
	s.MarkOperationSeen("op-1")
	assert.True(t, s.IsOperationSeen("op-1"))
	assert.Equal(t, 1, s.Len())
	assert.False(t, s.IsOperationSeen("op-2"))
}

func TestResetForgetsEverything(t *testing.T) {
	s := New()
	s.MarkOperationSeen("a")
	s.MarkOperationSeen("b")
	s.ResetSeenOperations()
	assert.False(t, s.IsOperationSeen("a"))
	assert.Equal(t, 0, s.Len())
}

func TestMarkIfUnseenHasOneWinner(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.MarkIfUnseen("op") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestSeenIsSorted(t *testing.T) {
	s := New()
	s.MarkOperationSeen("c")
	s.MarkOperationSeen("a")
	s.MarkOperationSeen("b")
	assert.Equal(t, []string{"a", "b", "c"}, s.Seen())
}
