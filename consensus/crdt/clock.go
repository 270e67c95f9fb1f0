// Package crdt holds the replicated primitives votes are ordered with: a
// Lamport style logical clock and last-write-wins registers built on it.
package crdt

import (
	"github.com/sasha-s/go-deadlock"
)

// Timestamp is a process-local logical time. It is only comparable within
// one register's merge history.
type Timestamp = uint64

// Clock is a monotonic causal counter.
type Clock struct {
	counter Timestamp
	mu      *deadlock.Mutex
}

func NewClock() *Clock {
	return &Clock{mu: &deadlock.Mutex{}}
}

// Tick advances the clock and returns the new value.
func (c *Clock) Tick() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	return c.counter
}

// Merge folds in a timestamp observed from a peer so that the local clock
// strictly dominates it.
func (c *Clock) Merge(peer Timestamp) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	if peer > c.counter {
		c.counter = peer
	}
	c.counter++
	return c.counter
}

func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}
