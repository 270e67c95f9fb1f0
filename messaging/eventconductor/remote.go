package eventconductor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"civicmesh/consensus/crdt"
	"civicmesh/engine/library"
	"civicmesh/messaging/relays"
	"civicmesh/state/sentiment"
)

// entryID names one entry as written by one node. Clocks are per process,
// so two nodes can stamp different entries with the same timestamp; the
// content hash keeps those apart.
func entryID(key string, e crdt.Entry[sentiment.Event]) string {
	b, err := json.Marshal(e)
	if err != nil {
		library.LogCLI(err.Error(), 1)
	}
	return fmt.Sprintf("%s@%d#%s", key, e.Timestamp, library.Sha256Sum(b))
}

// ApplyRemote merges a vote entry read from the mesh. It reports whether the
// entry was adopted into the registers and the aggregate. Entries already
// applied are ignored.
func (c *Conductor) ApplyRemote(key string, value []byte) (bool, error) {
	if !strings.HasPrefix(key, votePrefix) {
		return false, fmt.Errorf("%w: key %s is not a vote", ErrMalformedEntry, key)
	}
	var entry crdt.Entry[sentiment.Event]
	if err := json.Unmarshal(value, &entry); err != nil {
		return false, fmt.Errorf("%w: %s", ErrMalformedEntry, err.Error())
	}
	ev := entry.Value
	switch {
	case ev.TopicID == "" || ev.PointID == "" || ev.Voter == "":
		return false, fmt.Errorf("%w: missing ids under %s", ErrMalformedEntry, key)
	case ev.Agreement < sentiment.Disagree || ev.Agreement > sentiment.Agree:
		return false, fmt.Errorf("%w: agreement %d", ErrMalformedEntry, ev.Agreement)
	case VoteKey(ev.TopicID, ev.PointID, ev.Voter) != key:
		return false, fmt.Errorf("%w: entry does not belong under %s", ErrMalformedEntry, key)
	}
	if !c.seen.MarkIfUnseen(entryID(key, entry)) {
		return false, nil
	}
	if !c.votes.Merge(key, entry) {
		return false, nil
	}
	c.apply(ev)
	return true, nil
}

// Run applies remote entries from in until ctx is done. Entries are queued
// and applied in arrival order every interval.
func (c *Conductor) Run(ctx context.Context, in <-chan relays.Remote, interval time.Duration) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	stack := library.NewStack[relays.Remote](16)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case r := <-in:
			stack.Push(r)
		case <-ticker.C:
			c.drain(stack)
		case <-ctx.Done():
			c.drain(stack)
			return
		}
	}
}

func (c *Conductor) drain(stack *library.Stack[relays.Remote]) {
	for {
		r, ok := stack.Pop()
		if !ok {
			return
		}
		adopted, err := c.ApplyRemote(r.Key, r.Value)
		if err != nil {
			library.LogCLI(fmt.Sprintf("dropping entry from %s: %s", r.Author, err.Error()), 3)
			continue
		}
		if adopted {
			library.LogCLI(fmt.Sprintf("adopted %s from %s", r.Key, r.Author), 3)
		}
	}
}
