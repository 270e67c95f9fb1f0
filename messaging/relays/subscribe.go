package relays

import (
	"context"
	"fmt"
	"time"

	"civicmesh/engine/library"
	"github.com/nbd-wtf/go-nostr"
)

// Remote is a value another node wrote to the mesh.
type Remote struct {
	Key    string
	Value  []byte
	Author library.Account
}

// Intent is a vote intent published to the relays.
type Intent struct {
	ID      library.Sha256
	Author  library.Account
	Content []byte
}

// deliver hands one verified event on. It returns false once ctx is done.
type deliver func(ctx context.Context, ev *nostr.Event) bool

// Subscribe streams every peer's application events to out until ctx is
// done. Our own events are skipped. A relay that goes quiet for longer than
// idle is reconnected.
func (t *Transport) Subscribe(ctx context.Context, out chan<- Remote, idle time.Duration) {
	t.subscribeAll(ctx, KindAppData, idle, func(ctx context.Context, ev *nostr.Event) bool {
		if ev.PubKey == t.pk {
			return true
		}
		key, ok := library.GetFirstTag(*ev, "d")
		if !ok {
			return true
		}
		t.pushCache(key, *ev)
		select {
		case out <- Remote{Key: key, Value: []byte(ev.Content), Author: ev.PubKey}:
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// SubscribeIntents streams vote intents to out until ctx is done. The same
// intent arrives once per relay that holds it.
func (t *Transport) SubscribeIntents(ctx context.Context, out chan<- Intent, idle time.Duration) {
	t.subscribeAll(ctx, KindVoteIntent, idle, func(ctx context.Context, ev *nostr.Event) bool {
		select {
		case out <- Intent{ID: ev.ID, Author: ev.PubKey, Content: []byte(ev.Content)}:
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (t *Transport) subscribeAll(ctx context.Context, kind int, idle time.Duration, fn deliver) {
	if idle <= 0 {
		idle = 2 * time.Minute
	}
	for _, url := range t.urls {
		go t.subscribeTo(ctx, url, kind, idle, fn)
	}
}

func (t *Transport) subscribeTo(ctx context.Context, url string, kind int, idle time.Duration, fn deliver) {
	for ctx.Err() == nil {
		if err := t.follow(ctx, url, kind, idle, fn); err != nil {
			library.LogCLI(fmt.Sprintf("subscription to %s ended: %s", url, err), 3)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
			library.LogCLI("Restarting subscription to "+url, 4)
		}
	}
}

func (t *Transport) follow(ctx context.Context, url string, kind int, idle time.Duration, fn deliver) error {
	r, err := t.relay(ctx, url)
	if err != nil {
		return err
	}
	tags := make(map[string][]string)
	tags["t"] = []string{AppTag}
	since := nostr.Timestamp(time.Now().Add(-time.Hour).Unix())
	filters := nostr.Filters{nostr.Filter{
		Kinds: []int{kind},
		Tags:  tags,
		Since: &since,
	}}
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sub, err := r.Subscribe(subCtx, filters)
	if err != nil {
		t.drop(url)
		return err
	}
	defer sub.Unsub()
	library.LogCLI(fmt.Sprintf("Connected to %s for kind %d", url, kind), 4)
	lastEventTime := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-sub.Events:
			if ev == nil {
				t.drop(url)
				return fmt.Errorf("relay closed the subscription")
			}
			lastEventTime = time.Now()
			if ok, _ := ev.CheckSignature(); !ok {
				continue
			}
			if !fn(ctx, ev) {
				return nil
			}
		case <-time.After(idle):
			// the connection is shared, so only this subscription restarts
			if time.Since(lastEventTime) > idle {
				return fmt.Errorf("no events for %s", idle)
			}
		}
	}
}
