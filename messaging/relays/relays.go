// Package relays carries mesh reads and writes over nostr relays. Every key
// is a NIP-78 application data event (a parameterized replaceable event whose
// d tag is the key) signed by the node wallet, so a relay keeps only the
// newest value per author and key.
package relays

import (
	"context"
	"fmt"
	"time"

	"civicmesh/engine/library"
	"civicmesh/messaging/mesh"
	"github.com/nbd-wtf/go-nostr"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/time/rate"
)

const (
	KindAppData = 30078
	// KindVoteIntent carries a vote for engines to admit.
	KindVoteIntent = 7078
	// AppTag marks our events so peers can subscribe to them.
	AppTag = "civicmesh"
)

type Config struct {
	URLs            []string
	PrivateKey      string
	PublishInterval time.Duration
	QueryTimeout    time.Duration
}

type Transport struct {
	urls         []string
	sk           string
	pk           library.Account
	queryTimeout time.Duration
	limiter      *rate.Limiter

	conns   map[string]*nostr.Relay
	connsMu *deadlock.Mutex

	cache   map[string]nostr.Event
	cacheMu *deadlock.Mutex

	// last created_at issued per key
	stamps   map[string]nostr.Timestamp
	stampsMu *deadlock.Mutex
}

func New(cfg Config) (*Transport, error) {
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("at least one relay is required")
	}
	pk, err := nostr.GetPublicKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("deriving relay identity: %w", err)
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 250 * time.Millisecond
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 2 * time.Second
	}
	return &Transport{
		urls:         cfg.URLs,
		sk:           cfg.PrivateKey,
		pk:           pk,
		queryTimeout: cfg.QueryTimeout,
		limiter:      rate.NewLimiter(rate.Every(cfg.PublishInterval), 4),
		conns:        make(map[string]*nostr.Relay),
		connsMu:      &deadlock.Mutex{},
		cache:        make(map[string]nostr.Event),
		cacheMu:      &deadlock.Mutex{},
		stamps:       make(map[string]nostr.Timestamp),
		stampsMu:     &deadlock.Mutex{},
	}, nil
}

func (t *Transport) Account() library.Account {
	return t.pk
}

func (t *Transport) relay(ctx context.Context, url string) (*nostr.Relay, error) {
	t.connsMu.Lock()
	r, ok := t.conns[url]
	t.connsMu.Unlock()
	if ok {
		return r, nil
	}
	r, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}
	t.connsMu.Lock()
	defer t.connsMu.Unlock()
	if existing, ok := t.conns[url]; ok {
		r.Close()
		return existing, nil
	}
	t.conns[url] = r
	return r, nil
}

// drop forgets a connection that failed so the next call reconnects.
func (t *Transport) drop(url string) {
	t.connsMu.Lock()
	defer t.connsMu.Unlock()
	if r, ok := t.conns[url]; ok {
		r.Close()
		delete(t.conns, url)
	}
}

func (t *Transport) Close() {
	t.connsMu.Lock()
	defer t.connsMu.Unlock()
	for url, r := range t.conns {
		r.Close()
		delete(t.conns, url)
	}
}

func (t *Transport) pushCache(key string, e nostr.Event) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	if held, ok := t.cache[key]; ok && held.CreatedAt > e.CreatedAt {
		return
	}
	t.cache[key] = e
}

// FetchCache returns the newest event this transport has seen for key.
func (t *Transport) FetchCache(key string) (nostr.Event, bool) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	e, ok := t.cache[key]
	return e, ok
}

// stamp returns a created_at for key that is later than any issued before.
// Relays keep one replaceable event per key and break same-second ties by
// id, so two writes in one second must not share a timestamp.
func (t *Transport) stamp(key string) nostr.Timestamp {
	t.stampsMu.Lock()
	defer t.stampsMu.Unlock()
	ts := nostr.Timestamp(time.Now().Unix())
	if last, ok := t.stamps[key]; ok && ts <= last {
		ts = last + 1
	}
	t.stamps[key] = ts
	return ts
}

func (t *Transport) makeEvent(key string, value []byte) (nostr.Event, error) {
	e := nostr.Event{
		PubKey:    t.pk,
		CreatedAt: t.stamp(key),
		Kind:      KindAppData,
		Tags:      nostr.Tags{nostr.Tag{"d", key}, nostr.Tag{"t", AppTag}},
		Content:   string(value),
	}
	e.ID = e.GetID()
	if err := e.Sign(t.sk); err != nil {
		return e, err
	}
	return e, nil
}

// Put publishes value to every relay. It succeeds if at least one relay took
// the event; it does not wait for the relays to store it.
func (t *Transport) Put(ctx context.Context, key string, value []byte) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	e, err := t.makeEvent(key, value)
	if err != nil {
		return fmt.Errorf("signing event for %s: %w", key, err)
	}
	if err := t.publish(ctx, e); err != nil {
		return fmt.Errorf("%w: no relay accepted %s: %v", mesh.ErrUnavailable, key, err)
	}
	t.pushCache(key, e)
	return nil
}

// PublishIntent signs content as a vote intent and sends it to every relay.
// Engines following the relays run it through admission.
func (t *Transport) PublishIntent(ctx context.Context, content []byte) (nostr.Event, error) {
	e := nostr.Event{
		PubKey:    t.pk,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      KindVoteIntent,
		Tags:      nostr.Tags{nostr.Tag{"t", AppTag}},
		Content:   string(content),
	}
	e.ID = e.GetID()
	if err := e.Sign(t.sk); err != nil {
		return e, fmt.Errorf("signing intent: %w", err)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return e, err
	}
	if err := t.publish(ctx, e); err != nil {
		return e, fmt.Errorf("%w: no relay accepted intent %s: %v", mesh.ErrUnavailable, e.ID, err)
	}
	return e, nil
}

// publish sends e to every relay and returns the last error if none took it.
func (t *Transport) publish(ctx context.Context, e nostr.Event) error {
	var wg = &deadlock.WaitGroup{}
	var mu = &deadlock.Mutex{}
	var sent int
	var lastErr error
	for _, url := range t.urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			sane := library.ValidateSaneExecutionTime()
			defer sane()
			r, err := t.relay(ctx, url)
			if err == nil {
				_, err = r.Publish(ctx, e)
				if err != nil {
					t.drop(url)
				}
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				library.LogCLI(fmt.Sprintf("could not publish %s to relay %s: %s", e.ID, url, err), 3)
				lastErr = err
				return
			}
			sent++
		}(url)
	}
	wg.Wait()
	if sent == 0 {
		return lastErr
	}
	return nil
}

// Once asks every relay for our newest event under key. Events with bad
// signatures are ignored.
func (t *Transport) Once(ctx context.Context, key string) ([]byte, bool, error) {
	sane := library.ValidateSaneExecutionTime()
	defer sane()
	tags := make(map[string][]string)
	tags["d"] = []string{key}
	filters := nostr.Filters{nostr.Filter{
		Kinds:   []int{KindAppData},
		Authors: []string{t.pk},
		Tags:    tags,
	}}
	ctx, cancel := context.WithTimeout(ctx, t.queryTimeout)
	defer cancel()

	var newest *nostr.Event
	var reached int
	var mu = &deadlock.Mutex{}
	var wg = &deadlock.WaitGroup{}
	for _, url := range t.urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			events, err := t.query(ctx, url, filters)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				library.LogCLI(fmt.Sprintf("could not query relay %s: %s", url, err), 3)
				return
			}
			reached++
			for _, ev := range events {
				if newest == nil || ev.CreatedAt > newest.CreatedAt {
					newest = ev
				}
			}
		}(url)
	}
	wg.Wait()
	if newest != nil {
		t.pushCache(key, *newest)
		return []byte(newest.Content), true, nil
	}
	if reached == 0 {
		return nil, false, fmt.Errorf("%w: no relay answered for %s", mesh.ErrUnavailable, key)
	}
	return nil, false, nil
}

func (t *Transport) query(ctx context.Context, url string, filters nostr.Filters) (events []*nostr.Event, err error) {
	r, err := t.relay(ctx, url)
	if err != nil {
		return nil, err
	}
	sub, err := r.Subscribe(ctx, filters)
	if err != nil {
		t.drop(url)
		return nil, err
	}
	defer sub.Unsub()
	for {
		select {
		case ev := <-sub.Events:
			if ev == nil {
				return events, nil
			}
			if ok, _ := ev.CheckSignature(); ok {
				events = append(events, ev)
			}
		case <-sub.EndOfStoredEvents:
			return events, nil
		case <-ctx.Done():
			return events, nil
		}
	}
}
