package relays

import (
	"context"
	"testing"
	"time"

	"civicmesh/engine/library"
	"civicmesh/messaging/mesh"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nothing listens here, so connections are refused straight away
const deadRelay = "ws://127.0.0.1:1"

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	tr, err := New(Config{
		URLs:            []string{deadRelay},
		PrivateKey:      nostr.GeneratePrivateKey(),
		PublishInterval: time.Millisecond,
		QueryTimeout:    500 * time.Millisecond,
	})
	require.NoError(t, err)
	return tr
}

func TestNewRequiresRelays(t *testing.T) {
	_, err := New(Config{PrivateKey: nostr.GeneratePrivateKey()})
	assert.Error(t, err)
}

func TestEventsAreSignedAppData(t *testing.T) {
	tr := newTestTransport(t)
	e, err := tr.makeEvent("vote/t/p/v", []byte(`{"value":1}`))
	require.NoError(t, err)

	assert.Equal(t, KindAppData, e.Kind)
	assert.Equal(t, tr.Account(), e.PubKey)
	assert.Equal(t, `{"value":1}`, e.Content)
	d, ok := library.GetFirstTag(e, "d")
	require.True(t, ok)
	assert.Equal(t, "vote/t/p/v", d)
	assert.Equal(t, []string{AppTag}, library.GetAllTags(e, "t"))
	ok, err = e.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnreachableRelaysAreUnavailable(t *testing.T) {
	tr := newTestTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := tr.Put(ctx, "k", []byte("v"))
	assert.ErrorIs(t, err, mesh.ErrUnavailable)

	_, found, err := tr.Once(ctx, "k")
	assert.False(t, found)
	assert.ErrorIs(t, err, mesh.ErrUnavailable)
	_, cached := tr.FetchCache("k")
	assert.False(t, cached)
}

func TestCacheKeepsNewest(t *testing.T) {
	tr := newTestTransport(t)
	tr.pushCache("k", nostr.Event{CreatedAt: 10, Content: "new"})
	tr.pushCache("k", nostr.Event{CreatedAt: 5, Content: "old"})
	e, ok := tr.FetchCache("k")
	require.True(t, ok)
	assert.Equal(t, "new", e.Content)
}

func TestRewritesOfAKeyGetLaterTimestamps(t *testing.T) {
	tr := newTestTransport(t)
	first, err := tr.makeEvent("vote/t/p/v", []byte(`{"value":1}`))
	require.NoError(t, err)
	second, err := tr.makeEvent("vote/t/p/v", []byte(`{"value":-1}`))
	require.NoError(t, err)
	third, err := tr.makeEvent("vote/t/p/v", []byte(`{"value":0}`))
	require.NoError(t, err)
	assert.Greater(t, second.CreatedAt, first.CreatedAt)
	assert.Greater(t, third.CreatedAt, second.CreatedAt)
	ok, err := third.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPublishIntentToUnreachableRelays(t *testing.T) {
	tr := newTestTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e, err := tr.PublishIntent(ctx, []byte(`{"topic_id":"t"}`))
	assert.ErrorIs(t, err, mesh.ErrUnavailable)

	// the intent is signed before any relay is tried
	assert.Equal(t, KindVoteIntent, e.Kind)
	assert.Equal(t, []string{AppTag}, library.GetAllTags(e, "t"))
	ok, err := e.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)
}
