package mesh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryImmediate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "k", []byte(`{"a":1}`)))
	v, ok, err := m.Once(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(v))
	_, ok, err = m.Once(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryDelayed(t *testing.T) {
	m := NewMemory()
	m.Configure(30*time.Millisecond, false)
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "k", []byte("v")))
	_, ok, _ := m.Once(ctx, "k")
	assert.False(t, ok)
	require.Eventually(t, func() bool {
		_, ok, _ := m.Once(ctx, "k")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryDropAndErrors(t *testing.T) {
	m := NewMemory()
	m.Configure(0, true)
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "k", []byte("v")))
	_, ok, _ := m.Once(ctx, "k")
	assert.False(t, ok)

	m.PutErr = ErrUnavailable
	assert.ErrorIs(t, m.Put(ctx, "k", []byte("v")), ErrUnavailable)
	m.OnceErr = errors.New("boom")
	_, _, err := m.Once(ctx, "k")
	assert.Error(t, err)
	assert.Equal(t, 2, m.Puts())
}

func TestMemoryHonoursContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Put(ctx, "k", nil), context.Canceled)
	_, _, err := m.Once(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
