package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/catalog-engine/internal/config"
	"github.com/spherical-ai/catalog-engine/internal/domain"
)

func TestMemoryClient_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, FingerprintKey("k5"), []byte("abc"), time.Hour))
	got, err := c.Get(ctx, FingerprintKey("k5"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	require.NoError(t, c.Delete(ctx, FingerprintKey("k5")))
	_, err = c.Get(ctx, FingerprintKey("k5"))
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "short", []byte("x"), 10*time.Millisecond))
	require.NoError(t, c.Set(ctx, "forever", []byte("y"), 0))
	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "forever")
	assert.NoError(t, err)
}

func TestMemoryClient_EvictsWhenFull(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(2)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), time.Hour))

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "c")
	assert.NoError(t, err)

	// overwriting an existing key never evicts
	require.NoError(t, c.Set(ctx, "c", []byte("4"), time.Hour))
	_, err = c.Get(ctx, "b")
	assert.NoError(t, err)
}

func TestMemoryClient_DeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	require.NoError(t, c.Set(ctx, FingerprintKey("a"), []byte("1"), time.Hour))
	require.NoError(t, c.Set(ctx, FingerprintKey("b"), []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "other", []byte("3"), time.Hour))

	require.NoError(t, c.DeleteByPrefix(ctx, FingerprintPrefix))

	_, err := c.Get(ctx, FingerprintKey("a"))
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "other")
	assert.NoError(t, err)
}

func TestMemoryClient_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	// no subscribers is not an error
	require.NoError(t, c.Publish(ctx, "reconcile.events", map[string]int{"n": 0}))

	ch, unsubscribe, err := c.Subscribe(ctx, "reconcile.events")
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, "reconcile.events", map[string]int{"updated": 3}))

	select {
	case msg := <-ch:
		var payload map[string]int
		require.NoError(t, json.Unmarshal(msg, &payload))
		assert.Equal(t, 3, payload["updated"])
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
	require.NoError(t, c.Publish(ctx, "reconcile.events", map[string]int{"updated": 4}))
}

func TestFingerprintKey(t *testing.T) {
	assert.Equal(t, "fp:v:grandeur", FingerprintKey("grandeur"))
}

func TestNew(t *testing.T) {
	c, err := New(config.CacheConfig{Driver: "memory", MaxEntries: 5})
	require.NoError(t, err)
	assert.IsType(t, &MemoryClient{}, c)
	require.NoError(t, c.Close())

	_, err = New(config.CacheConfig{Driver: "memcached"})
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
}
