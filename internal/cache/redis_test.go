package cache

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Set PTRUN_TEST_REDIS=host:port to run against a live Redis.
func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("PTRUN_TEST_REDIS")
	if addr == "" {
		t.Skip("PTRUN_TEST_REDIS not set")
	}
	client, err := NewRedisClient(addr, "", 0)
	require.NoError(t, err)

	prefix := "ptrun:test:" + uuid.NewString() + ":"
	s := NewRedisStore(client, prefix)
	t.Cleanup(func() {
		_, _ = s.Clear(context.Background(), "")
		client.Close()
	})
	return s
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)
	c := New(s)

	key := Key(NSEvents, "https://example.com/wp-json/wp/v2/ajde_events/1")
	require.NoError(t, c.Put(ctx, key, []byte(`{"id":1}`)))

	got, ok := c.Get(ctx, key, 0)
	require.True(t, ok)
	assert.Equal(t, `{"id":1}`, string(got))

	keys, err := s.Keys(ctx, NSEvents)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	st, err := s.Stats(ctx, NSEvents)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Entries)
}

func TestRedisStoreCorruptionIsMiss(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)
	key := Key(NSEvents, "corrupt")

	require.NoError(t, s.client.Set(ctx, s.prefix+key, "garbage", 0).Err())

	_, ok := s.Get(ctx, key)
	assert.False(t, ok)

	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}
