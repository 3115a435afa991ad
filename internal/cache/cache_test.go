package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDisk(t *testing.T) *DiskStore {
	t.Helper()
	s, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestKeyIsDeterministic(t *testing.T) {
	a := Key(NSEvents, "https://example.com/a")
	b := Key(NSEvents, "https://example.com/a")
	c := Key(NSEvents, "https://example.com/b")
	d := Key(NSPages, "https://example.com/a")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.True(t, strings.HasPrefix(a, NSEvents+"/"))

	ns, digest, err := SplitKey(a)
	require.NoError(t, err)
	assert.Equal(t, NSEvents, ns)
	assert.Len(t, digest, 64)

	// Joined parts are part of the identity.
	assert.NotEqual(t, Key(NSInference, "a|b", "c"), Key(NSInference, "a", "b|c|d"))
}

func TestSplitKeyRejectsTraversal(t *testing.T) {
	for _, k := range []string{"", "events", "../x/" + strings.Repeat("a", 64), "events/zz", "events/" + strings.Repeat("g", 64)} {
		_, _, err := SplitKey(k)
		assert.Error(t, err, k)
	}
}

func TestPutThenGetIsByteIdentical(t *testing.T) {
	ctx := context.Background()
	c := New(newDisk(t))
	key := Key(NSCalendars, "https://example.com/export-events/1_0/")
	body := []byte("BEGIN:VCALENDAR\r\n\x00binary\xff\r\n")

	require.NoError(t, c.Put(ctx, key, body))

	got, ok := c.Get(ctx, key, 0)
	require.True(t, ok)
	assert.Equal(t, body, got)

	got2, ok := c.Get(ctx, key, 0)
	require.True(t, ok)
	assert.Equal(t, got, got2)
}

func TestMissIsNotAnError(t *testing.T) {
	c := New(newDisk(t))
	got, ok := c.Get(context.Background(), Key(NSEvents, "nope"), 0)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newDisk(t)
	store.now = func() time.Time { return now }
	c := New(store, WithClock(func() time.Time { return now }))

	key := Key(NSPages, "https://example.com/page=1")
	require.NoError(t, c.Put(ctx, key, []byte("[]")))

	now = now.Add(30 * time.Minute)
	_, ok := c.Get(ctx, key, time.Hour)
	assert.True(t, ok, "younger than ttl")

	now = now.Add(time.Hour)
	_, ok = c.Get(ctx, key, time.Hour)
	assert.False(t, ok, "older than ttl")

	_, ok = c.Get(ctx, key, 0)
	assert.True(t, ok, "zero ttl never expires")
}

func TestDisabledReadsMissButWritesPersist(t *testing.T) {
	ctx := context.Background()
	store := newDisk(t)
	c := New(store, Disabled())
	key := Key(NSEvents, "x")

	require.NoError(t, c.Put(ctx, key, []byte("fresh")))
	_, ok := c.Get(ctx, key, 0)
	assert.False(t, ok)

	c.SetEnabled(true)
	got, ok := c.Get(ctx, key, 0)
	require.True(t, ok)
	assert.Equal(t, "fresh", string(got))
}

func TestCorruptedEntryIsRemovedAndMisses(t *testing.T) {
	ctx := context.Background()
	store := newDisk(t)
	c := New(store)

	cases := map[string]func(path string){
		"garbage": func(p string) {
			require.NoError(t, os.WriteFile(p, []byte("{not json"), 0o600))
		},
		"checksum": func(p string) {
			data, err := os.ReadFile(p)
			require.NoError(t, err)
			// Replace the base64 body ("aGVsbG8=" is "hello") keeping valid JSON.
			data = []byte(strings.Replace(string(data), "aGVsbG8=", "aGVsbG9v", 1))
			require.NoError(t, os.WriteFile(p, data, 0o600))
		},
	}

	for name, corrupt := range cases {
		name, corrupt := name, corrupt
		t.Run(name, func(t *testing.T) {
			key := Key(NSEvents, name)
			require.NoError(t, c.Put(ctx, key, []byte("hello")))

			p, err := store.path(key)
			require.NoError(t, err)
			corrupt(p)

			_, ok := c.Get(ctx, key, 0)
			assert.False(t, ok)

			_, err = os.Stat(p)
			assert.True(t, os.IsNotExist(err), "corrupted entry should be deleted")
		})
	}
}

func TestDiskLayoutIsSharded(t *testing.T) {
	ctx := context.Background()
	store := newDisk(t)
	key := Key(NSGeocoding, "Lisboa")
	require.NoError(t, store.Put(ctx, key, []byte("{}")))

	_, digest, err := SplitKey(key)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(store.Dir(), NSGeocoding, digest[:2], digest+".json"))
	assert.NoError(t, err)
}

func TestStatsKeysClear(t *testing.T) {
	ctx := context.Background()
	store := newDisk(t)

	for i, ns := range []string{NSPages, NSPages, NSEvents} {
		require.NoError(t, store.Put(ctx, Key(ns, string(rune('a'+i))), []byte("12345")))
	}

	st, err := store.Stats(ctx, NSPages)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Entries)
	assert.Positive(t, st.Bytes)

	all, err := store.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, all.Entries)

	keys, err := store.Keys(ctx, NSEvents)
	require.NoError(t, err)
	assert.Equal(t, []string{Key(NSEvents, "c")}, keys)

	n, err := store.Clear(ctx, NSPages)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err = store.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, all.Entries)

	empty, err := store.Stats(ctx, NSInference)
	require.NoError(t, err)
	assert.Zero(t, empty.Entries)
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := New(newDisk(t))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key(NSEvents, "shared")
			_ = c.Put(ctx, key, []byte("same-body"))
			if got, ok := c.Get(ctx, key, 0); ok {
				assert.Equal(t, "same-body", string(got))
			}
		}(i)
	}
	wg.Wait()

	got, ok := c.Get(ctx, Key(NSEvents, "shared"), 0)
	require.True(t, ok)
	assert.Equal(t, "same-body", string(got))
}
