package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptrun/internal/cache"
)

func newCache(t *testing.T) *cache.Cache {
	t.Helper()
	store, err := cache.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	return cache.New(store)
}

func TestGetServesSecondCallFromCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	var observed []bool
	f := New(newCache(t), WithObserver(func(_ string, fromCache bool, err error) {
		assert.NoError(t, err)
		observed = append(observed, fromCache)
	}))

	for i := 0; i < 2; i++ {
		body, err := f.Get(context.Background(), cache.NSEvents, srv.URL+"/a", 0)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(body))
	}
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, []bool{false, true}, observed)
}

func TestNon200IsHTTPErrorAndNotCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"rest_post_invalid_id"}`))
	}))
	defer srv.Close()

	f := New(newCache(t), WithRetries(3), WithBackoff(time.Millisecond))

	for i := 0; i < 2; i++ {
		_, err := f.Get(context.Background(), cache.NSEvents, srv.URL, 0)
		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
		assert.Contains(t, string(httpErr.Body), "rest_post_invalid_id")
	}
	// 404 is not retried and never cached.
	assert.Equal(t, int32(2), hits.Load())
}

func TestOversizedBodyIsErrorAndNotCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("0123456789abcdef"))
	}))
	defer srv.Close()

	f := New(newCache(t), WithMaxBodyBytes(8), WithRetries(3), WithBackoff(time.Millisecond))

	for i := 0; i < 2; i++ {
		body, err := f.Get(context.Background(), cache.NSEvents, srv.URL, 0)
		require.ErrorIs(t, err, ErrBodyTooLarge)
		assert.Nil(t, body)
	}
	assert.Equal(t, int32(2), hits.Load())

	body, err := New(newCache(t), WithMaxBodyBytes(16)).Get(context.Background(), cache.NSEvents, srv.URL, 0)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", string(body))
}

func TestRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(newCache(t), WithRetries(2), WithBackoff(time.Millisecond))
	body, err := f.Get(context.Background(), cache.NSPages, srv.URL, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), hits.Load())
}

func TestValidateRejectsWithoutCaching(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"status":"OVER_QUERY_LIMIT"}`))
	}))
	defer srv.Close()

	f := New(newCache(t))
	errBad := errors.New("bad payload")
	req := Request{
		Namespace: cache.NSGeocoding,
		URL:       srv.URL,
		KeyParts:  []string{"Lisboa"},
		Validate:  func([]byte) error { return errBad },
	}

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), req)
		assert.ErrorIs(t, err, errBad)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	f := New(newCache(t), WithTimeout(20*time.Millisecond), WithRetries(0))
	_, err := f.Get(context.Background(), cache.NSEvents, srv.URL, 0)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestMaxConcurrentBoundsInFlight(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	f := New(newCache(t), WithMaxConcurrent(2))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.Get(context.Background(), cache.NSEvents, srv.URL+"/"+string(rune('a'+i)), 0)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDownloadReusesExistingFile(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("\x89PNG"))
	}))
	defer srv.Close()

	f := New(newCache(t))
	dest := filepath.Join(t.TempDir(), "media", "img.png")

	require.NoError(t, f.Download(context.Background(), srv.URL, dest))
	require.NoError(t, f.Download(context.Background(), srv.URL, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(data))
	assert.Equal(t, int32(1), hits.Load())
}

func TestWaitRunsOnlyOnMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var waits int
	req := Request{
		Namespace: cache.NSGeocoding,
		URL:       srv.URL + "/geo?key=secret",
		KeyParts:  []string{"Lisboa"},
		Wait: func(context.Context) error {
			waits++
			return nil
		},
	}
	f := New(newCache(t))
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), req)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, waits)

	req.KeyParts = []string{"Porto"}
	req.Wait = func(context.Context) error { return errors.New("limited") }
	_, err := f.Fetch(context.Background(), req)
	assert.EqualError(t, err, "limited")
}
