// Package fetch performs cached HTTP GETs with retries and a bound on the
// number of requests in flight.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"ptrun/internal/cache"
	"ptrun/internal/fsutil"
	appLog "ptrun/internal/log"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxConcurrent = 10
	defaultUserAgent     = "Mozilla/5.0 (compatible; ptrun/1.0)"
	maxBodyBytes         = 32 << 20
)

var (
	// ErrTimeout is returned when a request exceeds its deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrBodyTooLarge is returned for a 200 body over the size limit.
	ErrBodyTooLarge = errors.New("response body too large")
)

// HTTPError is returned for non-200 responses.
type HTTPError struct {
	URL        string
	StatusCode int
	// Body holds the start of the response for callers that inspect
	// structured error payloads.
	Body []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// Temporary reports whether the status is worth retrying.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Observer is notified once per Fetch. err is nil for successful calls.
type Observer func(namespace string, fromCache bool, err error)

// Request describes one cached GET.
type Request struct {
	Namespace string
	URL       string
	// KeyParts overrides the fingerprint input, which defaults to URL.
	// Used to keep credentials out of cache keys.
	KeyParts []string
	// TTL of zero means a cached body never expires.
	TTL time.Duration
	// Validate rejects a 200 body that must not be cached.
	Validate func(body []byte) error
	// Wait runs on a cache miss before going upstream, e.g. a rate limiter.
	Wait func(ctx context.Context) error
}

// Fetcher is safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	cache     *cache.Cache
	sem       *semaphore.Weighted
	retries   int
	backoff   time.Duration
	userAgent string
	maxBody   int64
	observe   Observer
}

type Option func(*Fetcher)

func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.client.Timeout = d
		}
	}
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) Option {
	return func(f *Fetcher) {
		if n >= 0 {
			f.retries = n
		}
	}
}

// WithBackoff sets the initial retry interval.
func WithBackoff(d time.Duration) Option {
	return func(f *Fetcher) { f.backoff = d }
}

// WithMaxConcurrent bounds the requests in flight across all callers.
func WithMaxConcurrent(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithMaxBodyBytes caps the size of an accepted response body.
func WithMaxBodyBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

func WithObserver(o Observer) Option {
	return func(f *Fetcher) { f.observe = o }
}

func New(c *cache.Cache, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{Timeout: defaultTimeout},
		cache:     c,
		sem:       semaphore.NewWeighted(defaultMaxConcurrent),
		retries:   2,
		backoff:   500 * time.Millisecond,
		userAgent: defaultUserAgent,
		maxBody:   maxBodyBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) Cache() *cache.Cache { return f.cache }

// Get is Fetch for a plain URL.
func (f *Fetcher) Get(ctx context.Context, namespace, url string, ttl time.Duration) ([]byte, error) {
	return f.Fetch(ctx, Request{Namespace: namespace, URL: url, TTL: ttl})
}

// Fetch returns the body for req, from cache when present and fresh.
// Only 200 responses that pass Validate are cached.
func (f *Fetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	parts := req.KeyParts
	if len(parts) == 0 {
		parts = []string{req.URL}
	}
	key := cache.Key(req.Namespace, parts...)

	if body, ok := f.cache.Get(ctx, key, req.TTL); ok {
		f.notify(req.Namespace, true, nil)
		return body, nil
	}

	if req.Wait != nil {
		if err := req.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := f.Do(ctx, req.URL)
	if err == nil && req.Validate != nil {
		err = req.Validate(body)
	}
	f.notify(req.Namespace, false, err)
	if err != nil {
		return nil, err
	}

	if err := f.cache.Put(ctx, key, body); err != nil {
		appLog.Error("cache write failed", err, "namespace", req.Namespace)
	}
	return body, nil
}

// Do performs an uncached GET with retries, holding one in-flight permit
// per attempt.
func (f *Fetcher) Do(ctx context.Context, url string) ([]byte, error) {
	var body []byte

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.backoff
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		var err error
		body, err = f.once(ctx, url)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		appLog.Debug("fetch attempt failed", "url", url, "attempt", attempt, "err", err)
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.retries)), ctx))
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) once(ctx context.Context, url string) ([]byte, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer f.sem.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	appLog.Debug("fetch start", "url", url)

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("GET %s: %w", url, ErrTimeout)
		}
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("GET %s: %w", url, ErrTimeout)
		}
		return nil, fmt.Errorf("GET %s: read body: %w", url, err)
	}

	if resp.StatusCode != http.StatusOK {
		if len(body) > 4096 {
			body = body[:4096]
		}
		return nil, &HTTPError{URL: url, StatusCode: resp.StatusCode, Body: body}
	}
	if int64(len(body)) > f.maxBody {
		return nil, fmt.Errorf("GET %s: %w (limit %d bytes)", url, ErrBodyTooLarge, f.maxBody)
	}
	return body, nil
}

// Download stores the body of url at dest. An existing dest is reused.
func (f *Fetcher) Download(ctx context.Context, url, dest string) error {
	if fsutil.Exists(dest) {
		return nil
	}
	body, err := f.Do(ctx, url)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(dest, body, 0o644); err != nil {
		_ = os.Remove(dest)
		return err
	}
	return nil
}

func (f *Fetcher) notify(ns string, fromCache bool, err error) {
	if f.observe != nil {
		f.observe(ns, fromCache, err)
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Temporary()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
