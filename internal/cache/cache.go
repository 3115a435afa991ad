// Package cache is a content-addressable store for the bytes returned by
// external calls. Keys are fingerprints of the logical request identity.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	appLog "ptrun/internal/log"
)

// Namespaces group entries by the kind of call that produced them.
const (
	NSPages        = "pages"
	NSEvents       = "events"
	NSCalendars    = "calendars"
	NSEventPages   = "event-pages"
	NSGeocoding    = "geocoding"
	NSDescriptions = "descriptions"
	NSInference    = "inference"
)

// Namespaces lists every namespace in display order.
var Namespaces = []string{
	NSPages,
	NSEvents,
	NSCalendars,
	NSEventPages,
	NSGeocoding,
	NSDescriptions,
	NSInference,
}

var errCorrupt = errors.New("cache entry corrupted")

// Key returns the fingerprint of a request identity within namespace.
// Parts are joined with "|" before hashing.
func Key(namespace string, parts ...string) string {
	return namespace + "/" + Fingerprint(parts...)
}

// Fingerprint is the hex SHA-256 of parts joined with "|".
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// SplitKey separates a key into namespace and hex digest.
func SplitKey(key string) (namespace, digest string, err error) {
	ns, d, ok := strings.Cut(key, "/")
	if !ok || ns == "" || strings.ContainsAny(ns, `/\.`) {
		return "", "", fmt.Errorf("invalid cache key %q", key)
	}
	if len(d) != sha256.Size*2 {
		return "", "", fmt.Errorf("invalid cache key %q", key)
	}
	if _, err := hex.DecodeString(d); err != nil {
		return "", "", fmt.Errorf("invalid cache key %q", key)
	}
	return ns, d, nil
}

// Entry is one stored value with the metadata needed to expire it and to
// detect corruption.
type Entry struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	SHA256    string    `json:"sha256"`
	Body      []byte    `json:"body"`
}

func newEntry(key string, body []byte, now time.Time) Entry {
	sum := sha256.Sum256(body)
	return Entry{
		Key:       key,
		CreatedAt: now.UTC(),
		SHA256:    hex.EncodeToString(sum[:]),
		Body:      body,
	}
}

// decodeEntry parses a stored envelope and verifies its checksum.
func decodeEntry(key string, data []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	if e.Key != key {
		return Entry{}, fmt.Errorf("%w: key mismatch", errCorrupt)
	}
	sum := sha256.Sum256(e.Body)
	if hex.EncodeToString(sum[:]) != e.SHA256 {
		return Entry{}, fmt.Errorf("%w: checksum mismatch", errCorrupt)
	}
	return e, nil
}

// Stats summarises the entries of one namespace.
type Stats struct {
	Namespace string `json:"namespace"`
	Entries   int    `json:"entries"`
	Bytes     int64  `json:"bytes"`
}

// Store is a cache backend. Get never reports "not found" as an error;
// corrupted entries are removed and reported as a miss.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Put(ctx context.Context, key string, body []byte) error
	Delete(ctx context.Context, key string) error
	// Stats, Clear and Keys operate on one namespace, or all when empty.
	Stats(ctx context.Context, namespace string) (Stats, error)
	Clear(ctx context.Context, namespace string) (int, error)
	Keys(ctx context.Context, namespace string) ([]string, error)
}

// Cache adds expiry and force-refresh semantics on top of a Store.
type Cache struct {
	store   Store
	enabled atomic.Bool
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Disabled makes every read a miss. Results are still written.
func Disabled() Option {
	return func(c *Cache) { c.enabled.Store(false) }
}

func New(store Store, opts ...Option) *Cache {
	c := &Cache{store: store, now: time.Now}
	c.enabled.Store(true)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Store() Store { return c.store }

func (c *Cache) Enabled() bool { return c.enabled.Load() }

func (c *Cache) SetEnabled(v bool) { c.enabled.Store(v) }

// Get returns the cached body for key. A ttl of zero means the entry never
// expires; otherwise entries older than ttl are a miss.
func (c *Cache) Get(ctx context.Context, key string, ttl time.Duration) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}
	e, ok := c.store.Get(ctx, key)
	if !ok {
		return nil, false
	}
	if ttl > 0 {
		if age := c.now().Sub(e.CreatedAt); age > ttl {
			appLog.Debug("cache entry expired", "key", key, "age", age.Round(time.Second).String(), "ttl", ttl.String())
			return nil, false
		}
	}
	return e.Body, true
}

// Put stores body under key. Callers only write after a miss, so an entry
// is replaced only once it expired or a refresh was forced.
func (c *Cache) Put(ctx context.Context, key string, body []byte) error {
	if err := c.store.Put(ctx, key, body); err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}
