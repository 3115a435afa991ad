package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/anthropics/anthropic-sdk-go/option"

	"ptrun/internal/cache"
	"ptrun/internal/config"
	"ptrun/internal/fetch"
	"ptrun/internal/geocode"
	appLog "ptrun/internal/log"
	"ptrun/internal/metrics"
	"ptrun/internal/source"
	"ptrun/internal/textgen"
)

// app holds the clients every command shares, built from one config.
type app struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	store   cache.Store
	cache   *cache.Cache
	fetcher *fetch.Fetcher
	source  *source.Client

	closers []func() error
}

func newApp(cfg *config.Config) (*app, error) {
	store, closer, err := openStore(cfg.Cache)
	if err != nil {
		return nil, err
	}

	var cacheOpts []cache.Option
	if !cfg.Cache.Enabled {
		cacheOpts = append(cacheOpts, cache.Disabled())
	}
	c := cache.New(store, cacheOpts...)

	m := metrics.New()
	f := fetch.New(c,
		fetch.WithTimeout(cfg.HTTPTimeout),
		fetch.WithRetries(cfg.HTTPRetries),
		fetch.WithMaxConcurrent(cfg.MaxConcurrent),
		fetch.WithUserAgent("Mozilla/5.0 (compatible; ptrun/"+version+")"),
		fetch.WithObserver(m.ObserveFetch),
	)

	a := &app{
		cfg:     cfg,
		metrics: m,
		store:   store,
		cache:   c,
		fetcher: f,
		source: source.NewClient(f, cfg.BaseURL,
			source.WithPageTTL(cfg.Cache.PageTTL),
			source.WithMediaDir(filepath.Join(cfg.Cache.Dir, "media")),
		),
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	return a, nil
}

func (a *app) Close() {
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			appLog.Warn("close failed", "err", err)
		}
	}
}

// openStore picks the cache backend. The returned closer may be nil.
func openStore(cfg config.CacheConfig) (cache.Store, func() error, error) {
	switch cfg.Backend {
	case "redis":
		client, err := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		appLog.Debug("cache backend", "backend", "redis", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		return cache.NewRedisStore(client, cache.DefaultRedisPrefix), client.Close, nil
	default:
		store, err := cache.NewDiskStore(cfg.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open cache dir: %w", err)
		}
		appLog.Debug("cache backend", "backend", "disk", "dir", cfg.Dir)
		return store, nil, nil
	}
}

// generator builds the configured text-generation backend.
func (a *app) generator() (*textgen.Generator, error) {
	gc := a.cfg.Generation

	var completer textgen.Completer
	switch gc.Backend {
	case "chat":
		if gc.APIKey == "" {
			return nil, fmt.Errorf("missing %s for the chat backend", config.EnvOpenRouterAPIKey)
		}
		var opts []func(*textgen.ChatCompleter)
		if gc.BaseURL != "" {
			opts = append(opts, textgen.WithChatBaseURL(gc.BaseURL))
		}
		completer = textgen.NewChatCompleter(gc.APIKey, opts...)
	case "anthropic":
		if gc.APIKey == "" {
			return nil, fmt.Errorf("missing %s for the anthropic backend", config.EnvAnthropicAPIKey)
		}
		var opts []option.RequestOption
		if gc.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(gc.BaseURL))
		}
		completer = textgen.NewAnthropicCompleter(gc.APIKey, opts...)
	default:
		completer = textgen.CommandCompleter{Command: gc.Command}
	}

	return textgen.NewGenerator(completer, a.cache, gc.Model,
		textgen.WithTimeout(gc.Timeout),
		textgen.WithObserver(a.metrics.ObserveGeneration),
	), nil
}

var errMissingMapsKey = errors.New("missing " + config.EnvGoogleMapsAPIKey)

func (a *app) geocoder() (*geocode.Client, error) {
	gc := a.cfg.Geocoding
	if gc.APIKey == "" {
		return nil, errMissingMapsKey
	}
	return geocode.NewClient(a.fetcher, gc.APIKey,
		geocode.WithRegion(gc.Region, gc.Language),
		geocode.WithRateLimit(gc.RPS),
	), nil
}
