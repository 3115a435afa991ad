// Package geocode resolves free-text locations through the Google
// Geocoding API and maps the district to its numeric code.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"ptrun/internal/cache"
	"ptrun/internal/fetch"
	appLog "ptrun/internal/log"
	"ptrun/internal/model"
)

const (
	DefaultEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"
	defaultCountry  = "Portugal"
)

// Geocoder resolves a location string. A nil result without error means
// the location could not be resolved.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (*model.GeoResult, error)
}

type Client struct {
	fetcher  *fetch.Fetcher
	apiKey   string
	endpoint string
	region   string
	language string
	limiter  *rate.Limiter
}

type Option func(*Client)

func WithEndpoint(u string) Option {
	return func(c *Client) { c.endpoint = u }
}

func WithRegion(region, language string) Option {
	return func(c *Client) {
		if region != "" {
			c.region = region
		}
		if language != "" {
			c.language = language
		}
	}
}

// WithRateLimit caps upstream requests per second. Cache hits are not
// limited.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			burst := int(rps)
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

func NewClient(f *fetch.Fetcher, apiKey string, opts ...Option) *Client {
	c := &Client{
		fetcher:  f,
		apiKey:   apiKey,
		endpoint: DefaultEndpoint,
		region:   "pt",
		language: "pt",
		limiter:  rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type response struct {
	Status       string   `json:"status"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Results      []result `json:"results"`
}

type result struct {
	FormattedAddress  string      `json:"formatted_address"`
	AddressComponents []component `json:"address_components"`
	Geometry          struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
}

type component struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

func (c component) is(kind string) bool {
	for _, t := range c.Types {
		if t == kind {
			return true
		}
	}
	return false
}

// validate accepts OK and ZERO_RESULTS. Anything else (quota, denied key,
// server errors) must not be cached.
func validate(body []byte) error {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return fmt.Errorf("geocode: decode response: %w", err)
	}
	switch r.Status {
	case "OK", "ZERO_RESULTS":
		return nil
	default:
		return fmt.Errorf("geocode: status %s: %s", r.Status, r.ErrorMessage)
	}
}

// Geocode returns the first result for query. Provider and parse failures
// are logged and reported as no result; only cancellation is an error.
func (c *Client) Geocode(ctx context.Context, query string) (*model.GeoResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("address", query)
	params.Set("key", c.apiKey)
	params.Set("region", c.region)
	params.Set("language", c.language)

	var wait func(context.Context) error
	if c.limiter != nil {
		wait = c.limiter.Wait
	}

	body, err := c.fetcher.Fetch(ctx, fetch.Request{
		Namespace: cache.NSGeocoding,
		URL:       c.endpoint + "?" + params.Encode(),
		KeyParts:  []string{query, c.region, c.language},
		Validate:  validate,
		Wait:      wait,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		appLog.Error("geocode request failed", err, "query", query)
		return nil, nil
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		appLog.Error("geocode decode failed", err, "query", query)
		return nil, nil
	}
	if len(r.Results) == 0 {
		appLog.Debug("geocode no results", "query", query, "status", r.Status)
		return nil, nil
	}
	return parseResult(query, r.Results[0]), nil
}

func parseResult(query string, r result) *model.GeoResult {
	geo := &model.GeoResult{
		Name:     r.FormattedAddress,
		Country:  defaultCountry,
		Locality: strings.TrimSpace(strings.Split(query, ",")[0]),
		Coordinates: &model.Coordinates{
			Lat: r.Geometry.Location.Lat,
			Lon: r.Geometry.Location.Lng,
		},
	}
	if geo.Name == "" {
		geo.Name = query
	}

	for _, comp := range r.AddressComponents {
		switch {
		case comp.is("country"):
			geo.Country = comp.LongName
		case comp.is("administrative_area_level_1"):
			geo.AdministrativeAreaLevel1 = model.String(comp.LongName)
			geo.Locality = comp.LongName
		case comp.is("administrative_area_level_2"):
			geo.AdministrativeAreaLevel2 = model.String(comp.LongName)
		case comp.is("administrative_area_level_3"):
			geo.AdministrativeAreaLevel3 = model.String(comp.LongName)
		}
	}

	if geo.AdministrativeAreaLevel1 != nil {
		if code, ok := DistrictCode(*geo.AdministrativeAreaLevel1); ok {
			geo.DistrictCode = model.Int(code)
		} else {
			appLog.Debug("unmapped district", "name", *geo.AdministrativeAreaLevel1)
		}
	}
	return geo
}
