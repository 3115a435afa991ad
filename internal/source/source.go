// Package source reads listings from the WordPress/EventON API of the
// events site: listing pages, listing details, calendar exports, the
// listing's own web page and featured images.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ptrun/internal/cache"
	"ptrun/internal/fetch"
	"ptrun/internal/ics"
	"ptrun/internal/model"
)

// ErrEndOfPages is returned by FetchPage past the last listing page.
var ErrEndOfPages = errors.New("end of listing pages")

const (
	DefaultPageTTL = time.Hour
	endOfPagesCode = "rest_post_invalid_page_number"
)

type Client struct {
	fetcher  *fetch.Fetcher
	baseURL  string
	pageTTL  time.Duration
	mediaDir string
}

type Option func(*Client)

// WithPageTTL sets how long listing pages are served from cache. Details
// and calendar exports never expire.
func WithPageTTL(d time.Duration) Option {
	return func(c *Client) { c.pageTTL = d }
}

// WithMediaDir sets where featured images are stored.
func WithMediaDir(dir string) Option {
	return func(c *Client) { c.mediaDir = dir }
}

func NewClient(f *fetch.Fetcher, baseURL string, opts ...Option) *Client {
	c := &Client{
		fetcher:  f,
		baseURL:  strings.TrimRight(baseURL, "/"),
		pageTTL:  DefaultPageTTL,
		mediaDir: "media",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) MediaDir() string { return c.mediaDir }

func (c *Client) apiURL(p string) string {
	return c.baseURL + "/wp-json/wp/v2/ajde_events" + p
}

// CalendarURL is the per-listing calendar export.
func (c *Client) CalendarURL(id int) string {
	return fmt.Sprintf("%s/export-events/%d_0/", c.baseURL, id)
}

type wpError struct {
	Code string `json:"code"`
}

// FetchPage returns the listing ids of one index page (1-based).
func (c *Client) FetchPage(ctx context.Context, n int) (model.Page, error) {
	body, err := c.fetcher.Get(ctx, cache.NSPages, c.apiURL(fmt.Sprintf("?page=%d", n)), c.pageTTL)
	if err != nil {
		var httpErr *fetch.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == 400 {
			var wpErr wpError
			if json.Unmarshal(httpErr.Body, &wpErr) == nil && wpErr.Code == endOfPagesCode {
				return model.Page{Number: n}, ErrEndOfPages
			}
		}
		return model.Page{}, fmt.Errorf("fetch page %d: %w", n, err)
	}

	var items []struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(body, &items); err != nil {
		return model.Page{}, fmt.Errorf("decode page %d: %w", n, err)
	}

	page := model.Page{Number: n, EventIDs: make([]int, 0, len(items))}
	for _, it := range items {
		page.EventIDs = append(page.EventIDs, it.ID)
	}
	return page, nil
}

type rendered struct {
	Rendered string `json:"rendered"`
}

type wpListing struct {
	ID            int             `json:"id"`
	Date          string          `json:"date"`
	Link          string          `json:"link"`
	Slug          string          `json:"slug"`
	Title         rendered        `json:"title"`
	Content       rendered        `json:"content"`
	ClassList     model.ClassList `json:"class_list"`
	FeaturedMedia *int            `json:"featured_media"`
	// The API sends false when a listing has no image.
	FeaturedImageSrc json.RawMessage `json:"featured_image_src"`
}

// FetchListing returns the full record of one listing.
func (c *Client) FetchListing(ctx context.Context, id int) (model.RawListing, error) {
	body, err := c.fetcher.Get(ctx, cache.NSEvents, c.apiURL(fmt.Sprintf("/%d", id)), 0)
	if err != nil {
		return model.RawListing{}, fmt.Errorf("fetch listing %d: %w", id, err)
	}
	return DecodeListing(body)
}

// DecodeListing decodes a single ajde_events API object.
func DecodeListing(body []byte) (model.RawListing, error) {
	var w wpListing
	if err := json.Unmarshal(body, &w); err != nil {
		return model.RawListing{}, fmt.Errorf("decode listing: %w", err)
	}

	l := model.RawListing{
		ID:            w.ID,
		Date:          w.Date,
		Link:          w.Link,
		Slug:          w.Slug,
		Title:         strings.TrimSpace(html.UnescapeString(w.Title.Rendered)),
		Content:       w.Content.Rendered,
		ClassList:     w.ClassList,
		FeaturedMedia: w.FeaturedMedia,
	}
	var src string
	if json.Unmarshal(w.FeaturedImageSrc, &src) == nil {
		l.FeaturedImageSrc = src
	}
	return l, nil
}

// FetchCalendar downloads and parses the listing's calendar export.
func (c *Client) FetchCalendar(ctx context.Context, id int) (model.CalendarData, error) {
	body, err := c.fetcher.Get(ctx, cache.NSCalendars, c.CalendarURL(id), 0)
	if err != nil {
		return model.CalendarData{}, fmt.Errorf("fetch calendar %d: %w", id, err)
	}
	return ics.Parse(body)
}

// eventPageSelector is the "more info" row EventON renders on listing pages.
const eventPageSelector = "a.evcal_evdata_row.evo_clik_row"

// FetchEventPage returns the organizer's event page linked from the
// listing page at link. ok is false when the page has no such link.
func (c *Client) FetchEventPage(ctx context.Context, link string) (string, bool, error) {
	body, err := c.fetcher.Get(ctx, cache.NSEventPages, link, 0)
	if err != nil {
		return "", false, fmt.Errorf("fetch listing page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("parse listing page: %w", err)
	}
	href, ok := doc.Find(eventPageSelector).First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return "", false, nil
	}
	return href, true, nil
}

// ImagePath is where DownloadImage stores src.
func (c *Client) ImagePath(src string) string {
	ext := ""
	if u, err := url.Parse(src); err == nil {
		ext = strings.ToLower(path.Ext(u.Path))
	}
	if len(ext) > 6 {
		ext = ""
	}
	return filepath.Join(c.mediaDir, cache.Fingerprint(src)+ext)
}

// DownloadImage stores the image once and returns its local path.
func (c *Client) DownloadImage(ctx context.Context, src string) (string, error) {
	dest := c.ImagePath(src)
	if err := c.fetcher.Download(ctx, src, dest); err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	return dest, nil
}

const blockSelectors = "p, div, li, h1, h2, h3, h4, h5, h6, tr"

// ContentText turns rendered listing HTML into plain text, one line per
// block element.
func ContentText(htmlBody string) string {
	if strings.TrimSpace(htmlBody) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return strings.TrimSpace(htmlBody)
	}
	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(blockSelectors).AppendHtml("\n")

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
