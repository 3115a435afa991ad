// Package pipeline drives a scrape run: it pages through the listing
// index, enriches every listing under bounded concurrency and hands the
// results to the output writer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ptrun/internal/geocode"
	appLog "ptrun/internal/log"
	"ptrun/internal/model"
	"ptrun/internal/source"
)

// State is the phase a run is in.
type State int32

const (
	Idle State = iota
	FetchingPages
	CollectingIDs
	EnrichingBatches
	Aggregating
	Done
)

func (s State) String() string {
	switch s {
	case FetchingPages:
		return "fetching_pages"
	case CollectingIDs:
		return "collecting_ids"
	case EnrichingBatches:
		return "enriching_batches"
	case Aggregating:
		return "aggregating"
	case Done:
		return "done"
	default:
		return "idle"
	}
}

// Source is the listing API.
type Source interface {
	FetchPage(ctx context.Context, n int) (model.Page, error)
	FetchListing(ctx context.Context, id int) (model.RawListing, error)
	FetchCalendar(ctx context.Context, id int) (model.CalendarData, error)
	FetchEventPage(ctx context.Context, link string) (string, bool, error)
	DownloadImage(ctx context.Context, src string) (string, error)
}

// Generator produces short descriptions and inferred classifications.
type Generator interface {
	Summarize(ctx context.Context, description string) (string, error)
	InferTypesAndDistances(ctx context.Context, text string) (model.ClassifiedTypes, error)
}

// Writer persists the events of a run.
type Writer interface {
	Write(events []model.Event, today string) error
}

type Options struct {
	// ListingLimit and PageLimit of zero mean unlimited.
	ListingLimit  int
	PageLimit     int
	BatchSize     int
	BatchDelay    time.Duration
	MaxConcurrent int

	SkipGeocoding    bool
	SkipDescriptions bool
	SkipImages       bool
}

func (o *Options) normalize() {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 10
	}
}

// Summary reports the outcome of a run.
type Summary struct {
	RunID     string        `json:"run_id"`
	Pages     int           `json:"pages"`
	Listings  int           `json:"listings"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	FailedIDs []int         `json:"failed_ids"`
	Elapsed   time.Duration `json:"elapsed"`
}

type Pipeline struct {
	source Source
	gen    Generator
	geo    geocode.Geocoder
	out    Writer
	opts   Options
	now    func() time.Time

	state     atomic.Int32
	onListing func(id int, err error)
}

type Option func(*Pipeline)

// WithClock replaces time.Now, which decides the "upcoming" cut-off.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithListingObserver is called once per enriched listing.
func WithListingObserver(fn func(id int, err error)) Option {
	return func(p *Pipeline) { p.onListing = fn }
}

// New wires a pipeline. gen and geo may be nil; the matching steps are
// then skipped.
func New(src Source, gen Generator, geo geocode.Geocoder, out Writer, opts Options, extra ...Option) *Pipeline {
	opts.normalize()
	p := &Pipeline{
		source: src,
		gen:    gen,
		geo:    geo,
		out:    out,
		opts:   opts,
		now:    time.Now,
	}
	for _, o := range extra {
		o(p)
	}
	return p
}

func (p *Pipeline) State() State { return State(p.state.Load()) }

func (p *Pipeline) setState(s State, runID string) {
	p.state.Store(int32(s))
	appLog.Debug("run state", "run_id", runID, "state", s.String())
}

// Run performs one complete scrape. Listing failures are counted in the
// summary; an error is returned only when the run was cancelled or the
// output could not be written.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	start := p.now()
	sum := Summary{RunID: uuid.NewString(), FailedIDs: []int{}}
	appLog.Info("run start", "run_id", sum.RunID)

	p.setState(FetchingPages, sum.RunID)
	pages, pageCount := p.fetchPages(ctx)
	sum.Pages = pageCount
	if err := ctx.Err(); err != nil {
		return sum, err
	}

	p.setState(CollectingIDs, sum.RunID)
	ids := collectIDs(pages, p.opts.ListingLimit)
	sum.Listings = len(ids)
	appLog.Info("listings collected", "run_id", sum.RunID, "pages", pageCount, "listings", len(ids))

	p.setState(EnrichingBatches, sum.RunID)
	events, failed, err := p.enrichAll(ctx, sum.RunID, ids)
	sum.Succeeded = len(events)
	sum.Failed = len(failed)
	sum.FailedIDs = append(sum.FailedIDs, failed...)
	if err != nil {
		return sum, err
	}

	p.setState(Aggregating, sum.RunID)
	if p.out != nil {
		if err := p.out.Write(events, p.now().Format("2006-01-02")); err != nil {
			return sum, fmt.Errorf("write output: %w", err)
		}
	}

	p.setState(Done, sum.RunID)
	sum.Elapsed = p.now().Sub(start)
	appLog.Info("run done",
		"run_id", sum.RunID,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"elapsed", sum.Elapsed.Round(time.Millisecond).String(),
	)
	return sum, nil
}

// fetchPages reads index pages in order until an empty page, the end of
// pages, a page error or a limit.
func (p *Pipeline) fetchPages(ctx context.Context) ([]model.Page, int) {
	var pages []model.Page
	unique := map[int]bool{}
	for n := 1; p.opts.PageLimit == 0 || n <= p.opts.PageLimit; n++ {
		if ctx.Err() != nil {
			break
		}
		page, err := p.source.FetchPage(ctx, n)
		if errors.Is(err, source.ErrEndOfPages) {
			appLog.Debug("end of pages", "page", n)
			break
		}
		if err != nil {
			appLog.Warn("page fetch failed, stopping", "page", n, "err", err)
			break
		}
		if len(page.EventIDs) == 0 {
			break
		}
		pages = append(pages, page)
		for _, id := range page.EventIDs {
			unique[id] = true
		}
		if p.opts.ListingLimit > 0 && len(unique) >= p.opts.ListingLimit {
			break
		}
	}
	return pages, len(pages)
}

// collectIDs de-duplicates in first-seen order and applies limit.
func collectIDs(pages []model.Page, limit int) []int {
	seen := map[int]bool{}
	var ids []int
	for _, page := range pages {
		for _, id := range page.EventIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

func (p *Pipeline) enrichAll(ctx context.Context, runID string, ids []int) ([]model.Event, []int, error) {
	var (
		mu     sync.Mutex
		events []model.Event
		failed []int
	)

	total := (len(ids) + p.opts.BatchSize - 1) / p.opts.BatchSize
	for i, batchNum := 0, 1; i < len(ids); i, batchNum = i+p.opts.BatchSize, batchNum+1 {
		end := min(i+p.opts.BatchSize, len(ids))
		batch := ids[i:end]
		appLog.Info("batch start", "run_id", runID, "batch", batchNum, "of", total, "size", len(batch))

		var g errgroup.Group
		g.SetLimit(p.opts.MaxConcurrent)
		for _, id := range batch {
			id := id
			g.Go(func() error {
				ev, err := p.EnrichOne(ctx, id)
				if p.onListing != nil {
					p.onListing(id, err)
				}
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					appLog.Error("listing enrich failed", err, "run_id", runID, "id", id)
					failed = append(failed, id)
					return nil
				}
				events = append(events, ev)
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return events, failed, err
		}

		if p.opts.BatchDelay > 0 && end < len(ids) {
			select {
			case <-ctx.Done():
				return events, failed, ctx.Err()
			case <-time.After(p.opts.BatchDelay):
			}
		}
	}

	sort.Ints(failed)
	return events, failed, nil
}
