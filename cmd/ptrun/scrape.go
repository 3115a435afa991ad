package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"ptrun/internal/config"
	"ptrun/internal/geocode"
	appLog "ptrun/internal/log"
	"ptrun/internal/output"
	"ptrun/internal/pipeline"
)

type scrapeFlags struct {
	output           string
	limit            int
	pages            int
	skipGeocoding    bool
	skipDescriptions bool
	skipImages       bool
	batchSize        int
	delay            float64
	schedule         string
	metricsFile      string
}

func newScrapeCommand(cfg *config.Config) *cobra.Command {
	flags := &scrapeFlags{}

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape, enrich and write all events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			applyScrapeFlags(cmd, cfg, flags)

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.pipeline()
			if err != nil {
				return err
			}

			run := func(ctx context.Context) error {
				sum, err := p.Run(ctx)
				a.recordRun(sum)
				if err != nil {
					return err
				}
				printSummary(cmd.OutOrStdout(), cfg.OutputDir, sum)
				return nil
			}

			if cfg.Schedule == "" {
				return run(cmd.Context())
			}
			return runScheduled(cmd.Context(), cfg.Schedule, run)
		},
	}

	flags.bind(cmd.Flags())
	return cmd
}

func (sf *scrapeFlags) bind(f *pflag.FlagSet) {
	f.StringVarP(&sf.output, "output", "o", "", "output directory for event files")
	f.IntVarP(&sf.limit, "limit", "l", 0, "maximum number of listings to enrich (0 = all)")
	f.IntVarP(&sf.pages, "pages", "p", 0, "maximum number of index pages to read (0 = all)")
	f.BoolVar(&sf.skipGeocoding, "skip-geocoding", false, "do not geocode locations")
	f.BoolVar(&sf.skipDescriptions, "skip-descriptions", false, "do not generate short descriptions or inferred types")
	f.BoolVar(&sf.skipImages, "skip-images", false, "do not download featured images")
	f.IntVar(&sf.batchSize, "batch-size", 0, "listings enriched per batch")
	f.Float64Var(&sf.delay, "delay", 0, "seconds to wait between batches")
	f.StringVar(&sf.schedule, "schedule", "", `cron expression to re-run the scrape, e.g. "0 4 * * *"`)
	f.StringVar(&sf.metricsFile, "metrics-file", "", "write Prometheus text-format run metrics to this path")
}

// applyScrapeFlags lets explicitly set flags override the config file.
func applyScrapeFlags(cmd *cobra.Command, cfg *config.Config, f *scrapeFlags) {
	changed := cmd.Flags().Changed
	if changed("output") {
		cfg.OutputDir = f.output
	}
	if changed("limit") {
		cfg.ListingLimit = f.limit
	}
	if changed("pages") {
		cfg.PageLimit = f.pages
	}
	if changed("skip-geocoding") {
		cfg.SkipGeocoding = f.skipGeocoding
	}
	if changed("skip-descriptions") {
		cfg.SkipDescriptions = f.skipDescriptions
	}
	if changed("skip-images") {
		cfg.SkipImages = f.skipImages
	}
	if changed("batch-size") {
		cfg.BatchSize = f.batchSize
	}
	if changed("delay") {
		cfg.BatchDelay = time.Duration(f.delay * float64(time.Second))
	}
	if changed("schedule") {
		cfg.Schedule = f.schedule
	}
	if changed("metrics-file") {
		cfg.MetricsFile = f.metricsFile
	}
	cfg.Normalize()
}

// pipeline wires the enrichment steps the config enables. Skipped steps
// get a nil interface so the pipeline leaves them out.
func (a *app) pipeline() (*pipeline.Pipeline, error) {
	cfg := a.cfg

	var gen pipeline.Generator
	if !cfg.SkipDescriptions {
		g, err := a.generator()
		if err != nil {
			return nil, err
		}
		gen = g
	}

	var geo geocode.Geocoder
	if !cfg.SkipGeocoding {
		g, err := a.geocoder()
		if err != nil {
			return nil, fmt.Errorf("%w (set it or pass --skip-geocoding)", err)
		}
		geo = g
	}

	return pipeline.New(a.source, gen, geo, output.NewWriter(cfg.OutputDir), pipeline.Options{
		ListingLimit:     cfg.ListingLimit,
		PageLimit:        cfg.PageLimit,
		BatchSize:        cfg.BatchSize,
		BatchDelay:       cfg.BatchDelay,
		MaxConcurrent:    cfg.MaxConcurrent,
		SkipGeocoding:    cfg.SkipGeocoding,
		SkipDescriptions: cfg.SkipDescriptions,
		SkipImages:       cfg.SkipImages,
	}, pipeline.WithListingObserver(a.metrics.ObserveListing)), nil
}

// recordRun updates the run gauges and, if configured, the textfile.
func (a *app) recordRun(sum pipeline.Summary) {
	a.metrics.ObserveRun(sum.Pages, sum.Elapsed, time.Now())
	if a.cfg.MetricsFile == "" {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
		appLog.Error("metrics textfile write failed", err, "path", a.cfg.MetricsFile)
	}
}

func printSummary(w io.Writer, dir string, sum pipeline.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendRows([]table.Row{
		{"run", sum.RunID},
		{"output", dir},
		{"pages", sum.Pages},
		{"listings", sum.Listings},
		{"succeeded", sum.Succeeded},
		{"failed", sum.Failed},
		{"elapsed", sum.Elapsed.Round(time.Millisecond).String()},
	})
	if len(sum.FailedIDs) > 0 {
		t.AppendRow(table.Row{"failed ids", fmt.Sprint(sum.FailedIDs)})
	}
	t.Render()
}

// cronLogger routes cron's own messages through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron "+msg, err, kv...)
}

// runScheduled runs fn once right away and then on every tick of spec
// until ctx is cancelled. A tick that fires while a run is still going is
// skipped.
func runScheduled(ctx context.Context, spec string, fn func(context.Context) error) error {
	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{})).Then(cron.FuncJob(func() {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			appLog.Error("scheduled run failed", err, "schedule", spec)
		}
	}))

	c := cron.New(cron.WithLogger(cronLogger{}))
	if _, err := c.AddJob(spec, job); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	appLog.Info("schedule started", "schedule", spec)
	c.Start()

	var first sync.WaitGroup
	first.Add(1)
	go func() {
		defer first.Done()
		job.Run()
	}()

	<-ctx.Done()
	appLog.Info("schedule stopping")
	<-c.Stop().Done()
	first.Wait()
	return nil
}
