package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ptrun/internal/config"
	"ptrun/internal/pipeline"
	"ptrun/internal/web"
)

func newServeCommand(cfg *config.Config) *cobra.Command {
	var (
		listen   string
		schedule string
		debug    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the output directory as a read-only JSON API",
		Long: `Serve the files a scrape wrote. With --schedule the scrape also runs
in the background on a cron schedule and /metrics reports its runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("listen") {
				cfg.Serve.Listen = listen
			}
			if cmd.Flags().Changed("schedule") {
				cfg.Schedule = schedule
			}
			if !debug {
				gin.SetMode(gin.ReleaseMode)
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := web.NewServer(cfg.OutputDir, cfg.Serve, a.metrics.Registry)

			var p *pipeline.Pipeline
			if cfg.Schedule != "" {
				if p, err = a.pipeline(); err != nil {
					return err
				}
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return srv.ListenAndServe(ctx) })
			if p != nil {
				g.Go(func() error {
					return runScheduled(ctx, cfg.Schedule, func(ctx context.Context) error {
						sum, err := p.Run(ctx)
						a.recordRun(sum)
						return err
					})
				})
			}
			return g.Wait()
		},
	}

	f := cmd.Flags()
	f.StringVar(&listen, "listen", "", "listen address (overrides config)")
	f.StringVar(&schedule, "schedule", "", "cron expression for background scrapes")
	f.BoolVar(&debug, "debug", false, "gin debug mode")
	return cmd
}
