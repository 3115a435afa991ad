// Command ptrun scrapes the Portugal Running event listings, enriches them
// and writes one JSON file per event plus aggregate views.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ptrun/internal/config"
	appLog "ptrun/internal/log"
)

const version = "0.1.0"

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
	model      string
	noCache    bool
}

func main() {
	// Cancel on SIGINT/SIGTERM so long runs and the server stop cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCommand().ExecuteContext(ctx)
	appLog.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:          "ptrun",
		Short:        "Scrape and enrich Portugal Running events",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			loaded, err := config.Load(flags.configPath)
			if err != nil {
				appLog.Error("failed to load config", err, "config_path", flags.configPath)
				return err
			}
			if flags.logLevel != "" {
				loaded.LogLevel = flags.logLevel
			}
			if flags.model != "" {
				loaded.Generation.Model = flags.model
			}
			if flags.noCache {
				loaded.Cache.Enabled = false
			}
			appLog.SetLevel(appLog.ParseLevel(loaded.LogLevel))
			appLog.Debug("effective config",
				"config_path", flags.configPath,
				"output_dir", loaded.OutputDir,
				"cache_backend", loaded.Cache.Backend,
				"cache_enabled", loaded.Cache.Enabled,
				"generation_backend", loaded.Generation.Backend,
				"model", loaded.Generation.Model,
			)
			*cfg = *loaded
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to config file (defaults are used when empty)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: DEBUG, INFO, WARN, ERROR")
	pf.StringVar(&flags.model, "model", "", "text-generation model for descriptions and inference")
	pf.BoolVar(&flags.noCache, "no-cache", false, "skip cache reads and force fresh upstream calls")

	root.AddCommand(
		newScrapeCommand(cfg),
		newEventCommand(cfg),
		newFetchPageCommand(cfg),
		newFetchEventCommand(cfg),
		newGeocodeCommand(cfg),
		newDescribeCommand(cfg),
		newCacheCommand(cfg),
		newServeCommand(cfg),
	)
	return root
}
