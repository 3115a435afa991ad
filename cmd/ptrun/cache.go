package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"ptrun/internal/cache"
	"ptrun/internal/config"
	appLog "ptrun/internal/log"
)

// mediaType selects the downloaded images, which live outside the cache
// store.
const mediaType = "images"

func newCacheCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear cached responses",
	}
	cmd.AddCommand(newCacheStatsCommand(cfg), newCacheListCommand(cfg), newCacheClearCommand(cfg))
	return cmd
}

func cacheTypes() []string {
	return append(slices.Clone(cache.Namespaces), mediaType)
}

func validateType(t string) error {
	if t == "" || slices.Contains(cacheTypes(), t) {
		return nil
	}
	return fmt.Errorf("unknown cache type %q (one of %s)", t, strings.Join(cacheTypes(), ", "))
}

func addTypeFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "type", "", "restrict to one type: "+strings.Join(cacheTypes(), ", "))
}

func newCacheStatsCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts and sizes per namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			rows := make([]cache.Stats, 0, len(cache.Namespaces)+1)
			for _, ns := range cache.Namespaces {
				st, err := a.store.Stats(cmd.Context(), ns)
				if err != nil {
					return fmt.Errorf("stats %s: %w", ns, err)
				}
				rows = append(rows, st)
			}
			media, err := mediaStats(a.source.MediaDir())
			if err != nil {
				return err
			}
			rows = append(rows, media)

			renderStats(cmd.OutOrStdout(), cfg.Cache, rows)
			return nil
		},
	}
}

func renderStats(w io.Writer, cfg config.CacheConfig, rows []cache.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("cache (%s)", cfg.Backend))
	t.AppendHeader(table.Row{"Type", "Entries", "Size"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})

	var entries int
	var size int64
	for _, st := range rows {
		t.AppendRow(table.Row{st.Namespace, st.Entries, humanBytes(st.Bytes)})
		entries += st.Entries
		size += st.Bytes
	}
	t.AppendFooter(table.Row{"Total", entries, humanBytes(size)})
	t.Render()
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func newCacheListCommand(cfg *config.Config) *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cache keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateType(typ); err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var keys []string
			if typ != mediaType {
				keys, err = a.store.Keys(cmd.Context(), typ)
				if err != nil {
					return err
				}
			}
			if typ == "" || typ == mediaType {
				files, err := mediaFiles(a.source.MediaDir())
				if err != nil {
					return err
				}
				for _, f := range files {
					keys = append(keys, mediaType+"/"+f)
				}
			}

			slices.Sort(keys)
			out := cmd.OutOrStdout()
			for _, k := range keys {
				fmt.Fprintln(out, k)
			}
			return nil
		},
	}
	addTypeFlag(cmd, &typ)
	return cmd
}

func newCacheClearCommand(cfg *config.Config) *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cached entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateType(typ); err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := clearCache(cmd.Context(), a.store, a.source.MediaDir(), typ)
			if err != nil {
				return err
			}
			label := typ
			if label == "" {
				label = "all"
			}
			appLog.Info("cache cleared", "type", label, "removed", n)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries (%s)\n", n, label)
			return nil
		},
	}
	addTypeFlag(cmd, &typ)
	return cmd
}

func clearCache(ctx context.Context, store cache.Store, mediaDir, typ string) (int, error) {
	total := 0
	if typ != mediaType {
		n, err := store.Clear(ctx, typ)
		if err != nil {
			return total, err
		}
		total += n
	}
	if typ == "" || typ == mediaType {
		files, err := mediaFiles(mediaDir)
		if err != nil {
			return total, err
		}
		for _, f := range files {
			if err := os.Remove(filepath.Join(mediaDir, f)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return total, err
			}
			total++
		}
	}
	return total, nil
}

// mediaFiles lists downloaded images relative to dir. A missing dir is
// empty.
func mediaFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	return files, nil
}

func mediaStats(dir string) (cache.Stats, error) {
	st := cache.Stats{Namespace: mediaType}
	files, err := mediaFiles(dir)
	if err != nil {
		return st, err
	}
	for _, f := range files {
		info, err := os.Stat(filepath.Join(dir, f))
		if err != nil {
			continue
		}
		st.Entries++
		st.Bytes += info.Size()
	}
	return st, nil
}
