package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"ptrun/internal/config"
	"ptrun/internal/output"
)

func printJSON(w io.Writer, v any) error {
	data, err := output.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func positiveArg(s, name string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return n, nil
}

func newEventCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "event <id>",
		Short: "Enrich one listing and print the resulting event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := positiveArg(args[0], "event id")
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.pipeline()
			if err != nil {
				return err
			}
			ev, enrichErr := p.EnrichOne(cmd.Context(), id)
			if err := printJSON(cmd.OutOrStdout(), ev); err != nil {
				return err
			}
			return enrichErr
		},
	}
}

func newFetchPageCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-page <n>",
		Short: "Fetch one index page and print its listing ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := positiveArg(args[0], "page")
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			page, err := a.source.FetchPage(cmd.Context(), n)
			if err != nil {
				return fmt.Errorf("fetch page %d: %w", n, err)
			}
			return printJSON(cmd.OutOrStdout(), page)
		},
	}
}

func newFetchEventCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-event <id>",
		Short: "Fetch and print the raw listing details of one event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := positiveArg(args[0], "event id")
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			listing, err := a.source.FetchListing(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("fetch event %d: %w", id, err)
			}
			return printJSON(cmd.OutOrStdout(), listing)
		},
	}
}

func newGeocodeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "geocode <location>",
		Short: "Resolve a location string and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			geo, err := a.geocoder()
			if err != nil {
				return err
			}
			res, err := geo.Geocode(cmd.Context(), query)
			if err != nil {
				return err
			}
			if res == nil {
				return fmt.Errorf("no result for %q", query)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newDescribeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <text>",
		Short: "Generate a short description for a text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			gen, err := a.generator()
			if err != nil {
				return err
			}
			short, err := gen.Summarize(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), short)
			return err
		},
	}
}
