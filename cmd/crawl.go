package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates the 'crawl' subcommand, which probes one batch of
// consecutive show ids and stores what it finds.
func newCrawlCmd() *cobra.Command {
	var (
		from int
		size int
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls one batch of show ids",
		Long: `Probes consecutive show ids starting at --from and stores every show
found. A negative --from resumes after the largest stored id. The batch stops
early when the catalog rate limits it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, sum, err := appInstance.CrawlOnce(cmd.Context(), from, size)
			if err != nil {
				return fmt.Errorf("crawl batch: %w", err)
			}
			appInstance.Logger().Info("crawl command finished",
				zap.Int("attempted", res.Attempted),
				zap.Int("found", len(res.Shows)),
				zap.Bool("backoff", res.Backoff))
			return writeJSON(cmd, map[string]any{
				"attempted": res.Attempted,
				"found":     len(res.Shows),
				"backoff":   res.Backoff,
				"stored":    sum,
			})
		},
	}
	cmd.Flags().IntVar(&from, "from", -1, "first show id to probe (negative resumes after the largest stored id)")
	cmd.Flags().IntVar(&size, "size", 0, "maximum number of ids to probe (0 uses crawler.batch_size)")
	return cmd
}

// newServeCmd creates the 'serve' subcommand that runs the HTTP API, the id
// worker and the rating drain schedule until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the crawler service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Run(cmd.Context()); err != nil {
				return fmt.Errorf("run service: %w", err)
			}
			return nil
		},
	}
}

// newSearchCmd creates the 'search' subcommand.
func newSearchCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "search [letter]",
		Short: "Searches the catalog by initial letter and stores the results",
		Args: func(_ *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("--all takes no letter, got %q", args[0])
			}
			if !all && len(args) != 1 {
				return fmt.Errorf("expected exactly one letter or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if all {
				res, err := appInstance.SearchAll(cmd.Context())
				if err != nil {
					return fmt.Errorf("search all letters: %w", err)
				}
				return writeJSON(cmd, res)
			}
			res, err := appInstance.SearchLetter(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("search letter %q: %w", args[0], err)
			}
			return writeJSON(cmd, res)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "search every letter a-z")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
