// Package cmd defines and implements the CLI commands for the showcrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/show-catalog-crawler/internal/config"
	"github.com/JakeFAU/show-catalog-crawler/internal/crawl"
	"github.com/JakeFAU/show-catalog-crawler/internal/reconcile"
	"github.com/JakeFAU/show-catalog-crawler/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Logger() *zap.Logger
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	SearchLetter(ctx context.Context, letter string) (crawl.SearchResult, error)
	SearchAll(ctx context.Context) (crawl.SearchResult, error)
	CrawlOnce(ctx context.Context, from, size int) (crawl.BatchResult, reconcile.Summary, error)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}
	return &serverApp{app: app}, nil
}

// serverApp adapts *server.App to App. Run closes the application itself, so
// Close only releases it once.
type serverApp struct {
	app       *server.App
	closeOnce sync.Once
	closeErr  error
}

func (s *serverApp) Logger() *zap.Logger { return s.app.Logger() }

func (s *serverApp) Run(ctx context.Context) error {
	err := s.app.Run(ctx)
	s.closeOnce.Do(func() {})
	return err
}

func (s *serverApp) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { s.closeErr = s.app.Close(ctx) })
	return s.closeErr
}

func (s *serverApp) SearchLetter(ctx context.Context, letter string) (crawl.SearchResult, error) {
	return s.app.Service().SearchLetter(ctx, letter)
}

func (s *serverApp) SearchAll(ctx context.Context) (crawl.SearchResult, error) {
	return s.app.Service().SearchAll(ctx)
}

func (s *serverApp) CrawlOnce(ctx context.Context, from, size int) (crawl.BatchResult, reconcile.Summary, error) {
	return s.app.Service().CrawlOnce(ctx, from, size)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "showcrawler",
		Short: "Mirrors a public TV show catalog into a local store.",
		Long: `showcrawler walks the show catalog by id, stores every show with its
cast, and serves the stored catalog over HTTP. Shows carrying an external
rating id are enriched from the rating service in the background.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Build the application after flags are parsed but before the
		// subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				if err := appInstance.Close(context.WithoutCancel(cmd.Context())); err != nil {
					return fmt.Errorf("close application: %w", err)
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables override it)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newSearchCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := execute(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "showcrawler:", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string, out io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}
