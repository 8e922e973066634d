// Package server builds the crawler's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/show-catalog-crawler/internal/api"
	"github.com/JakeFAU/show-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/show-catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/show-catalog-crawler/internal/config"
	"github.com/JakeFAU/show-catalog-crawler/internal/crawl"
	collyfetcher "github.com/JakeFAU/show-catalog-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/show-catalog-crawler/internal/logging"
	"github.com/JakeFAU/show-catalog-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/show-catalog-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/show-catalog-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/show-catalog-crawler/internal/publisher/pubsub"
	queuemem "github.com/JakeFAU/show-catalog-crawler/internal/queue/memory"
	"github.com/JakeFAU/show-catalog-crawler/internal/rating"
	"github.com/JakeFAU/show-catalog-crawler/internal/reconcile"
	gcsstorage "github.com/JakeFAU/show-catalog-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/show-catalog-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/show-catalog-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/show-catalog-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/show-catalog-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/show-catalog-crawler/internal/store"
	"github.com/JakeFAU/show-catalog-crawler/internal/telemetry"
	"github.com/JakeFAU/show-catalog-crawler/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	logCloser io.Closer

	registerer prometheus.Registerer
	clock      *system.Clock

	queue   *queuemem.WorkQueue
	shows   store.ShowStore
	service *crawl.Service
	worker  *worker.Loop
	ratings *rating.Pipeline
	api     *api.Server
	hub     *progress.Hub

	ready   []api.ReadyCheck
	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Option customizes Build.
type Option func(*App)

// WithLogger replaces the logger built from the logging section.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithRegisterer sets where progress metrics are registered. Defaults to the
// Prometheus default registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// Build creates the application's dependencies. On error every resource
// opened so far is released.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	app := &App{
		cfg:        cfg,
		registerer: prometheus.DefaultRegisterer,
		clock:      system.New(),
	}
	for _, opt := range opts {
		opt(app)
	}
	if err := app.build(ctx); err != nil {
		app.closeResources(context.Background())
		app.syncLogger()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	if err := a.setupLogger(); err != nil {
		return err
	}
	cfg := a.cfg
	a.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("catalog", cfg.Catalog.BaseURL),
		zap.String("database", cfg.Database.Backend),
		zap.Bool("rating_enabled", cfg.Rating.Enabled),
		zap.Bool("worker_enabled", cfg.Worker.Enabled),
	)

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName, a.logger.Named("trace"))
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
		a.addCloser("tracer", tp.Shutdown)
	}

	client, err := catalog.NewClient(
		collyfetcher.New(collyfetcher.Config{UserAgent: cfg.Catalog.UserAgent, Timeout: cfg.Catalog.Timeout}),
		catalog.ClientConfig{
			BaseURL:           cfg.Catalog.BaseURL,
			UserAgent:         cfg.Catalog.UserAgent,
			RequestsPerSecond: cfg.Catalog.RequestsPerSecond,
			Burst:             cfg.Catalog.Burst,
		},
		a.logger.Named("catalog"),
	)
	if err != nil {
		return fmt.Errorf("catalog client init failed: %w", err)
	}
	// The worker reacts to rate limits itself; batch and search calls retry.
	retrying := client
	if cfg.Catalog.MaxRetries > 0 {
		retrying = client.WithRetry(&catalog.LinearRetryPolicy{
			Step:       cfg.Catalog.RetryStep,
			MaxRetries: cfg.Catalog.MaxRetries,
		})
	}

	if err = a.setupShowStore(ctx); err != nil {
		return err
	}
	archive, err := a.setupArchive(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	if err = a.setupProgress(ctx, publisher); err != nil {
		return err
	}
	if err = a.setupRatings(ctx); err != nil {
		return err
	}

	var submitter reconcile.RatingSubmitter
	if a.ratings != nil {
		submitter = a.ratings
	}
	rec := reconcile.New(a.shows, submitter, a.logger.Named("reconcile"))

	a.queue = queuemem.NewWorkQueue()
	a.service = crawl.NewService(
		a.queue,
		a.shows,
		crawl.NewBatchCrawler(retrying, archive, cfg.Crawler.BatchSize, a.logger.Named("batch")),
		crawl.NewSearchCrawler(retrying, a.logger.Named("search")),
		rec,
		cfg.Crawler.SeedWindow,
		a.logger.Named("crawl"),
	)
	a.worker = worker.New(a.queue, client, rec, a.clock, a.clock, a.hub, worker.Config{
		DoneDelay:    cfg.Worker.DoneDelay,
		EmptyDelay:   cfg.Worker.EmptyDelay,
		BusyDelay:    cfg.Worker.BusyDelay,
		ErrorDelay:   cfg.Worker.ErrorDelay,
		RefillWindow: cfg.Worker.RefillWindow,
	}, a.logger.Named("worker"))

	var ratings api.Ratings
	if a.ratings != nil {
		ratings = a.ratings
	}
	a.api = api.NewServer(a.service, a.shows, api.Options{
		Ratings:        ratings,
		Ready:          a.ready,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         a.logger.Named("api"),
	})
	return nil
}

func (a *App) setupLogger() error {
	if a.logger != nil {
		return nil
	}
	l := a.cfg.Logging
	logger, c, err := logging.Build(logging.Config{
		Development: l.Development,
		Level:       l.Level,
		File:        l.File,
		MaxSizeMB:   l.MaxSizeMB,
		MaxBackups:  l.MaxBackups,
		MaxAgeDays:  l.MaxAgeDays,
		Compress:    l.Compress,
	})
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	a.logger = logger
	a.logCloser = c
	return nil
}

func (a *App) setupShowStore(ctx context.Context) error {
	db := a.cfg.Database
	switch db.Backend {
	case config.BackendPostgres:
		s, err := pgstore.NewShowStore(ctx, pgstore.ShowStoreConfig{
			DSN:             db.DSN,
			MaxConns:        db.MaxConns,
			MinConns:        db.MinConns,
			MaxConnLifetime: db.MaxConnLifetime,
		}, a.logger.Named("postgres"))
		if err != nil {
			return fmt.Errorf("show store init failed: %w", err)
		}
		a.addCloser("postgres", func(context.Context) error {
			s.Close()
			return nil
		})
		if db.EnsureSchema {
			if err := s.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("show store schema failed: %w", err)
			}
		}
		a.shows = s
		a.logger.Info("using postgres show store")
	default:
		a.shows = memorystorage.NewShowStore()
		a.logger.Info("using in-memory show store")
	}
	shows := a.shows
	a.ready = append(a.ready, func(ctx context.Context) error {
		if _, err := shows.MaxShowID(ctx); err != nil {
			return fmt.Errorf("show store: %w", err)
		}
		return nil
	})
	return nil
}

func (a *App) setupArchive(ctx context.Context) (catalog.ArchiveStore, error) {
	arc := a.cfg.Archive
	switch arc.Backend {
	case config.BackendGCS:
		s, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: arc.Bucket, Prefix: arc.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.addCloser("gcs", func(context.Context) error { return s.Close() })
		a.logger.Info("archiving payloads to GCS", zap.String("bucket", arc.Bucket))
		return s, nil
	case config.BackendLocal:
		s, err := localstorage.New(localstorage.Config{BaseDir: arc.Dir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving payloads locally", zap.String("dir", arc.Dir))
		return s, nil
	case config.BackendMemory:
		a.logger.Info("archiving payloads in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (catalog.Publisher, error) {
	ps := a.cfg.PubSub
	switch ps.Backend {
	case config.BackendPubSub:
		p, err := gcppublisher.Dial(ctx, ps.ProjectID, ps.TopicID, a.logger.Named("pubsub"))
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.addCloser("pubsub", func(context.Context) error { return p.Close() })
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", ps.ProjectID),
			zap.String("topic", ps.TopicID))
		return p, nil
	case config.BackendMemory:
		return memorypublisher.New(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupProgress(ctx context.Context, publisher catalog.Publisher) error {
	promSink, err := progresssinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	}
	if publisher != nil {
		sinkList = append(sinkList, progresssinks.NewPublisherSink(publisher))
	}
	if len(a.cfg.Notify.URLs) > 0 {
		notify, err := progresssinks.NewShoutrrrSink(a.cfg.Notify.URLs, a.logger.Named("notify"))
		if err != nil {
			return fmt.Errorf("notification sink init failed: %w", err)
		}
		sinkList = append(sinkList, notify)
	}
	a.hub = progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress_hub"),
	}, sinkList...)
	a.logger.Info("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return nil
}

func (a *App) setupRatings(ctx context.Context) error {
	rc := a.cfg.Rating
	if !rc.Enabled {
		a.logger.Info("rating enrichment disabled")
		return nil
	}
	if _, err := cron.ParseStandard(rc.DrainSchedule); err != nil {
		return fmt.Errorf("rating drain schedule %q: %w", rc.DrainSchedule, err)
	}

	var (
		table rating.Table
		queue rating.Queue
	)
	switch rc.Backend {
	case config.BackendSQLite:
		db, err := sqlitestore.Open(ctx, rc.SQLitePath)
		if err != nil {
			return fmt.Errorf("rating store init failed: %w", err)
		}
		a.addCloser("sqlite", func(context.Context) error { return db.Close() })
		table = sqlitestore.NewRatingTable(db)
		queue = sqlitestore.NewRatingQueue(db, a.clock, rc.Visibility)
		a.logger.Info("using sqlite rating store", zap.String("path", rc.SQLitePath))
	default:
		table = memorystorage.NewRatingTable()
		queue = memorystorage.NewRatingQueue(a.clock, rc.Visibility)
		a.logger.Info("using in-memory rating store")
	}

	svc, err := rating.NewOMDbClient(
		collyfetcher.New(collyfetcher.Config{UserAgent: rc.UserAgent, Timeout: rc.Timeout}),
		rating.OMDbConfig{BaseURL: rc.BaseURL, APIKey: rc.APIKey, UserAgent: rc.UserAgent},
	)
	if err != nil {
		return fmt.Errorf("rating service init failed: %w", err)
	}
	breaker := rating.NewBreaker(table, rc.Cooldown)
	if err := breaker.Load(ctx); err != nil {
		return fmt.Errorf("rating breaker load failed: %w", err)
	}
	a.ratings, err = rating.NewPipeline(table, queue, svc, a.shows, breaker, a.clock, rating.Config{
		TTL:       rc.TTL,
		Cooldown:  rc.Cooldown,
		BatchSize: rc.BatchSize,
	}, a.logger.Named("rating"))
	if err != nil {
		return fmt.Errorf("rating pipeline init failed: %w", err)
	}
	return nil
}

func (a *App) addCloser(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Service returns the operator trigger surface.
func (a *App) Service() *crawl.Service { return a.service }

// Worker returns the background id worker.
func (a *App) Worker() *worker.Loop { return a.worker }

// Ratings returns the rating pipeline, or nil when enrichment is disabled.
func (a *App) Ratings() *rating.Pipeline { return a.ratings }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// Run serves HTTP, runs the worker and the rating drain schedule, and blocks
// until ctx is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Crawler.AutoStart {
		seed, err := a.service.Start(ctx, a.cfg.Crawler.StartFrom)
		if err != nil {
			a.logger.Error("auto start failed", zap.Error(err))
		} else {
			a.logger.Info("crawl auto started", zap.Int("seed", seed))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	if a.cfg.Worker.Enabled {
		g.Go(func() error {
			a.logger.Info("worker started")
			a.worker.Run(gctx)
			a.logger.Info("worker stopped")
			return nil
		})
	}

	if a.ratings != nil {
		sched, err := a.drainSchedule(gctx)
		if err != nil {
			stop()
			_ = g.Wait()
			return errors.Join(err, a.Close(context.Background()))
		}
		sched.Start()
		g.Go(func() error {
			<-gctx.Done()
			<-sched.Stop().Done()
			return nil
		})
	}

	err := g.Wait()
	a.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(err, a.Close(shutdownCtx))
}

func (a *App) drainSchedule(ctx context.Context) (*cron.Cron, error) {
	clog := cronLogger{logger: a.logger.Named("cron").Sugar()}
	sched := cron.New(cron.WithLogger(clog), cron.WithChain(cron.SkipIfStillRunning(clog)))
	_, err := sched.AddFunc(a.cfg.Rating.DrainSchedule, func() {
		stats := a.ratings.Drain(ctx)
		a.logger.Debug("rating drain finished",
			zap.Int("received", stats.Received),
			zap.Int("found", stats.Found),
			zap.Int("not_found", stats.NotFound),
			zap.Int("deferred", stats.Deferred),
			zap.Int("failed", stats.Failed),
			zap.Bool("tripped", stats.Tripped))
	})
	if err != nil {
		return nil, fmt.Errorf("schedule rating drain: %w", err)
	}
	return sched, nil
}

// Close releases every resource in reverse order of acquisition. It is safe
// to call once after Run returns or instead of Run.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("progress hub: %w", err))
		}
	}
	errs = append(errs, a.closeResources(ctx)...)
	a.logger.Info("shutdown complete")
	a.syncLogger()
	return errors.Join(errs...)
}

func (a *App) closeResources(ctx context.Context) []error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			if a.logger != nil {
				a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			}
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errs
}

func (a *App) syncLogger() {
	if a.logger == nil {
		return
	}
	// Sync on stderr-backed loggers reports EINVAL on some platforms.
	_ = a.logger.Sync()
	if a.logCloser != nil {
		_ = a.logCloser.Close()
		a.logCloser = nil
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
