package crawl

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/show-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/show-catalog-crawler/internal/reconcile"
)

// DefaultSeedWindow is the number of ids enqueued by Start.
const DefaultSeedWindow = 30

// WorkQueue is the part of the pending-id queue the triggers need.
type WorkQueue interface {
	EnqueueRange(start, count int) int
	Clear()
	Len() int
}

// Reconciler stores scraped shows.
type Reconciler interface {
	Store(ctx context.Context, shows []catalog.Show, fetchCast reconcile.CastFetcher) reconcile.Summary
}

// MaxIDSource reports the largest stored show id.
type MaxIDSource interface {
	MaxShowID(ctx context.Context) (int, error)
}

// SearchResult summarizes one or more letter searches.
type SearchResult struct {
	Letters    []string          `json:"letters"`
	RetryLater []string          `json:"retry_later,omitempty"`
	Found      int               `json:"found"`
	Stored     reconcile.Summary `json:"stored"`
}

// Service implements the operator triggers. It never calls the catalog for
// the id crawl itself; Start only seeds the queue the worker drains.
type Service struct {
	queue      WorkQueue
	maxIDs     MaxIDSource
	batch      *BatchCrawler
	search     *SearchCrawler
	reconciler Reconciler
	seedWindow int
	logger     *zap.Logger
}

// NewService wires the triggers.
func NewService(
	queue WorkQueue,
	maxIDs MaxIDSource,
	batch *BatchCrawler,
	search *SearchCrawler,
	reconciler Reconciler,
	seedWindow int,
	logger *zap.Logger,
) *Service {
	if seedWindow <= 0 {
		seedWindow = DefaultSeedWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		queue:      queue,
		maxIDs:     maxIDs,
		batch:      batch,
		search:     search,
		reconciler: reconciler,
		seedWindow: seedWindow,
		logger:     logger,
	}
}

// Start clears the queue and seeds it from from. A negative from resumes
// after the largest stored id. It returns the first seeded id.
func (s *Service) Start(ctx context.Context, from int) (int, error) {
	seed, err := s.resolveSeed(ctx, from)
	if err != nil {
		return 0, err
	}
	s.queue.Clear()
	n := s.queue.EnqueueRange(seed, s.seedWindow)
	s.logger.Info("crawl started", zap.Int("seed", seed), zap.Int("enqueued", n))
	return seed, nil
}

// Stop drops every pending id. A tick already in flight still completes.
func (s *Service) Stop() {
	pending := s.queue.Len()
	s.queue.Clear()
	s.logger.Info("crawl stopped", zap.Int("dropped", pending))
}

// Pending reports how many ids are waiting for the worker.
func (s *Service) Pending() int {
	return s.queue.Len()
}

// SearchLetter searches one letter and stores the matches, fetching cast
// lazily for each.
func (s *Service) SearchLetter(ctx context.Context, letter string) (SearchResult, error) {
	l, err := NormalizeLetter(letter)
	if err != nil {
		return SearchResult{}, err
	}
	shows, err := s.search.Search(ctx, l)
	if err != nil {
		return SearchResult{Letters: []string{l}}, err
	}
	sum := s.reconciler.Store(ctx, shows, s.search.CastFetcher())
	s.logger.Info("letter searched",
		zap.String("letter", l),
		zap.Int("found", len(shows)),
		zap.Int("inserted", sum.Inserted),
		zap.Int("updated", sum.Updated),
		zap.Int("failed", sum.Failed))
	return SearchResult{Letters: []string{l}, Found: len(shows), Stored: sum}, nil
}

// SearchAll searches A through Z one letter at a time. Letters the catalog
// did not answer are listed in RetryLater.
func (s *Service) SearchAll(ctx context.Context) (SearchResult, error) {
	var total SearchResult
	for c := 'A'; c <= 'Z'; c++ {
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("search canceled: %w", err)
		}
		res, err := s.SearchLetter(ctx, string(c))
		total.Letters = append(total.Letters, string(c))
		switch {
		case errors.Is(err, ErrRetryLater):
			total.RetryLater = append(total.RetryLater, string(c))
			continue
		case err != nil:
			return total, err
		}
		total.Found += res.Found
		total.Stored.Inserted += res.Stored.Inserted
		total.Stored.Updated += res.Stored.Updated
		total.Stored.Failed += res.Stored.Failed
	}
	return total, nil
}

// CrawlOnce runs one batch from from (negative resumes after the largest
// stored id) and stores what it found.
func (s *Service) CrawlOnce(ctx context.Context, from, size int) (BatchResult, reconcile.Summary, error) {
	seed, err := s.resolveSeed(ctx, from)
	if err != nil {
		return BatchResult{}, reconcile.Summary{}, err
	}
	res, err := s.batch.Crawl(ctx, seed, size)
	sum := s.reconciler.Store(ctx, res.Shows, nil)
	if err != nil {
		return res, sum, err
	}
	s.logger.Info("batch crawled",
		zap.Int("start", seed),
		zap.Int("attempted", res.Attempted),
		zap.Int("found", len(res.Shows)),
		zap.Bool("backoff", res.Backoff))
	return res, sum, nil
}

func (s *Service) resolveSeed(ctx context.Context, from int) (int, error) {
	if from >= 0 {
		return from, nil
	}
	maxID, err := s.maxIDs.MaxShowID(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve resume id: %w", err)
	}
	return maxID + 1, nil
}
