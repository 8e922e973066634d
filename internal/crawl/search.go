package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/show-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/show-catalog-crawler/internal/reconcile"
)

var (
	// ErrInvalidLetter is returned for a query that is not a single letter A-Z.
	ErrInvalidLetter = errors.New("search query must be a single letter A-Z")
	// ErrRetryLater means the catalog did not answer this round.
	ErrRetryLater = errors.New("catalog unavailable, retry later")
)

// SearchCrawler looks shows up by initial letter. The catalog returns at most
// catalog.MaxSearchResults matches per query and does not paginate.
type SearchCrawler struct {
	client Fetcher
	logger *zap.Logger
}

// NewSearchCrawler constructs a SearchCrawler.
func NewSearchCrawler(client Fetcher, logger *zap.Logger) *SearchCrawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchCrawler{client: client, logger: logger}
}

// NormalizeLetter validates letter and returns it upper-cased.
func NormalizeLetter(letter string) (string, error) {
	l := strings.ToUpper(strings.TrimSpace(letter))
	if len(l) != 1 || l[0] < 'A' || l[0] > 'Z' {
		return "", ErrInvalidLetter
	}
	return l, nil
}

// Search runs one search request. Results never carry cast.
func (s *SearchCrawler) Search(ctx context.Context, letter string) ([]catalog.Show, error) {
	l, err := NormalizeLetter(letter)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Fetch(ctx, catalog.SearchPath(l))
	if err != nil {
		return nil, err
	}
	if resp.Status != catalog.StatusOK {
		s.logger.Info("search not answered",
			zap.String("letter", l), zap.String("status", resp.Status.String()))
		return nil, ErrRetryLater
	}
	shows, err := catalog.DecodeSearch(resp.Body)
	if err != nil {
		s.logger.Warn("undecodable search payload", zap.String("letter", l), zap.Error(err))
		return nil, ErrRetryLater
	}
	return shows, nil
}

// CastFetcher returns a callback that fetches a show's cast on demand.
func (s *SearchCrawler) CastFetcher() reconcile.CastFetcher {
	return func(ctx context.Context, showID int) ([]catalog.CastMember, error) {
		resp, err := s.client.Fetch(ctx, catalog.CastPath(showID))
		if err != nil {
			return nil, err
		}
		if resp.Status != catalog.StatusOK {
			return nil, fmt.Errorf("fetch cast for show %d: %s", showID, resp.Status)
		}
		return catalog.DecodeCast(resp.Body)
	}
}
