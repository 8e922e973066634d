// Package crawl walks the catalog by sequential id and by initial letter and
// exposes the operator triggers that drive the background worker.
package crawl

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/show-catalog-crawler/internal/catalog"
)

// DefaultBatchSize is the number of ids probed by one Crawl call.
const DefaultBatchSize = 20

// Fetcher issues one categorized catalog request. *catalog.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (catalog.Response, error)
}

// BatchResult is the outcome of one Crawl call.
type BatchResult struct {
	// Attempted counts every probed id, including the final rate-limited one.
	Attempted int            `json:"attempted"`
	Shows     []catalog.Show `json:"shows"`
	// Backoff is set when the catalog rate limited the batch.
	Backoff bool `json:"backoff"`
}

// BatchCrawler probes consecutive show ids until the batch is full or the
// catalog asks it to back off.
type BatchCrawler struct {
	client      Fetcher
	archive     catalog.ArchiveStore
	defaultSize int
	logger      *zap.Logger
}

// NewBatchCrawler constructs a BatchCrawler. archive may be nil.
func NewBatchCrawler(client Fetcher, archive catalog.ArchiveStore, defaultSize int, logger *zap.Logger) *BatchCrawler {
	if defaultSize <= 0 {
		defaultSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchCrawler{client: client, archive: archive, defaultSize: defaultSize, logger: logger}
}

// Crawl probes start, start+1, ... up to maxBatchSize ids. Missing ids and
// other upstream errors count as probed and are skipped; a rate-limited probe
// sets Backoff and ends the batch. ctx is checked between probes; on
// cancellation the shows gathered so far are returned with ctx's error.
func (b *BatchCrawler) Crawl(ctx context.Context, start, maxBatchSize int) (BatchResult, error) {
	if maxBatchSize <= 0 {
		maxBatchSize = b.defaultSize
	}
	res := BatchResult{Shows: []catalog.Show{}}
	for res.Attempted < maxBatchSize {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("batch crawl canceled: %w", err)
		}
		id := start + res.Attempted
		resp, err := b.client.Fetch(ctx, catalog.ShowPath(id))
		if err != nil {
			return res, err
		}
		res.Attempted++

		switch resp.Status {
		case catalog.StatusOK:
			show, err := catalog.DecodeShow(resp.Body)
			if err != nil {
				b.logger.Warn("undecodable show payload", zap.Int("show_id", id), zap.Error(err))
				continue
			}
			b.archivePayload(ctx, id, resp.Body)
			res.Shows = append(res.Shows, show)
		case catalog.StatusNotFound:
			b.logger.Debug("show id not found", zap.Int("show_id", id))
		case catalog.StatusRateLimited:
			b.logger.Info("catalog rate limited, backing off", zap.Int("show_id", id))
			res.Backoff = true
			return res, nil
		default:
			b.logger.Warn("catalog error, skipping id",
				zap.Int("show_id", id), zap.Int("code", resp.Code), zap.Error(resp.Err))
		}
	}
	return res, nil
}

func (b *BatchCrawler) archivePayload(ctx context.Context, id int, body []byte) {
	if b.archive == nil {
		return
	}
	uri, err := b.archive.PutObject(ctx, fmt.Sprintf("shows/%d.json", id), "application/json", bytes.NewReader(body))
	if err != nil {
		b.logger.Warn("archive show payload failed", zap.Int("show_id", id), zap.Error(err))
		return
	}
	b.logger.Debug("show payload archived", zap.Int("show_id", id), zap.String("uri", uri))
}
