// Package reconcile merges scraped shows into the persistent store without
// duplicating cast members that recur across shows.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/show-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/show-catalog-crawler/internal/metrics"
	"github.com/JakeFAU/show-catalog-crawler/internal/store"
)

// CastFetcher loads the cast of a show that was scraped without one.
type CastFetcher func(ctx context.Context, showID int) ([]catalog.CastMember, error)

// RatingSubmitter receives an enrichment request for every stored show that
// carries an external rating id.
type RatingSubmitter interface {
	Submit(ctx context.Context, externalRatingID string, showID int) error
}

// Summary counts the outcome of one Store call.
type Summary struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
}

// Reconciler writes scraped shows through a store.ShowStore.
type Reconciler struct {
	store   store.ShowStore
	ratings RatingSubmitter
	logger  *zap.Logger
}

// New constructs a Reconciler. ratings may be nil.
func New(s store.ShowStore, ratings RatingSubmitter, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: s, ratings: ratings, logger: logger}
}

// Store persists every show in its own unit of work. A failing show is logged
// and counted; the remaining shows are still processed. Store returns early,
// with what it has done so far, once ctx is canceled.
func (r *Reconciler) Store(ctx context.Context, shows []catalog.Show, fetchCast CastFetcher) Summary {
	var sum Summary
	for _, show := range shows {
		if ctx.Err() != nil {
			r.logger.Info("reconcile canceled", zap.Int("remaining", len(shows)-sum.Inserted-sum.Updated-sum.Failed))
			return sum
		}
		inserted, err := r.storeOne(ctx, show, fetchCast)
		switch {
		case err != nil:
			sum.Failed++
			metrics.ObserveReconcile("failed")
			r.logger.Error("store show failed", zap.Int("show_id", show.ID), zap.Error(err))
			continue
		case inserted:
			sum.Inserted++
			metrics.ObserveReconcile("inserted")
		default:
			sum.Updated++
			metrics.ObserveReconcile("updated")
		}
		r.submitRating(ctx, show)
	}
	return sum
}

func (r *Reconciler) storeOne(ctx context.Context, show catalog.Show, fetchCast CastFetcher) (bool, error) {
	if !show.HasCast() && fetchCast != nil {
		cast, err := fetchCast(ctx, show.ID)
		if err != nil {
			r.logger.Warn("fetch cast failed, storing show without cast",
				zap.Int("show_id", show.ID), zap.Error(err))
		} else {
			show.Cast = cast
			if show.Cast == nil {
				show.Cast = []catalog.CastMember{}
			}
		}
	}
	cast := dedupeCast(show.Cast)

	var inserted bool
	err := r.store.WithinTx(ctx, func(tx store.ShowTx) error {
		_, err := tx.GetShow(ctx, show.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			inserted = true
			return insertShow(ctx, tx, show, cast)
		case err != nil:
			return fmt.Errorf("get show: %w", err)
		default:
			return updateShow(ctx, tx, show, cast)
		}
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func insertShow(ctx context.Context, tx store.ShowTx, show catalog.Show, cast []catalog.CastMember) error {
	row := show
	row.Cast = nil
	if err := tx.InsertShow(ctx, row); err != nil {
		return fmt.Errorf("insert show: %w", err)
	}
	for _, member := range cast {
		if err := linkResolved(ctx, tx, show.ID, member); err != nil {
			return err
		}
	}
	return nil
}

// updateShow applies the scraped show over the stored one. A show scraped
// without cast leaves the stored associations alone.
func updateShow(ctx context.Context, tx store.ShowTx, show catalog.Show, cast []catalog.CastMember) error {
	if err := tx.UpdateShowName(ctx, show.ID, show.Name); err != nil {
		return fmt.Errorf("update show name: %w", err)
	}
	if cast == nil {
		return nil
	}
	current, err := tx.ListShowCast(ctx, show.ID)
	if err != nil {
		return fmt.Errorf("list show cast: %w", err)
	}
	linked := make(map[int]struct{}, len(current))
	for _, m := range current {
		linked[m.ID] = struct{}{}
	}
	keep := make(map[int]struct{}, len(cast))
	for _, member := range cast {
		keep[member.ID] = struct{}{}
		if _, ok := linked[member.ID]; ok {
			if err := tx.UpsertCastMember(ctx, member); err != nil {
				return fmt.Errorf("update cast member %d: %w", member.ID, err)
			}
			continue
		}
		if err := linkResolved(ctx, tx, show.ID, member); err != nil {
			return err
		}
	}
	for _, m := range current {
		if _, ok := keep[m.ID]; ok {
			continue
		}
		if err := tx.UnlinkCast(ctx, show.ID, m.ID); err != nil {
			return fmt.Errorf("unlink cast member %d: %w", m.ID, err)
		}
	}
	return nil
}

// linkResolved links member to showID, reusing the stored row when one exists
// so that an existing identity is never overwritten by a new association.
func linkResolved(ctx context.Context, tx store.ShowTx, showID int, member catalog.CastMember) error {
	_, err := tx.GetCastMember(ctx, member.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := tx.UpsertCastMember(ctx, member); err != nil {
			return fmt.Errorf("insert cast member %d: %w", member.ID, err)
		}
	case err != nil:
		return fmt.Errorf("get cast member %d: %w", member.ID, err)
	}
	if err := tx.LinkCast(ctx, showID, member.ID); err != nil {
		return fmt.Errorf("link cast member %d: %w", member.ID, err)
	}
	return nil
}

// dedupeCast collapses repeated cast ids, keeping the first occurrence.
func dedupeCast(cast []catalog.CastMember) []catalog.CastMember {
	if cast == nil {
		return nil
	}
	seen := make(map[int]struct{}, len(cast))
	out := make([]catalog.CastMember, 0, len(cast))
	for _, m := range cast {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

func (r *Reconciler) submitRating(ctx context.Context, show catalog.Show) {
	if r.ratings == nil || show.ExternalRatingID == "" {
		return
	}
	if err := r.ratings.Submit(ctx, show.ExternalRatingID, show.ID); err != nil {
		r.logger.Warn("submit rating request failed",
			zap.Int("show_id", show.ID),
			zap.String("external_rating_id", show.ExternalRatingID),
			zap.Error(err))
	}
}
