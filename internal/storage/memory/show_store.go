package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/show-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/show-catalog-crawler/internal/store"
)

type link struct {
	showID int
	castID int
}

// ShowStore implements store.ShowStore in memory. Transactions hold the store
// lock for their whole duration and keep an undo log for rollback.
type ShowStore struct {
	mu    sync.RWMutex
	shows map[int]catalog.Show
	cast  map[int]catalog.CastMember
	links map[link]struct{}
}

// NewShowStore constructs an empty ShowStore.
func NewShowStore() *ShowStore {
	return &ShowStore{
		shows: make(map[int]catalog.Show),
		cast:  make(map[int]catalog.CastMember),
		links: make(map[link]struct{}),
	}
}

// WithinTx runs fn under the store lock and undoes its writes if it fails.
func (s *ShowStore) WithinTx(ctx context.Context, fn func(tx store.ShowTx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &showTx{s: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()
	return fn(tx)
}

// MaxShowID returns the largest stored show id.
func (s *ShowStore) MaxShowID(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	maxID := 0
	for id := range s.shows {
		if id > maxID {
			maxID = id
		}
	}
	return maxID, nil
}

// ListShows returns one page of shows ordered by id with cast attached.
func (s *ShowStore) ListShows(_ context.Context, page, size int) ([]catalog.Show, error) {
	if page < 0 || size <= 0 {
		return nil, fmt.Errorf("invalid page %d size %d", page, size)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int, 0, len(s.shows))
	for id := range s.shows {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	offset := page * size
	if offset >= len(ids) {
		return []catalog.Show{}, nil
	}
	end := min(offset+size, len(ids))
	out := make([]catalog.Show, 0, end-offset)
	for _, id := range ids[offset:end] {
		show := s.shows[id]
		show.Cast = s.castOfLocked(id)
		out = append(out, show)
	}
	return out, nil
}

// SetRatingByExternalID sets the rating of every show with externalRatingID.
func (s *ShowStore) SetRatingByExternalID(_ context.Context, externalRatingID string, rating *float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, show := range s.shows {
		if show.ExternalRatingID != externalRatingID {
			continue
		}
		show.Rating = copyFloat(rating)
		s.shows[id] = show
		n++
	}
	return n, nil
}

// Counts reports the number of shows, cast members and associations.
func (s *ShowStore) Counts() (shows, cast, links int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.shows), len(s.cast), len(s.links)
}

func (s *ShowStore) castOfLocked(showID int) []catalog.CastMember {
	out := []catalog.CastMember{}
	for l := range s.links {
		if l.showID == showID {
			out = append(out, s.cast[l.castID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type showTx struct {
	s    *ShowStore
	undo []func()
}

func (t *showTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *showTx) GetShow(_ context.Context, id int) (catalog.Show, error) {
	show, ok := t.s.shows[id]
	if !ok {
		return catalog.Show{}, store.ErrNotFound
	}
	return show, nil
}

func (t *showTx) InsertShow(_ context.Context, show catalog.Show) error {
	if _, exists := t.s.shows[show.ID]; exists {
		return fmt.Errorf("show %d already exists", show.ID)
	}
	show.Cast = nil
	show.Rating = copyFloat(show.Rating)
	t.s.shows[show.ID] = show
	t.undo = append(t.undo, func() { delete(t.s.shows, show.ID) })
	return nil
}

func (t *showTx) UpdateShowName(_ context.Context, id int, name string) error {
	show, ok := t.s.shows[id]
	if !ok {
		return store.ErrNotFound
	}
	prev := show.Name
	show.Name = name
	t.s.shows[id] = show
	t.undo = append(t.undo, func() {
		restored := t.s.shows[id]
		restored.Name = prev
		t.s.shows[id] = restored
	})
	return nil
}

func (t *showTx) GetCastMember(_ context.Context, id int) (catalog.CastMember, error) {
	m, ok := t.s.cast[id]
	if !ok {
		return catalog.CastMember{}, store.ErrNotFound
	}
	return m, nil
}

func (t *showTx) UpsertCastMember(_ context.Context, member catalog.CastMember) error {
	prev, existed := t.s.cast[member.ID]
	t.s.cast[member.ID] = member
	t.undo = append(t.undo, func() {
		if existed {
			t.s.cast[member.ID] = prev
			return
		}
		delete(t.s.cast, member.ID)
	})
	return nil
}

func (t *showTx) ListShowCast(_ context.Context, showID int) ([]catalog.CastMember, error) {
	return t.s.castOfLocked(showID), nil
}

func (t *showTx) LinkCast(_ context.Context, showID, castID int) error {
	if _, ok := t.s.shows[showID]; !ok {
		return fmt.Errorf("link cast: show %d: %w", showID, store.ErrNotFound)
	}
	if _, ok := t.s.cast[castID]; !ok {
		return fmt.Errorf("link cast: cast member %d: %w", castID, store.ErrNotFound)
	}
	key := link{showID: showID, castID: castID}
	if _, exists := t.s.links[key]; exists {
		return nil
	}
	t.s.links[key] = struct{}{}
	t.undo = append(t.undo, func() { delete(t.s.links, key) })
	return nil
}

func (t *showTx) UnlinkCast(_ context.Context, showID, castID int) error {
	key := link{showID: showID, castID: castID}
	if _, exists := t.s.links[key]; !exists {
		return nil
	}
	delete(t.s.links, key)
	t.undo = append(t.undo, func() { t.s.links[key] = struct{}{} })
	return nil
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
