package store

import (
	"context"
	"errors"

	"github.com/JakeFAU/show-catalog-crawler/internal/catalog"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ShowStore is the persistent store of shows, cast members and their
// associations.
type ShowStore interface {
	// WithinTx runs fn in one unit of work. The unit commits when fn returns
	// nil and is rolled back otherwise.
	WithinTx(ctx context.Context, fn func(tx ShowTx) error) error
	// MaxShowID returns the largest stored show id, or 0 when the store is empty.
	MaxShowID(ctx context.Context) (int, error)
	// ListShows returns one page (zero-based) of shows ordered by id, each with
	// its cast attached.
	ListShows(ctx context.Context, page, size int) ([]catalog.Show, error)
	// SetRatingByExternalID sets the rating of every show carrying
	// externalRatingID and reports how many rows changed. A nil rating clears it.
	SetRatingByExternalID(ctx context.Context, externalRatingID string, rating *float64) (int64, error)
}

// ShowTx is the set of operations available inside WithinTx.
type ShowTx interface {
	// GetShow returns the stored show without cast, or ErrNotFound.
	GetShow(ctx context.Context, id int) (catalog.Show, error)
	InsertShow(ctx context.Context, show catalog.Show) error
	UpdateShowName(ctx context.Context, id int, name string) error

	// GetCastMember returns the stored cast member, or ErrNotFound.
	GetCastMember(ctx context.Context, id int) (catalog.CastMember, error)
	// UpsertCastMember inserts member or overwrites the stored name and birthdate.
	UpsertCastMember(ctx context.Context, member catalog.CastMember) error

	// ListShowCast returns the cast members linked to showID.
	ListShowCast(ctx context.Context, showID int) ([]catalog.CastMember, error)
	// LinkCast links a show and a cast member. Linking an existing pair is a no-op.
	LinkCast(ctx context.Context, showID, castID int) error
	// UnlinkCast removes the association only; the cast member row is kept.
	UnlinkCast(ctx context.Context, showID, castID int) error
}
