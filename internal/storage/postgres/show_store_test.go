package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/show-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/show-catalog-crawler/internal/store"
)

func newMockStore(t *testing.T) (*ShowStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewShowStoreWithPool(mock, nil)
	require.NoError(t, err)
	return s, mock
}

func TestWithinTxCommits(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO shows").
		WithArgs(1, "Under the Dome", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO cast_members").
		WithArgs(7, "Mike Vogel", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO show_cast_members").
		WithArgs(1, 7).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ctx := context.Background()
	err := s.WithinTx(ctx, func(tx store.ShowTx) error {
		if err := tx.InsertShow(ctx, catalog.Show{ID: 1, Name: "Under the Dome", ExternalRatingID: "tt1553656"}); err != nil {
			return err
		}
		if err := tx.UpsertCastMember(ctx, catalog.CastMember{ID: 7, Name: "Mike Vogel"}); err != nil {
			return err
		}
		return tx.LinkCast(ctx, 1, 7)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE shows SET name").
		WithArgs("New", 1).
		WillReturnError(errors.New("serialization failure"))
	mock.ExpectRollback()

	ctx := context.Background()
	err := s.WithinTx(ctx, func(tx store.ShowTx) error {
		return tx.UpdateShowName(ctx, 1, "New")
	})
	require.ErrorContains(t, err, "serialization failure")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateShowNameMissingRow(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE shows SET name").
		WithArgs("New", 99).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	ctx := context.Background()
	err := s.WithinTx(ctx, func(tx store.ShowTx) error {
		return tx.UpdateShowName(ctx, 99, "New")
	})
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetShowAndCastMember(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	ext := "tt1"
	rating := 8.1
	modified := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	birth := time.Date(1979, 7, 17, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, name, external_rating_id, rating, last_modified FROM shows WHERE id").
		WithArgs(1).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "external_rating_id", "rating", "last_modified"}).
			AddRow(int64(1), "Under the Dome", &ext, &rating, &modified))
	mock.ExpectQuery("SELECT id, name, external_rating_id, rating, last_modified FROM shows WHERE id").
		WithArgs(2).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT id, name, birthdate FROM cast_members").
		WithArgs(7).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "birthdate"}).
			AddRow(int64(7), "Mike Vogel", &birth))
	mock.ExpectQuery("SELECT id, name, birthdate FROM cast_members").
		WithArgs(8).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectCommit()

	ctx := context.Background()
	err := s.WithinTx(ctx, func(tx store.ShowTx) error {
		show, err := tx.GetShow(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, "tt1", show.ExternalRatingID)
		require.InDelta(t, 8.1, *show.Rating, 1e-9)
		require.Equal(t, modified, show.LastModified)

		_, err = tx.GetShow(ctx, 2)
		require.ErrorIs(t, err, store.ErrNotFound)

		m, err := tx.GetCastMember(ctx, 7)
		require.NoError(t, err)
		require.Equal(t, 7, m.ID)
		require.Equal(t, birth, *m.Birthdate)

		_, err = tx.GetCastMember(ctx, 8)
		require.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnlinkCast(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM show_cast_members").
		WithArgs(1, 2).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	ctx := context.Background()
	require.NoError(t, s.WithinTx(ctx, func(tx store.ShowTx) error {
		return tx.UnlinkCast(ctx, 1, 2)
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMaxShowID(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(id\), 0\) FROM shows`).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(int64(4321)))

	got, err := s.MaxShowID(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4321, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetRatingByExternalID(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	v := 7.5
	mock.ExpectExec("UPDATE shows SET rating").
		WithArgs(&v, "tt1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := s.SetRatingByExternalID(context.Background(), "tt1", &v)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListShowsAttachesCast(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	ext := "tt1"
	rating := 8.1
	modified := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	birth := time.Date(1979, 7, 17, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, name, external_rating_id, rating, last_modified\\s+FROM shows ORDER BY id").
		WithArgs(2, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "external_rating_id", "rating", "last_modified"}).
			AddRow(int64(1), "One", &ext, &rating, &modified).
			AddRow(int64(2), "Two", &ext, &rating, &modified))
	mock.ExpectQuery("FROM show_cast_members sc JOIN cast_members").
		WithArgs([]int64{1, 2}).
		WillReturnRows(pgxmock.NewRows([]string{"show_id", "id", "name", "birthdate"}).
			AddRow(int64(1), int64(7), "Seven", &birth).
			AddRow(int64(1), int64(8), "Eight", &birth))

	shows, err := s.ListShows(context.Background(), 0, 2)
	require.NoError(t, err)
	require.Len(t, shows, 2)
	require.Len(t, shows[0].Cast, 2)
	require.NotNil(t, shows[1].Cast)
	require.Empty(t, shows[1].Cast)
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = s.ListShows(context.Background(), -1, 2)
	require.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS shows").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewShowStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewShowStore(context.Background(), ShowStoreConfig{}, nil)
	require.EqualError(t, err, "database.dsn is required")
	_, err = NewShowStoreWithPool(nil, nil)
	require.Error(t, err)
}
