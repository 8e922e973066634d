// Package postgres provides the Postgres-backed show store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/show-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/show-catalog-crawler/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// ShowStoreConfig controls the Postgres connection pool.
type ShowStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ShowStore implements store.ShowStore on Postgres.
type ShowStore struct {
	pool   pool
	logger *zap.Logger
}

// NewShowStore connects a pgx pool using cfg.
func NewShowStore(ctx context.Context, cfg ShowStoreConfig, logger *zap.Logger) (*ShowStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewShowStoreWithPool(p, logger)
}

// NewShowStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewShowStoreWithPool(p pool, logger *zap.Logger) (*ShowStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShowStore{pool: p, logger: logger}, nil
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *ShowStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ShowStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// WithinTx runs fn inside one database transaction.
func (s *ShowStore) WithinTx(ctx context.Context, fn func(tx store.ShowTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&showTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// MaxShowID returns the largest stored show id, or 0.
func (s *ShowStore) MaxShowID(ctx context.Context) (int, error) {
	var maxID int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM shows`).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("select max show id: %w", err)
	}
	return int(maxID), nil
}

// ListShows returns one zero-based page of shows ordered by id with cast.
func (s *ShowStore) ListShows(ctx context.Context, page, size int) ([]catalog.Show, error) {
	if page < 0 || size <= 0 {
		return nil, fmt.Errorf("invalid page %d size %d", page, size)
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, name, external_rating_id, rating, last_modified
FROM shows ORDER BY id LIMIT $1 OFFSET $2`, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("select shows: %w", err)
	}
	shows, err := collectShows(rows)
	if err != nil {
		return nil, err
	}
	if len(shows) == 0 {
		return shows, nil
	}

	ids := make([]int64, len(shows))
	index := make(map[int]int, len(shows))
	for i := range shows {
		ids[i] = int64(shows[i].ID)
		index[shows[i].ID] = i
		shows[i].Cast = []catalog.CastMember{}
	}
	castRows, err := s.pool.Query(ctx, `
SELECT sc.show_id, c.id, c.name, c.birthdate
FROM show_cast_members sc JOIN cast_members c ON c.id = sc.cast_member_id
WHERE sc.show_id = ANY($1) ORDER BY sc.show_id, c.id`, ids)
	if err != nil {
		return nil, fmt.Errorf("select show cast: %w", err)
	}
	defer castRows.Close()
	for castRows.Next() {
		var (
			showID int64
			m      catalog.CastMember
		)
		if err := scanCastMember(castRows, &showID, &m); err != nil {
			return nil, err
		}
		i := index[int(showID)]
		shows[i].Cast = append(shows[i].Cast, m)
	}
	if err := castRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate show cast: %w", err)
	}
	return shows, nil
}

// SetRatingByExternalID updates the rating of every matching show.
func (s *ShowStore) SetRatingByExternalID(ctx context.Context, externalRatingID string, rating *float64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE shows SET rating = $1 WHERE external_rating_id = $2`, rating, externalRatingID)
	if err != nil {
		return 0, fmt.Errorf("update show rating: %w", err)
	}
	return tag.RowsAffected(), nil
}

type showTx struct {
	tx pgx.Tx
}

func (t *showTx) GetShow(ctx context.Context, id int) (catalog.Show, error) {
	row := t.tx.QueryRow(ctx, `
SELECT id, name, external_rating_id, rating, last_modified FROM shows WHERE id = $1`, id)
	show, err := scanShow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Show{}, store.ErrNotFound
	}
	if err != nil {
		return catalog.Show{}, fmt.Errorf("select show %d: %w", id, err)
	}
	return show, nil
}

func (t *showTx) InsertShow(ctx context.Context, show catalog.Show) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO shows (id, name, external_rating_id, rating, last_modified)
VALUES ($1, $2, $3, $4, $5)`,
		show.ID, show.Name, nullString(show.ExternalRatingID), show.Rating, nullTime(show.LastModified))
	if err != nil {
		return fmt.Errorf("insert show %d: %w", show.ID, err)
	}
	return nil
}

func (t *showTx) UpdateShowName(ctx context.Context, id int, name string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE shows SET name = $1 WHERE id = $2`, name, id)
	if err != nil {
		return fmt.Errorf("update show %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *showTx) GetCastMember(ctx context.Context, id int) (catalog.CastMember, error) {
	var (
		m         catalog.CastMember
		castID    int64
		birthdate *time.Time
	)
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, birthdate FROM cast_members WHERE id = $1`, id,
	).Scan(&castID, &m.Name, &birthdate)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.CastMember{}, store.ErrNotFound
	}
	if err != nil {
		return catalog.CastMember{}, fmt.Errorf("select cast member %d: %w", id, err)
	}
	m.ID = int(castID)
	m.Birthdate = birthdate
	return m, nil
}

func (t *showTx) UpsertCastMember(ctx context.Context, m catalog.CastMember) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO cast_members (id, name, birthdate) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, birthdate = EXCLUDED.birthdate`,
		m.ID, m.Name, m.Birthdate)
	if err != nil {
		return fmt.Errorf("upsert cast member %d: %w", m.ID, err)
	}
	return nil
}

func (t *showTx) ListShowCast(ctx context.Context, showID int) ([]catalog.CastMember, error) {
	rows, err := t.tx.Query(ctx, `
SELECT sc.show_id, c.id, c.name, c.birthdate
FROM show_cast_members sc JOIN cast_members c ON c.id = sc.cast_member_id
WHERE sc.show_id = $1 ORDER BY c.id`, showID)
	if err != nil {
		return nil, fmt.Errorf("select show cast: %w", err)
	}
	defer rows.Close()
	out := []catalog.CastMember{}
	for rows.Next() {
		var (
			sid int64
			m   catalog.CastMember
		)
		if err := scanCastMember(rows, &sid, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate show cast: %w", err)
	}
	return out, nil
}

func (t *showTx) LinkCast(ctx context.Context, showID, castID int) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO show_cast_members (show_id, cast_member_id) VALUES ($1, $2)
ON CONFLICT (show_id, cast_member_id) DO NOTHING`, showID, castID)
	if err != nil {
		return fmt.Errorf("link show %d cast %d: %w", showID, castID, err)
	}
	return nil
}

func (t *showTx) UnlinkCast(ctx context.Context, showID, castID int) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM show_cast_members WHERE show_id = $1 AND cast_member_id = $2`, showID, castID)
	if err != nil {
		return fmt.Errorf("unlink show %d cast %d: %w", showID, castID, err)
	}
	return nil
}

func scanShow(row pgx.Row) (catalog.Show, error) {
	var (
		id           int64
		show         catalog.Show
		externalID   *string
		rating       *float64
		lastModified *time.Time
	)
	if err := row.Scan(&id, &show.Name, &externalID, &rating, &lastModified); err != nil {
		return catalog.Show{}, err
	}
	show.ID = int(id)
	if externalID != nil {
		show.ExternalRatingID = *externalID
	}
	show.Rating = rating
	if lastModified != nil {
		show.LastModified = lastModified.UTC()
	}
	return show, nil
}

func collectShows(rows pgx.Rows) ([]catalog.Show, error) {
	defer rows.Close()
	out := []catalog.Show{}
	for rows.Next() {
		show, err := scanShow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan show: %w", err)
		}
		out = append(out, show)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shows: %w", err)
	}
	return out, nil
}

func scanCastMember(rows pgx.Rows, showID *int64, m *catalog.CastMember) error {
	var (
		id        int64
		birthdate *time.Time
	)
	if err := rows.Scan(showID, &id, &m.Name, &birthdate); err != nil {
		return fmt.Errorf("scan cast member: %w", err)
	}
	m.ID = int(id)
	m.Birthdate = birthdate
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
