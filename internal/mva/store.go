package mva

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when an entry does not exist in the store.
var ErrNotFound = errors.New("mva: entry not found")

// DB is the subset of pgxpool.Pool used by Store.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists MVA entries in Postgres. It is the backing store written by
// the configuration endpoints and read wholesale when a snapshot is rebuilt.
type Store struct {
	DB DB
}

// NewStore constructs a Postgres-backed store.
func NewStore(db DB) *Store {
	return &Store{DB: db}
}

// Name implements Source.
func (s *Store) Name() string { return "postgres" }

const listEntriesSQL = `
SELECT product, origin_uf, destination_uf, mva_percent::text, description
FROM mva_entries
ORDER BY product, origin_uf, destination_uf`

// Entries implements Source.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("mva: store not configured")
	}
	rows, err := s.DB.Query(ctx, listEntriesSQL)
	if err != nil {
		return nil, fmt.Errorf("mva: list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mva: iterate entries: %w", err)
	}
	return entries, nil
}

const upsertEntrySQL = `
INSERT INTO mva_entries (product, origin_uf, destination_uf, mva_percent, description, updated_at)
VALUES ($1, $2, $3, $4::numeric, $5, now())
ON CONFLICT (product, origin_uf, destination_uf)
DO UPDATE SET mva_percent = EXCLUDED.mva_percent, description = EXCLUDED.description, updated_at = now()
RETURNING product, origin_uf, destination_uf, mva_percent::text, description`

// Upsert validates and writes e, returning the stored entry.
func (s *Store) Upsert(ctx context.Context, e Entry) (Entry, error) {
	if s == nil || s.DB == nil {
		return Entry{}, errors.New("mva: store not configured")
	}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	k := e.Key.Normalize()
	row := s.DB.QueryRow(ctx, upsertEntrySQL, k.Product, k.Origin, k.Destination, e.Percent.String(), e.Description)
	stored, err := scanEntry(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "22003", "23514": // numeric_value_out_of_range, check_violation
				return Entry{}, &EntryError{Key: k, Field: "percent", Reason: "out of range"}
			}
		}
		return Entry{}, fmt.Errorf("mva: upsert %s: %w", k, err)
	}
	return stored, nil
}

const deleteEntrySQL = `
DELETE FROM mva_entries WHERE product = $1 AND origin_uf = $2 AND destination_uf = $3`

// Delete removes the entry for key.
func (s *Store) Delete(ctx context.Context, key Key) error {
	if s == nil || s.DB == nil {
		return errors.New("mva: store not configured")
	}
	k := key.Normalize()
	tag, err := s.DB.Exec(ctx, deleteEntrySQL, k.Product, k.Origin, k.Destination)
	if err != nil {
		return fmt.Errorf("mva: delete %s: %w", k, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e       Entry
		percent string
	)
	if err := row.Scan(&e.Product, &e.Origin, &e.Destination, &percent, &e.Description); err != nil {
		return Entry{}, err
	}
	pct, err := decimal.NewFromString(percent)
	if err != nil {
		return Entry{}, fmt.Errorf("mva: parse percent %q: %w", percent, err)
	}
	e.Percent = pct
	e.Key = e.Key.Normalize()
	return e, nil
}
