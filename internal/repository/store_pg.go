package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Domenick1991/venuebooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_status_idx ON documents (collection, (body->>'status'));
`

// Migrate creates the document table when missing.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate documents: %w", err)
	}
	return nil
}

// PGStore stores one collection of JSON documents in Postgres.
type PGStore[T any, P interface {
	*T
	Document
}] struct {
	db         *pgxpool.Pool
	collection string
}

func NewPGStore[T any, P interface {
	*T
	Document
}](db *pgxpool.Pool, collection string) *PGStore[T, P] {
	return &PGStore[T, P]{db: db, collection: collection}
}

func (s *PGStore[T, P]) Get(ctx context.Context, id string) (*T, error) {
	var body []byte
	err := s.db.QueryRow(ctx, `SELECT body FROM documents WHERE collection=$1 AND id=$2`, s.collection, id).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var doc T
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", s.collection, id, err)
	}
	return &doc, nil
}

func (s *PGStore[T, P]) Upsert(ctx context.Context, doc *T) error {
	id := P(doc).GetID()
	if id == "" {
		return fmt.Errorf("upsert %s: empty document id", s.collection)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO documents (collection, id, body, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, id) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`, s.collection, id, body)
	return err
}

func (s *PGStore[T, P]) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.Exec(ctx, `DELETE FROM documents WHERE collection=$1 AND id=$2`, s.collection, id)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (s *PGStore[T, P]) Find(ctx context.Context, field, value string) ([]*T, error) {
	rows, err := s.db.Query(ctx, `SELECT body FROM documents WHERE collection=$1 AND body->>$2 = $3 ORDER BY id`, s.collection, field, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var doc T
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.collection, err)
		}
		out = append(out, &doc)
	}
	return out, rows.Err()
}

func NewPGRepositories(db *pgxpool.Pool) *Repositories {
	return &Repositories{
		Bookings:       NewPGStore[domain.Booking](db, CollectionBookings),
		Occurrences:    NewPGStore[domain.Occurrence](db, CollectionOccurrences),
		Venues:         NewPGStore[domain.Venue](db, CollectionVenues),
		Events:         NewPGStore[domain.Event](db, CollectionEvents),
		Categories:     NewPGStore[domain.Category](db, CollectionCategories),
		ChangeRequests: NewPGStore[domain.ChangeRequest](db, CollectionChangeRequests),
	}
}

var _ BookingRepository = (*PGStore[domain.Booking, *domain.Booking])(nil)
