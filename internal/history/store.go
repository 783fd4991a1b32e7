package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Entry is one handled forecast request
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Region    string    `json:"region"`
	Horizon   string    `json:"horizon"`
	Model     string    `json:"model"`
	Status    string    `json:"status"`
	Carbon    float64   `json:"carbon"`
	LatencyMS int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists the forecast request history in Postgres. Circuit and
// lifecycle state stay in memory; only the audit trail is durable.
type Store struct {
	db *sql.DB
}

// NewStore creates a new history store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the history table if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS forecast_history (
			id UUID PRIMARY KEY,
			region TEXT NOT NULL,
			horizon TEXT NOT NULL,
			model TEXT NOT NULL,
			status TEXT NOT NULL,
			carbon DOUBLE PRECISION NOT NULL,
			latency_ms BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`)
	return err
}

// Record inserts one entry
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO forecast_history (id, region, horizon, model, status, carbon, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.Region, entry.Horizon, entry.Model, entry.Status,
		entry.Carbon, entry.LatencyMS, entry.CreatedAt,
	)
	return err
}

// Recent returns the most recent entries, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, region, horizon, model, status, carbon, latency_ms, created_at
		 FROM forecast_history ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Region, &e.Horizon, &e.Model, &e.Status,
			&e.Carbon, &e.LatencyMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
