package advisory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresSink stores advisories in an append-only table.
type PostgresSink struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &PostgresSink{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) Close() error { return s.db.Close() }

func (s *PostgresSink) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS advisories (
  id UUID PRIMARY KEY,
  user_id TEXT NOT NULL,
  diagnosis TEXT NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_advisories_user_created ON advisories (user_id, created_at DESC);
`)
	})
	return s.schemaErr
}

func (s *PostgresSink) Save(ctx context.Context, a Advisory) (Advisory, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return Advisory{}, err
	}
	a, err := prepare(a)
	if err != nil {
		return Advisory{}, err
	}
	row := s.db.QueryRowContext(ctx, `
INSERT INTO advisories (id, user_id, diagnosis)
VALUES ($1, $2, $3)
RETURNING created_at`, a.ID, a.UserID, a.Diagnosis)
	if err := row.Scan(&a.CreatedAt); err != nil {
		return Advisory{}, fmt.Errorf("insert advisory: %w", err)
	}
	return a, nil
}

func (s *PostgresSink) ListByUser(ctx context.Context, userID string, limit int) ([]Advisory, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, diagnosis, created_at
FROM advisories WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`, strings.TrimSpace(userID), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list advisories: %w", err)
	}
	defer rows.Close()

	var out []Advisory
	for rows.Next() {
		var a Advisory
		if err := rows.Scan(&a.ID, &a.UserID, &a.Diagnosis, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresSink) Latest(ctx context.Context, userID string) (Advisory, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return Advisory{}, err
	}
	var a Advisory
	err := s.db.QueryRowContext(ctx, `
SELECT id, user_id, diagnosis, created_at
FROM advisories WHERE user_id = $1
ORDER BY created_at DESC
LIMIT 1`, strings.TrimSpace(userID)).Scan(&a.ID, &a.UserID, &a.Diagnosis, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Advisory{}, ErrNotFound
	}
	if err != nil {
		return Advisory{}, fmt.Errorf("latest advisory: %w", err)
	}
	return a, nil
}
