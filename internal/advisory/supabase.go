package advisory

import (
	"context"
	"fmt"
	"strings"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
)

const supabaseTable = "advisories"

// SupabaseSink stores advisories through PostgREST. The table is expected to
// exist with created_at defaulting to now().
type SupabaseSink struct {
	client *supabase.Client
}

func NewSupabaseSink(url, apiKey string) (*SupabaseSink, error) {
	if url == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	client, err := supabase.NewClient(url, apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseSink{client: client}, nil
}

type supabaseRow struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Diagnosis string `json:"diagnosis"`
}

func (s *SupabaseSink) Save(ctx context.Context, a Advisory) (Advisory, error) {
	if err := ctx.Err(); err != nil {
		return Advisory{}, err
	}
	a, err := prepare(a)
	if err != nil {
		return Advisory{}, err
	}
	var rows []Advisory
	_, err = s.client.From(supabaseTable).
		Insert(supabaseRow{ID: a.ID, UserID: a.UserID, Diagnosis: a.Diagnosis}, false, "", "representation", "").
		ExecuteTo(&rows)
	if err != nil {
		return Advisory{}, fmt.Errorf("failed to insert advisory: %w", err)
	}
	if len(rows) == 0 {
		return Advisory{}, fmt.Errorf("insert advisory: no row returned")
	}
	return rows[0], nil
}

func (s *SupabaseSink) ListByUser(ctx context.Context, userID string, limit int) ([]Advisory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []Advisory
	_, err := s.client.From(supabaseTable).
		Select("id,user_id,diagnosis,created_at", "", false).
		Eq("user_id", strings.TrimSpace(userID)).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(clampLimit(limit), "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list advisories: %w", err)
	}
	return rows, nil
}

func (s *SupabaseSink) Latest(ctx context.Context, userID string) (Advisory, error) {
	rows, err := s.ListByUser(ctx, userID, 1)
	if err != nil {
		return Advisory{}, err
	}
	if len(rows) == 0 {
		return Advisory{}, ErrNotFound
	}
	return rows[0], nil
}
