// Package advisory stores diagnosis advisories per user. Records are
// append-only; every write is independent, so concurrent sessions need no
// per-user locking.
package advisory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Latest when a user has no advisories.
var ErrNotFound = errors.New("advisory not found")

// DefaultListLimit caps ListByUser when the caller passes no limit.
const DefaultListLimit = 20

type Advisory struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Diagnosis string    `json:"diagnosis"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink persists advisories. Save assigns the id and server timestamp and
// returns the stored record. ListByUser returns newest first.
type Sink interface {
	Save(ctx context.Context, a Advisory) (Advisory, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Advisory, error)
	Latest(ctx context.Context, userID string) (Advisory, error)
}

func prepare(a Advisory) (Advisory, error) {
	a.UserID = strings.TrimSpace(a.UserID)
	if a.UserID == "" {
		return Advisory{}, errors.New("advisory: user id is required")
	}
	if strings.TrimSpace(a.Diagnosis) == "" {
		return Advisory{}, errors.New("advisory: diagnosis is required")
	}
	a.ID = uuid.NewString()
	return a, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
