// Package sessionstore keeps per-session conversation turns so a session can
// be resumed by id across stateless requests.
package sessionstore

import (
	"context"
	"errors"
	"strings"

	"kisanbazaar/internal/media"
)

// ErrNotFound is returned by Load when a session has no stored turns.
var ErrNotFound = errors.New("session not found")

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Turn is one utterance in a conversation. Image points at a picture the
// user attached, if any.
type Turn struct {
	Speaker Speaker    `json:"speaker"`
	Text    string     `json:"text"`
	Image   *media.Ref `json:"image,omitempty"`
}

// Store persists ordered turns per session id. Append refreshes the session
// expiry.
type Store interface {
	Load(ctx context.Context, id string) ([]Turn, error)
	Append(ctx context.Context, id string, turns ...Turn) error
	Delete(ctx context.Context, id string) error
	Close() error
}

func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
