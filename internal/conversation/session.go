package conversation

import (
	"fmt"
	"strings"

	"kisanbazaar/internal/audio"
	"kisanbazaar/internal/sessionstore"
)

// Kind distinguishes open dialogue from diagnosis sessions. Only diagnosis
// sessions persist advisories.
type Kind string

const (
	KindDialogue  Kind = "dialogue"
	KindDiagnosis Kind = "diagnosis"
)

// ParseKind accepts "dialogue" and "diagnosis"; empty means dialogue.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindDialogue:
		return KindDialogue, nil
	case KindDiagnosis:
		return KindDiagnosis, nil
	}
	return "", fmt.Errorf("unknown session kind %q", s)
}

// Mode is how the user supplies input for a turn. Speech is synthesized only
// for voice turns.
type Mode string

const (
	ModeVoice Mode = "voice"
	ModeText  Mode = "text"
)

type State int

const (
	StateIdle State = iota
	StateCapturing
	StateProcessing
	StateSpeaking
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Transition is reported to the session observer on every state change. Err
// is set when entering StateError.
type Transition struct {
	From State
	To   State
	Err  error
}

type Turn = sessionstore.Turn

// UserContext is the caller's identity and profile snapshot, fixed for the
// lifetime of a session.
type UserContext struct {
	UserID   string         `json:"userId,omitempty"`
	Profile  map[string]any `json:"profile,omitempty"`
	Location string         `json:"location,omitempty"`
	Language string         `json:"language,omitempty"`
}

// TurnInput carries exactly one of Voice (data URI) or Text. Image is an
// optional data URI sent along with the turn.
type TurnInput struct {
	Voice string `json:"voice,omitempty"`
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

func (in TurnInput) mode() Mode {
	if strings.TrimSpace(in.Voice) != "" {
		return ModeVoice
	}
	return ModeText
}

// SpeechOutcome reports what happened to the spoken rendition of a reply.
type SpeechOutcome int

const (
	// SpeechSkipped: text turn, no synthesis attempted.
	SpeechSkipped SpeechOutcome = iota
	SpeechDelivered
	// SpeechEmpty: the model answered without audio.
	SpeechEmpty
	// SpeechFailed: the synthesis call failed or was canceled.
	SpeechFailed
)

func (o SpeechOutcome) String() string {
	switch o {
	case SpeechSkipped:
		return "skipped"
	case SpeechDelivered:
		return "delivered"
	case SpeechEmpty:
		return "empty"
	case SpeechFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TurnResult is the outcome of a successful turn. Audio is nil unless Speech
// is SpeechDelivered.
type TurnResult struct {
	UserText         string
	Text             string
	DetectedLanguage string
	Audio            *audio.Artifact
	Speech           SpeechOutcome
	SpeechErr        error
	AdvisoryQueued   bool
}
