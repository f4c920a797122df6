// Package conversation drives multi-turn advisory sessions: it keeps the turn
// history, calls the interaction flow, speaks voice replies and hands
// diagnosis results to the advisory sink.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"kisanbazaar/internal/advisory"
	"kisanbazaar/internal/apperr"
	"kisanbazaar/internal/audio"
	"kisanbazaar/internal/flow"
	"kisanbazaar/internal/media"
	"kisanbazaar/internal/sessionstore"
)

// VoicePlaceholder is recorded as the user's turn text when a voice turn
// cannot be transcribed.
const VoicePlaceholder = "You spoke to the agent."

const defaultPersistTimeout = 10 * time.Second

// Interactor runs the multilingual interaction flow.
type Interactor interface {
	Interact(ctx context.Context, in flow.InteractionInput) (flow.InteractionOutput, error)
}

// Synthesizer speaks reply text.
type Synthesizer interface {
	Synthesize(ctx context.Context, in flow.SpeechInput) (*audio.Artifact, error)
}

// Transcriber turns a voice data URI into text.
type Transcriber interface {
	Transcribe(ctx context.Context, voiceDataURI string) (string, error)
}

type Config struct {
	Interactor  Interactor
	Synthesizer Synthesizer
	// Transcriber is optional. Without it voice turns are recorded as
	// VoicePlaceholder.
	Transcriber Transcriber
	// Advisories is optional. Without it diagnosis results are not persisted.
	Advisories advisory.Sink
	// History is optional. With it sessions survive across Start/Resume.
	History        sessionstore.Store
	PersistTimeout time.Duration
	Logger         zerolog.Logger
}

// Orchestrator creates sessions and owns their background persistence.
type Orchestrator struct {
	cfg Config
	log zerolog.Logger
	wg  conc.WaitGroup
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Interactor == nil || cfg.Synthesizer == nil {
		return nil, errors.New("conversation: interactor and synthesizer are required")
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	return &Orchestrator{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "conversation").Logger(),
	}, nil
}

// Start opens a new session with an empty history.
func (o *Orchestrator) Start(_ context.Context, user UserContext, kind Kind) *Session {
	return o.newSession(uuid.NewString(), user, kind, nil)
}

// Resume reopens a session by id, loading its turns from the history store.
// An unknown id starts an empty session under that id.
func (o *Orchestrator) Resume(ctx context.Context, id string, user UserContext, kind Kind) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return o.Start(ctx, user, kind), nil
	}
	var turns []Turn
	if o.cfg.History != nil {
		loaded, err := o.cfg.History.Load(ctx, id)
		switch {
		case errors.Is(err, sessionstore.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("resume session %s: %w", id, err)
		default:
			turns = loaded
		}
	}
	return o.newSession(id, user, kind, turns), nil
}

func (o *Orchestrator) newSession(id string, user UserContext, kind Kind, turns []Turn) *Session {
	if kind == "" {
		kind = KindDialogue
	}
	return &Session{
		id:      id,
		user:    user,
		kind:    kind,
		o:       o,
		history: turns,
		log:     o.log.With().Str("session_id", id).Str("session_kind", string(kind)).Logger(),
	}
}

// Drain waits for queued advisory writes.
func (o *Orchestrator) Drain() {
	o.wg.Wait()
}

// Record writes a diagnosis advisory in the background: one attempt, failures
// are logged and never reach the caller. It reports whether a write was
// queued.
func (o *Orchestrator) Record(ctx context.Context, userID, diagnosis string) bool {
	if o.cfg.Advisories == nil || strings.TrimSpace(userID) == "" {
		return false
	}
	bg := context.WithoutCancel(ctx)
	o.wg.Go(func() {
		ctx, cancel := context.WithTimeout(bg, o.cfg.PersistTimeout)
		defer cancel()
		a, err := o.cfg.Advisories.Save(ctx, advisory.Advisory{UserID: userID, Diagnosis: diagnosis})
		if err != nil {
			err = apperr.E(apperr.Persistence, "conversation.persist", err)
			o.log.Error().Err(err).
				Str("kind", apperr.Persistence.String()).
				Str("user_id", userID).
				Int("diagnosis_len", len(diagnosis)).
				Msg("advisory write failed")
			return
		}
		o.log.Debug().Str("advisory_id", a.ID).Str("user_id", userID).Msg("advisory saved")
	})
	return true
}

// Session is one conversation. A session processes one turn at a time; a
// Submit while a turn is in flight is rejected.
type Session struct {
	id   string
	user UserContext
	kind Kind
	o    *Orchestrator
	log  zerolog.Logger

	mu       sync.Mutex
	state    State
	mode     Mode
	history  []Turn
	observer func(Transition)
}

func (s *Session) ID() string { return s.id }

func (s *Session) Kind() Kind { return s.kind }

func (s *Session) User() UserContext { return s.user }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnTransition installs fn as the observer for state changes. fn runs on the
// goroutine that caused the change.
func (s *Session) OnTransition(fn func(Transition)) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

// History returns a copy of the turns so far, oldest first.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.history...)
}

// BeginCapture moves an idle session to Capturing in the given mode.
func (s *Session) BeginCapture(mode Mode) error {
	if mode != ModeVoice && mode != ModeText {
		return apperr.Errorf(apperr.CallerContract, "conversation.capture", "unknown mode %q", mode)
	}
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateCapturing {
		st := s.state
		s.mu.Unlock()
		return apperr.Errorf(apperr.CallerContract, "conversation.capture", "session busy (%s)", st)
	}
	s.mode = mode
	s.mu.Unlock()
	s.transition(StateCapturing, nil)
	return nil
}

// PlaybackFinished ends the Speaking state.
func (s *Session) PlaybackFinished() {
	if s.State() == StateSpeaking {
		s.transition(StateIdle, nil)
	}
}

func (s *Session) transition(to State, err error) {
	s.mu.Lock()
	from := s.state
	s.state = to
	obs := s.observer
	s.mu.Unlock()
	if obs != nil {
		obs(Transition{From: from, To: to, Err: err})
	}
}

// claim moves the session to Processing unless a turn is in flight.
func (s *Session) claim(in TurnInput) (Mode, []Turn, error) {
	s.mu.Lock()
	if s.state == StateProcessing || s.state == StateSpeaking {
		st := s.state
		s.mu.Unlock()
		return "", nil, apperr.Errorf(apperr.CallerContract, "conversation.submit", "session busy (%s)", st)
	}
	mode := in.mode()
	if s.state == StateCapturing && s.mode != "" {
		mode = s.mode
	}
	s.mode = mode
	past := append([]Turn(nil), s.history...)
	s.mu.Unlock()
	s.transition(StateProcessing, nil)
	return mode, past, nil
}

// fail reports err through Error and returns the session to Idle.
func (s *Session) fail(err error) error {
	s.transition(StateError, err)
	s.transition(StateIdle, nil)
	kind := apperr.KindOf(err)
	lvl := zerolog.WarnLevel
	if kind == apperr.SchemaValidation {
		lvl = zerolog.ErrorLevel
	}
	s.log.WithLevel(lvl).Err(err).Str("error_kind", kind.String()).Msg("turn failed")
	return err
}

// Submit processes one turn. The returned error is an *apperr.Error: a busy
// session or malformed input is CallerContract; model failures are
// ModelInvocation or SchemaValidation. Speech and persistence problems never
// fail the turn; they are reported in the result.
func (s *Session) Submit(ctx context.Context, in TurnInput) (TurnResult, error) {
	mode, past, err := s.claim(in)
	if err != nil {
		return TurnResult{}, err
	}

	req, err := s.interactionInput(in, past)
	if err != nil {
		return TurnResult{}, s.fail(err)
	}
	if err := ctx.Err(); err != nil {
		return TurnResult{}, s.fail(apperr.E(apperr.ModelInvocation, "conversation.submit", err))
	}
	out, err := s.o.cfg.Interactor.Interact(ctx, req)
	if err != nil {
		return TurnResult{}, s.fail(err)
	}

	userTurn := Turn{Speaker: sessionstore.SpeakerUser, Text: s.userText(ctx, in), Image: imageRef(in.Image)}
	agentTurn := Turn{Speaker: sessionstore.SpeakerAgent, Text: out.Response}
	s.appendTurns(ctx, userTurn, agentTurn)

	res := TurnResult{
		UserText:         userTurn.Text,
		Text:             out.Response,
		DetectedLanguage: out.DetectedLanguage,
	}
	if s.kind == KindDiagnosis {
		res.AdvisoryQueued = s.o.Record(ctx, s.user.UserID, out.Response)
	}

	if mode != ModeVoice {
		s.transition(StateIdle, nil)
		return res, nil
	}
	s.speak(ctx, &res)
	return res, nil
}

// speak synthesizes the reply. It leaves the session Speaking when audio was
// produced and Idle otherwise.
func (s *Session) speak(ctx context.Context, res *TurnResult) {
	if err := ctx.Err(); err != nil {
		res.Speech = SpeechFailed
		res.SpeechErr = apperr.E(apperr.ModelInvocation, "conversation.speak", err)
		s.transition(StateIdle, nil)
		return
	}
	art, err := s.o.cfg.Synthesizer.Synthesize(ctx, flow.SpeechInput{Text: res.Text})
	switch {
	case err == nil:
		res.Audio = art
		res.Speech = SpeechDelivered
		s.transition(StateSpeaking, nil)
		return
	case apperr.Is(err, apperr.SynthesisDegradation):
		res.Speech = SpeechEmpty
	default:
		res.Speech = SpeechFailed
		s.log.Warn().Err(err).Msg("speech synthesis failed, replying with text only")
	}
	res.SpeechErr = err
	s.transition(StateIdle, nil)
}

func (s *Session) interactionInput(in TurnInput, past []Turn) (flow.InteractionInput, error) {
	hasVoice := strings.TrimSpace(in.Voice) != ""
	hasText := strings.TrimSpace(in.Text) != ""
	if hasVoice == hasText {
		return flow.InteractionInput{}, apperr.Errorf(apperr.CallerContract, "conversation.submit",
			"exactly one of voice and text input is required")
	}
	req := flow.InteractionInput{
		VoiceCommand:     in.Voice,
		TextCommand:      in.Text,
		Image:            in.Image,
		Location:         s.user.Location,
		PastInteractions: PastInteractions(past),
	}
	if len(s.user.Profile) > 0 {
		b, err := json.Marshal(s.user.Profile)
		if err != nil {
			return flow.InteractionInput{}, apperr.E(apperr.CallerContract, "conversation.submit", fmt.Errorf("profile: %w", err))
		}
		req.UserProfile = string(b)
	}
	return req, nil
}

func (s *Session) userText(ctx context.Context, in TurnInput) string {
	if strings.TrimSpace(in.Voice) == "" {
		return in.Text
	}
	if s.o.cfg.Transcriber == nil {
		return VoicePlaceholder
	}
	text, err := s.o.cfg.Transcriber.Transcribe(ctx, in.Voice)
	if err != nil || strings.TrimSpace(text) == "" {
		s.log.Warn().Err(err).Msg("transcription unavailable, recording placeholder")
		return VoicePlaceholder
	}
	return text
}

func (s *Session) appendTurns(ctx context.Context, turns ...Turn) {
	s.mu.Lock()
	s.history = append(s.history, turns...)
	s.mu.Unlock()
	if s.o.cfg.History == nil {
		return
	}
	if err := s.o.cfg.History.Append(ctx, s.id, turns...); err != nil {
		s.log.Error().Err(err).Str("kind", apperr.Persistence.String()).Msg("session history write failed")
	}
}

// PastInteractions renders turns as "speaker: text" lines, oldest first.
func PastInteractions(turns []Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, string(t.Speaker)+": "+t.Text)
	}
	return strings.Join(lines, "\n")
}

func imageRef(uri string) *media.Ref {
	if uri == "" {
		return nil
	}
	mime, data, err := media.ParseDataURI(uri)
	if err != nil {
		return nil
	}
	ref := media.RefFor(mime, data)
	return &ref
}
