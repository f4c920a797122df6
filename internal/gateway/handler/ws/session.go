// Package ws serves live conversation sessions over a websocket: one
// conversation session per connection, with state transitions pushed to the
// client as they happen.
package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"kisanbazaar/internal/conversation"
	"kisanbazaar/internal/gateway/handler/rpc"
	"kisanbazaar/internal/gateway/middleware"
)

const (
	sessionWSWriteWait = 10 * time.Second
	sessionWSPongWait  = 60 * time.Second
	sessionWSPingEvery = (sessionWSPongWait * 9) / 10
	sessionWSReadLimit = 16 << 20
)

var sessionWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type inbound struct {
	Type  string                    `json:"type"`
	Mode  string                    `json:"mode,omitempty"`
	User  *conversation.UserContext `json:"user,omitempty"`
	Text  string                    `json:"text,omitempty"`
	Voice string                    `json:"voice,omitempty"`
	Image string                    `json:"image,omitempty"`
}

type outbound struct {
	Type             string `json:"type"`
	SessionID        string `json:"sessionId,omitempty"`
	State            string `json:"state,omitempty"`
	From             string `json:"from,omitempty"`
	UserText         string `json:"userText,omitempty"`
	Text             string `json:"text,omitempty"`
	DetectedLanguage string `json:"detectedLanguage,omitempty"`
	Audio            string `json:"audio,omitempty"`
	Speech           string `json:"speech,omitempty"`
	AdvisoryQueued   bool   `json:"advisoryQueued,omitempty"`
	Code             string `json:"code,omitempty"`
	Message          string `json:"message,omitempty"`
}

// SessionHandler serves /ws/session.
type SessionHandler struct {
	orch *conversation.Orchestrator
	log  zerolog.Logger
}

func NewSessionHandler(orch *conversation.Orchestrator, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{orch: orch, log: log.With().Str("component", "ws").Logger()}
}

// HandleSession upgrades the request and runs one session until the client
// disconnects. Query parameters: kind (dialogue or diagnosis), session_id to
// resume, and optional language and location.
func (h *SessionHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind, err := conversation.ParseKind(q.Get("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user := conversation.UserContext{
		UserID:   middleware.UserID(r.Context()),
		Language: strings.TrimSpace(q.Get("language")),
		Location: strings.TrimSpace(q.Get("location")),
	}
	sess, err := h.orch.Resume(r.Context(), q.Get("session_id"), user, kind)
	if err != nil {
		h.log.Error().Err(err).Msg("resume session")
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := sessionWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(sessionWSReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(sessionWSPongWait)); err != nil {
		h.log.Warn().Err(err).Msg("session ws set read deadline failed")
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(sessionWSPongWait))
	})

	writeCh := make(chan outbound, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(sessionWSPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(sessionWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(sessionWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	sess.OnTransition(func(tr conversation.Transition) {
		out := outbound{Type: "state", State: tr.To.String(), From: tr.From.String()}
		if tr.Err != nil {
			out.Code = rpc.CodeOf(tr.Err).String()
			out.Message = tr.Err.Error()
		}
		pushWS(writeCh, out)
	})
	pushWS(writeCh, outbound{Type: "ready", SessionID: sess.ID(), State: sess.State().String()})

	var turns conc.WaitGroup
	defer turns.Wait()
	defer cancel()

	for {
		var in inbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		switch msgType := strings.ToLower(strings.TrimSpace(in.Type)); msgType {
		case "ping":
			pushWS(writeCh, outbound{Type: "pong"})
		case "capture":
			mode := conversation.Mode(strings.ToLower(strings.TrimSpace(in.Mode)))
			if err := sess.BeginCapture(mode); err != nil {
				pushError(writeCh, err)
			}
		case "text", "voice":
			turn := conversation.TurnInput{Text: in.Text, Voice: in.Voice, Image: in.Image}
			turns.Go(func() {
				res, err := sess.Submit(ctx, turn)
				if err != nil {
					pushError(writeCh, err)
					return
				}
				out := outbound{
					Type:             "reply",
					SessionID:        sess.ID(),
					UserText:         res.UserText,
					Text:             res.Text,
					DetectedLanguage: res.DetectedLanguage,
					Speech:           res.Speech.String(),
					AdvisoryQueued:   res.AdvisoryQueued,
				}
				if res.Audio != nil {
					out.Audio = res.Audio.URI()
				}
				pushWS(writeCh, out)
			})
		case "playback_done":
			sess.PlaybackFinished()
		case "":
			pushWS(writeCh, outbound{Type: "error", Code: "invalid_argument", Message: "type is required"})
		default:
			pushWS(writeCh, outbound{Type: "error", Code: "invalid_argument", Message: "unsupported type: " + msgType})
		}
	}
}

func pushError(writeCh chan outbound, err error) {
	pushWS(writeCh, outbound{Type: "error", Code: rpc.CodeOf(err).String(), Message: err.Error()})
}

// pushWS never blocks; when the buffer is full the oldest message is dropped.
func pushWS(writeCh chan outbound, out outbound) {
	if writeCh == nil {
		return
	}
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
