package rpc

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"

	"kisanbazaar/internal/advisory"
	"kisanbazaar/internal/apperr"
	"kisanbazaar/internal/conversation"
	"kisanbazaar/internal/dashboard"
	"kisanbazaar/internal/flow"
	"kisanbazaar/internal/gateway/middleware"
)

// ServiceName prefixes every procedure path.
const ServiceName = "kisan.v1.AdvisorService"

const (
	CropAdvisoryProcedure    = "/" + ServiceName + "/CropAdvisory"
	DashboardAlertsProcedure = "/" + ServiceName + "/DashboardAlerts"
	MarketRatesProcedure     = "/" + ServiceName + "/MarketRates"
	DashboardProcedure       = "/" + ServiceName + "/Dashboard"
	InteractProcedure        = "/" + ServiceName + "/Interact"
	TranslateUIProcedure     = "/" + ServiceName + "/TranslateUI"
	ProfileAssistProcedure   = "/" + ServiceName + "/ProfileAssist"
	IconForCropProcedure     = "/" + ServiceName + "/IconForCrop"
	TextToSpeechProcedure    = "/" + ServiceName + "/TextToSpeech"
	DiagnoseProcedure        = "/" + ServiceName + "/Diagnose"
	TranscribeProcedure      = "/" + ServiceName + "/Transcribe"
	ListAdvisoriesProcedure  = "/" + ServiceName + "/ListAdvisories"
	LatestAdvisoryProcedure  = "/" + ServiceName + "/LatestAdvisory"
)

// AdvisorHandler exposes the flows, dashboard, stateless conversation turns
// and advisory history as Connect unary procedures.
type AdvisorHandler struct {
	flows      *flow.Gateway
	dashboard  *dashboard.Service
	orch       *conversation.Orchestrator
	advisories advisory.Sink
	log        zerolog.Logger
}

func NewAdvisorHandler(flows *flow.Gateway, dash *dashboard.Service, orch *conversation.Orchestrator, advisories advisory.Sink, log zerolog.Logger) *AdvisorHandler {
	return &AdvisorHandler{flows: flows, dashboard: dash, orch: orch, advisories: advisories, log: log}
}

// Register mounts every procedure on mux.
func (h *AdvisorHandler) Register(mux *http.ServeMux, opts ...connect.HandlerOption) {
	opts = append([]connect.HandlerOption{
		connect.WithCodec(Codec()),
		connect.WithInterceptors(h.logErrors()),
	}, opts...)
	mux.Handle(CropAdvisoryProcedure, connect.NewUnaryHandler(CropAdvisoryProcedure, h.CropAdvisory, opts...))
	mux.Handle(DashboardAlertsProcedure, connect.NewUnaryHandler(DashboardAlertsProcedure, h.DashboardAlerts, opts...))
	mux.Handle(MarketRatesProcedure, connect.NewUnaryHandler(MarketRatesProcedure, h.MarketRates, opts...))
	mux.Handle(DashboardProcedure, connect.NewUnaryHandler(DashboardProcedure, h.Dashboard, opts...))
	mux.Handle(InteractProcedure, connect.NewUnaryHandler(InteractProcedure, h.Interact, opts...))
	mux.Handle(TranslateUIProcedure, connect.NewUnaryHandler(TranslateUIProcedure, h.TranslateUI, opts...))
	mux.Handle(ProfileAssistProcedure, connect.NewUnaryHandler(ProfileAssistProcedure, h.ProfileAssist, opts...))
	mux.Handle(IconForCropProcedure, connect.NewUnaryHandler(IconForCropProcedure, h.IconForCrop, opts...))
	mux.Handle(TextToSpeechProcedure, connect.NewUnaryHandler(TextToSpeechProcedure, h.TextToSpeech, opts...))
	mux.Handle(DiagnoseProcedure, connect.NewUnaryHandler(DiagnoseProcedure, h.Diagnose, opts...))
	mux.Handle(TranscribeProcedure, connect.NewUnaryHandler(TranscribeProcedure, h.Transcribe, opts...))
	mux.Handle(ListAdvisoriesProcedure, connect.NewUnaryHandler(ListAdvisoriesProcedure, h.ListAdvisories, opts...))
	mux.Handle(LatestAdvisoryProcedure, connect.NewUnaryHandler(LatestAdvisoryProcedure, h.LatestAdvisory, opts...))
}

// logErrors logs failed calls. Caller mistakes are not logged. Rejected model
// output shares its code with model failures but is logged at error level
// under its own kind.
func (h *AdvisorHandler) logErrors() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			res, err := next(ctx, req)
			if err == nil {
				return res, nil
			}
			code := connect.CodeOf(err)
			switch code {
			case connect.CodeInvalidArgument, connect.CodeUnauthenticated, connect.CodeNotFound, connect.CodeCanceled:
				return res, err
			}
			kind := apperr.KindOf(err)
			lvl := zerolog.WarnLevel
			if kind != apperr.ModelInvocation {
				lvl = zerolog.ErrorLevel
			}
			h.log.WithLevel(lvl).Err(err).
				Str("procedure", req.Spec().Procedure).
				Str("code", code.String()).
				Str("kind", kind.String()).
				Msg("rpc failed")
			return res, err
		}
	}
}

// unary adapts a plain call to a Connect response.
func unary[Res any](out Res, err error) (*connect.Response[Res], error) {
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&out), nil
}

func (h *AdvisorHandler) CropAdvisory(ctx context.Context, req *connect.Request[flow.CropAdvisoryInput]) (*connect.Response[flow.CropAdvisoryOutput], error) {
	return unary(h.flows.CropAdvisory(ctx, *req.Msg))
}

func (h *AdvisorHandler) DashboardAlerts(ctx context.Context, req *connect.Request[flow.AlertsInput]) (*connect.Response[flow.AlertsOutput], error) {
	return unary(h.flows.DashboardAlerts(ctx, *req.Msg))
}

func (h *AdvisorHandler) MarketRates(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[flow.MarketRatesOutput], error) {
	return unary(h.flows.MarketRates(ctx))
}

func (h *AdvisorHandler) Dashboard(ctx context.Context, req *connect.Request[DashboardRequest]) (*connect.Response[dashboard.Snapshot], error) {
	return unary(h.dashboard.Load(ctx, req.Msg.Location, req.Msg.Crops))
}

func (h *AdvisorHandler) TranslateUI(ctx context.Context, req *connect.Request[flow.TranslateInput]) (*connect.Response[flow.TranslateOutput], error) {
	return unary(h.flows.TranslateUI(ctx, *req.Msg))
}

func (h *AdvisorHandler) IconForCrop(ctx context.Context, req *connect.Request[flow.IconInput]) (*connect.Response[flow.IconOutput], error) {
	return unary(h.flows.IconForCrop(ctx, *req.Msg))
}

func (h *AdvisorHandler) TextToSpeech(ctx context.Context, req *connect.Request[flow.SpeechInput]) (*connect.Response[flow.SpeechOutput], error) {
	return unary(h.flows.TextToSpeech(ctx, *req.Msg))
}

func (h *AdvisorHandler) Transcribe(ctx context.Context, req *connect.Request[TranscribeRequest]) (*connect.Response[TranscribeResponse], error) {
	text, err := h.flows.Transcribe(ctx, req.Msg.Voice)
	return unary(TranscribeResponse{Transcript: text}, err)
}

// Interact runs one turn of a session resumed by id. The caller plays any
// returned audio itself, so the session never stays in Speaking.
func (h *AdvisorHandler) Interact(ctx context.Context, req *connect.Request[InteractRequest]) (*connect.Response[InteractResponse], error) {
	kind, err := conversation.ParseKind(req.Msg.Kind)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	user := userContext(ctx, req.Msg.User)
	sess, err := h.orch.Resume(ctx, req.Msg.SessionID, user, kind)
	if err != nil {
		return nil, toConnectError(err)
	}
	res, err := sess.Submit(ctx, conversation.TurnInput{Voice: req.Msg.Voice, Text: req.Msg.Text, Image: req.Msg.Image})
	if err != nil {
		return nil, toConnectError(err)
	}
	sess.PlaybackFinished()

	out := InteractResponse{
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
	return connect.NewResponse(&out), nil
}

// ProfileAssist advances a profile dialogue. The running context travels with
// the client between calls.
func (h *AdvisorHandler) ProfileAssist(ctx context.Context, req *connect.Request[ProfileRequest]) (*connect.Response[conversation.ProfileReply], error) {
	p := conversation.ResumeProfile(h.flows, h.flows, req.Msg.Context)
	if strings.TrimSpace(req.Msg.Voice) != "" {
		return unary(p.AnswerVoice(ctx, req.Msg.Voice))
	}
	return unary(p.Answer(ctx, req.Msg.UserInput))
}

// Diagnose runs voice-to-diagnosis and records the result for the caller.
func (h *AdvisorHandler) Diagnose(ctx context.Context, req *connect.Request[DiagnoseRequest]) (*connect.Response[DiagnoseResponse], error) {
	out, err := h.flows.VoiceToDiagnosis(ctx, flow.DiagnosisInput{VoiceCommand: req.Msg.Voice})
	if err != nil {
		return nil, toConnectError(err)
	}
	queued := h.orch.Record(ctx, middleware.UserID(ctx), out.Diagnosis)
	return connect.NewResponse(&DiagnoseResponse{Diagnosis: out.Diagnosis, AdvisoryQueued: queued}), nil
}

func (h *AdvisorHandler) ListAdvisories(ctx context.Context, req *connect.Request[ListAdvisoriesRequest]) (*connect.Response[ListAdvisoriesResponse], error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	list, err := h.advisories.ListByUser(ctx, userID, req.Msg.Limit)
	if list == nil {
		list = []advisory.Advisory{}
	}
	return unary(ListAdvisoriesResponse{Advisories: list}, err)
}

func (h *AdvisorHandler) LatestAdvisory(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[advisory.Advisory], error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	return unary(h.advisories.Latest(ctx, userID))
}

func requireUser(ctx context.Context) (string, error) {
	id := middleware.UserID(ctx)
	if id == "" {
		return "", connect.NewError(connect.CodeUnauthenticated,
			apperr.Errorf(apperr.CallerContract, "rpc.advisories", "%s header is required", middleware.UserIDHeader))
	}
	return id, nil
}

// userContext prefers the authenticated id over one sent in the body.
func userContext(ctx context.Context, body *conversation.UserContext) conversation.UserContext {
	var u conversation.UserContext
	if body != nil {
		u = *body
	}
	if id := middleware.UserID(ctx); id != "" {
		u.UserID = id
	}
	return u
}
