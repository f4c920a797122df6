package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kisanbazaar/internal/advisory"
	"kisanbazaar/internal/apperr"
	"kisanbazaar/internal/conversation"
	"kisanbazaar/internal/dashboard"
	"kisanbazaar/internal/flow"
	"kisanbazaar/internal/gateway/middleware"
	"kisanbazaar/internal/llm"
	"kisanbazaar/internal/media"
	"kisanbazaar/internal/prompt"
	"kisanbazaar/internal/sessionstore"
)

var voiceURI = "data:audio/webm;base64," + base64.StdEncoding.EncodeToString([]byte("opus-frames"))

type fixture struct {
	url        string
	orch       *conversation.Orchestrator
	advisories *advisory.MemorySink
	history    *sessionstore.MemoryStore
}

func newFixture(t *testing.T, client llm.Client) *fixture {
	t.Helper()
	return newLoggedFixture(t, client, zerolog.Nop())
}

func newLoggedFixture(t *testing.T, client llm.Client, log zerolog.Logger) *fixture {
	t.Helper()
	engine, err := prompt.NewEngine()
	require.NoError(t, err)
	store, err := media.NewMemoryStore(16)
	require.NoError(t, err)
	g, err := flow.NewGateway(client, engine, store, flow.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	sink := advisory.NewMemorySink()
	history := sessionstore.NewMemoryStore(16, 0)
	orch, err := conversation.New(conversation.Config{
		Interactor:  g,
		Synthesizer: g,
		Transcriber: g,
		Advisories:  sink,
		History:     history,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewAdvisorHandler(g, dashboard.NewService(g), orch, sink, log).Register(mux)
	srv := httptest.NewServer(middleware.Identity(mux))
	t.Cleanup(srv.Close)
	return &fixture{url: srv.URL, orch: orch, advisories: sink, history: history}
}

func call[Req, Res any](t *testing.T, f *fixture, procedure, userID string, msg *Req) (*Res, error) {
	t.Helper()
	client := connect.NewClient[Req, Res](http.DefaultClient, f.url+procedure, connect.WithCodec(Codec()))
	req := connect.NewRequest(msg)
	if userID != "" {
		req.Header().Set(middleware.UserIDHeader, userID)
	}
	res, err := client.CallUnary(context.Background(), req)
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func TestCropAdvisory(t *testing.T) {
	f := newFixture(t, llm.NewFakeClient())

	out, err := call[flow.CropAdvisoryInput, flow.CropAdvisoryOutput](t, f, CropAdvisoryProcedure, "",
		&flow.CropAdvisoryInput{Symptoms: "yellow leaves on tomato"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Recommendations)

	_, err = call[flow.CropAdvisoryInput, flow.CropAdvisoryOutput](t, f, CropAdvisoryProcedure, "",
		&flow.CropAdvisoryInput{Symptoms: "  "})
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestModelFailureIsUnavailable(t *testing.T) {
	client := llm.NewScriptedClient().OnJSON(flow.MarketRates, llm.Reply{Err: errors.New("quota exceeded")})
	f := newFixture(t, client)

	_, err := call[Empty, flow.MarketRatesOutput](t, f, MarketRatesProcedure, "", &Empty{})
	require.Error(t, err)
	assert.Equal(t, connect.CodeUnavailable, connect.CodeOf(err))
}

func TestInvalidModelOutputIsUnavailable(t *testing.T) {
	var logs bytes.Buffer
	client := llm.NewScriptedClient().
		OnJSON(flow.CropAdvisory, llm.Reply{JSON: `{"recommendations": 42`}).
		OnJSON(flow.MarketRates, llm.Reply{Err: errors.New("quota exceeded")})
	f := newLoggedFixture(t, client, zerolog.New(&logs))

	_, err := call[flow.CropAdvisoryInput, flow.CropAdvisoryOutput](t, f, CropAdvisoryProcedure, "",
		&flow.CropAdvisoryInput{Symptoms: "brown spots"})
	require.Error(t, err)
	assert.Equal(t, connect.CodeUnavailable, connect.CodeOf(err))

	_, err = call[Empty, flow.MarketRatesOutput](t, f, MarketRatesProcedure, "", &Empty{})
	require.Error(t, err)
	assert.Equal(t, connect.CodeUnavailable, connect.CodeOf(err))

	out := logs.String()
	assert.Contains(t, out, `"level":"error","error":`)
	assert.Contains(t, out, `"kind":"schema_validation"`)
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"kind":"model_invocation"`)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t, llm.NewFakeClient())

	snap, err := call[DashboardRequest, dashboard.Snapshot](t, f, DashboardProcedure, "",
		&DashboardRequest{Location: "Multan", Crops: []string{"cotton"}})
	require.NoError(t, err)
	assert.Len(t, snap.Alerts, 3)
	assert.Len(t, snap.Crops, flow.MarketCropCount)
}

func TestTranslateUIIdentity(t *testing.T) {
	client := llm.NewScriptedClient()
	f := newFixture(t, client)

	out, err := call[flow.TranslateInput, flow.TranslateOutput](t, f, TranslateUIProcedure, "",
		&flow.TranslateInput{Texts: []string{"Dashboard", "Market"}, TargetLanguage: "en"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Dashboard", "Market"}, out.Translations)
	assert.Zero(t, client.Calls(flow.TranslateUI))
}

func TestInteractResumesSession(t *testing.T) {
	f := newFixture(t, llm.NewFakeClient())

	first, err := call[InteractRequest, InteractResponse](t, f, InteractProcedure, "farmer-1",
		&InteractRequest{Text: "My wheat leaves are yellow"})
	require.NoError(t, err)
	require.NotEmpty(t, first.SessionID)
	assert.Equal(t, "skipped", first.Speech)
	assert.Empty(t, first.Audio)
	assert.Equal(t, "My wheat leaves are yellow", first.UserText)

	second, err := call[InteractRequest, InteractResponse](t, f, InteractProcedure, "farmer-1",
		&InteractRequest{SessionID: first.SessionID, Text: "How much urea?"})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	turns, err := f.history.Load(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Len(t, turns, 4)
}

func TestInteractVoiceReturnsAudio(t *testing.T) {
	f := newFixture(t, llm.NewFakeClient())

	out, err := call[InteractRequest, InteractResponse](t, f, InteractProcedure, "",
		&InteractRequest{Voice: voiceURI})
	require.NoError(t, err)
	assert.Equal(t, "delivered", out.Speech)
	assert.True(t, strings.HasPrefix(out.Audio, "data:audio/wav;base64,"))
	assert.Equal(t, conversation.VoicePlaceholder, out.UserText)
}

func TestInteractRejectsBothInputs(t *testing.T) {
	f := newFixture(t, llm.NewFakeClient())

	_, err := call[InteractRequest, InteractResponse](t, f, InteractProcedure, "",
		&InteractRequest{Voice: voiceURI, Text: "hello"})
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = call[InteractRequest, InteractResponse](t, f, InteractProcedure, "",
		&InteractRequest{Kind: "gossip", Text: "hello"})
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestDiagnoseThenListAdvisories(t *testing.T) {
	f := newFixture(t, llm.NewFakeClient())

	out, err := call[DiagnoseRequest, DiagnoseResponse](t, f, DiagnoseProcedure, "farmer-7",
		&DiagnoseRequest{Voice: voiceURI})
	require.NoError(t, err)
	assert.True(t, out.AdvisoryQueued)
	f.orch.Drain()

	list, err := call[ListAdvisoriesRequest, ListAdvisoriesResponse](t, f, ListAdvisoriesProcedure, "farmer-7",
		&ListAdvisoriesRequest{})
	require.NoError(t, err)
	require.Len(t, list.Advisories, 1)
	assert.Equal(t, out.Diagnosis, list.Advisories[0].Diagnosis)

	latest, err := call[Empty, advisory.Advisory](t, f, LatestAdvisoryProcedure, "farmer-7", &Empty{})
	require.NoError(t, err)
	assert.Equal(t, list.Advisories[0].ID, latest.ID)
}

func TestDiagnoseAnonymousIsNotQueued(t *testing.T) {
	f := newFixture(t, llm.NewFakeClient())

	out, err := call[DiagnoseRequest, DiagnoseResponse](t, f, DiagnoseProcedure, "", &DiagnoseRequest{Voice: voiceURI})
	require.NoError(t, err)
	assert.False(t, out.AdvisoryQueued)
	assert.NotEmpty(t, out.Diagnosis)
}

func TestAdvisoriesRequireUser(t *testing.T) {
	f := newFixture(t, llm.NewFakeClient())

	_, err := call[ListAdvisoriesRequest, ListAdvisoriesResponse](t, f, ListAdvisoriesProcedure, "", &ListAdvisoriesRequest{})
	require.Error(t, err)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	_, err = call[Empty, advisory.Advisory](t, f, LatestAdvisoryProcedure, "farmer-9", &Empty{})
	require.Error(t, err)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	list, err := call[ListAdvisoriesRequest, ListAdvisoriesResponse](t, f, ListAdvisoriesProcedure, "farmer-9", &ListAdvisoriesRequest{})
	require.NoError(t, err)
	assert.NotNil(t, list.Advisories)
	assert.Empty(t, list.Advisories)
}

func TestProfileAssistCarriesContext(t *testing.T) {
	f := newFixture(t, llm.NewFakeClient())

	out, err := call[ProfileRequest, conversation.ProfileReply](t, f, ProfileAssistProcedure, "",
		&ProfileRequest{UserInput: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "What is your name?", out.AgentResponse)
	assert.Equal(t, "asked: name", out.Context)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, connect.CodeDeadlineExceeded, CodeOf(context.DeadlineExceeded))
	assert.Equal(t, connect.CodeNotFound, CodeOf(advisory.ErrNotFound))
	assert.Equal(t, connect.CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, connect.CodeUnavailable, CodeOf(apperr.E(apperr.ModelInvocation, "flow.x", errors.New("down"))))
	assert.Equal(t, CodeOf(apperr.E(apperr.ModelInvocation, "flow.x", errors.New("down"))),
		CodeOf(apperr.E(apperr.SchemaValidation, "flow.x", errors.New("bad output"))))
	assert.Equal(t, connect.CodeInvalidArgument, CodeOf(apperr.Errorf(apperr.CallerContract, "flow.x", "missing")))
	assert.Equal(t, connect.CodePermissionDenied, CodeOf(connect.NewError(connect.CodePermissionDenied, errors.New("x"))))
}
