package server

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kisanbazaar/internal/advisory"
	"kisanbazaar/internal/conversation"
	"kisanbazaar/internal/dashboard"
	"kisanbazaar/internal/flow"
	"kisanbazaar/internal/gateway/handler/rpc"
	"kisanbazaar/internal/gateway/handler/ws"
	"kisanbazaar/internal/llm"
	"kisanbazaar/internal/media"
	"kisanbazaar/internal/prompt"
)

func newMux(t *testing.T) http.Handler {
	t.Helper()
	engine, err := prompt.NewEngine()
	require.NoError(t, err)
	store, err := media.NewMemoryStore(4)
	require.NoError(t, err)
	g, err := flow.NewGateway(llm.NewFakeClient(), engine, store, flow.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	orch, err := conversation.New(conversation.Config{Interactor: g, Synthesizer: g, Logger: zerolog.Nop()})
	require.NoError(t, err)
	advisor := rpc.NewAdvisorHandler(g, dashboard.NewService(g), orch, advisory.NewMemorySink(), zerolog.Nop())
	return NewMux(advisor, ws.NewSessionHandler(orch, zerolog.Nop()), zerolog.Nop())
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	newMux(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, rpc.CropAdvisoryProcedure, nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	newMux(t).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-User-Id")
}

func TestConnectJSONOverPlainHTTP(t *testing.T) {
	srv := httptest.NewServer(newMux(t))
	defer srv.Close()

	resp, err := http.Post(srv.URL+rpc.IconForCropProcedure, "application/json",
		bytes.NewBufferString(`{"cropName":"Wheat"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"icon":"🌱"}`, string(body))
}
