package server

import (
	"net/http"

	"github.com/rs/zerolog"

	"kisanbazaar/internal/gateway/handler/rpc"
	"kisanbazaar/internal/gateway/handler/ws"
	"kisanbazaar/internal/gateway/middleware"
)

func NewMux(advisor *rpc.AdvisorHandler, session *ws.SessionHandler, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// RPC Handlers
	advisor.Register(mux)

	// Live sessions
	mux.HandleFunc("/ws/session", session.HandleSession)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	// Middleware
	return middleware.CORS(middleware.Identity(middleware.AccessLog(log)(mux)))
}
