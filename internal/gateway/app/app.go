package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"kisanbazaar/internal/config"
	"kisanbazaar/internal/conversation"
	"kisanbazaar/internal/dashboard"
	"kisanbazaar/internal/flow"
	"kisanbazaar/internal/gateway/handler/rpc"
	"kisanbazaar/internal/gateway/handler/ws"
	"kisanbazaar/internal/gateway/server"
	"kisanbazaar/internal/llm"
	"kisanbazaar/internal/observability"
	"kisanbazaar/internal/prompt"
)

type App struct {
	server    *server.Server
	orch      *conversation.Orchestrator
	model     llm.Client
	stores    *stores
	telemetry observability.Shutdown
	log       zerolog.Logger
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

func NewWithConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	log := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.ServiceName, cfg.Env, cfg.LogPretty)

	tel, shutdownTelemetry, err := observability.Setup(ctx, observability.Config{
		ServiceName:  cfg.ServiceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	// Dependencies
	st, err := initStores(ctx, cfg, log)
	if err != nil {
		_ = shutdownTelemetry(ctx)
		return nil, err
	}
	model, err := initModel(ctx, cfg, tel, log)
	if err != nil {
		_ = st.Close()
		_ = shutdownTelemetry(ctx)
		return nil, err
	}
	engine, err := prompt.NewEngine()
	if err != nil {
		return nil, errors.Join(err, model.Close(), st.Close(), shutdownTelemetry(ctx))
	}
	gateway, err := flow.NewGateway(model, engine, st.media, flow.Options{
		SourceLanguage: cfg.SourceLanguage,
		Voice:          cfg.LLM.Voice,
		CacheSize:      cfg.FlowCacheSize,
		CacheTTL:       cfg.FlowCacheTTL,
		Logger:         log,
		Meter:          tel.Meter.Meter("kisanbazaar/internal/flow"),
	})
	if err != nil {
		return nil, errors.Join(err, model.Close(), st.Close(), shutdownTelemetry(ctx))
	}
	orch, err := conversation.New(conversation.Config{
		Interactor:  gateway,
		Synthesizer: gateway,
		Transcriber: gateway,
		Advisories:  st.advisories,
		History:     st.history,
		Logger:      log,
	})
	if err != nil {
		return nil, errors.Join(err, model.Close(), st.Close(), shutdownTelemetry(ctx))
	}

	advisorHandler := rpc.NewAdvisorHandler(gateway, dashboard.NewService(gateway), orch, st.advisories, log)
	sessionHandler := ws.NewSessionHandler(orch, log)

	// Routing & Server
	mux := server.NewMux(advisorHandler, sessionHandler, log)
	srv := server.New(cfg.Port, mux, log)

	log.Info().Str("model", model.Name()).Str("env", cfg.Env).Msg("app initialized")
	return &App{
		server:    srv,
		orch:      orch,
		model:     model,
		stores:    st,
		telemetry: shutdownTelemetry,
		log:       log,
	}, nil
}

func (a *App) Logger() zerolog.Logger { return a.log }

func (a *App) Start() error {
	return a.server.Start()
}

// Shutdown stops accepting requests, waits for queued advisory writes and
// flushes telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	a.orch.Drain()
	return errors.Join(err, a.model.Close(), a.stores.Close(), a.telemetry(ctx))
}
