package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"kisanbazaar/internal/advisory"
	"kisanbazaar/internal/config"
	"kisanbazaar/internal/llm"
	"kisanbazaar/internal/media"
	"kisanbazaar/internal/observability"
	"kisanbazaar/internal/sessionstore"
)

type stores struct {
	media      media.Store
	advisories advisory.Sink
	history    sessionstore.Store
	closers    []io.Closer
}

func (s *stores) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func initStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	s := &stores{}
	var err error
	if s.media, err = initMedia(cfg, log); err != nil {
		return nil, err
	}
	if s.advisories, err = initAdvisories(ctx, cfg, log); err != nil {
		return nil, err
	}
	if c, ok := s.advisories.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}
	if s.history, err = initHistory(ctx, cfg, log); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.closers = append(s.closers, s.history)
	return s, nil
}

func initMedia(cfg *config.Config, log zerolog.Logger) (media.Store, error) {
	if cfg.Media.S3() {
		s3Cfg := media.S3Config{
			Endpoint:  cfg.Media.Endpoint,
			Region:    cfg.Media.Region,
			AccessKey: cfg.Media.AccessKey,
			SecretKey: cfg.Media.SecretKey,
			Bucket:    cfg.Media.Bucket,
			UseSSL:    cfg.Media.UseSSL,
		}
		store, err := media.NewS3Store(s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize media s3 store: %w", err)
		}
		log.Info().Str("bucket", s3Cfg.Bucket).Str("endpoint", s3Cfg.Endpoint).Msg("media store: s3")
		return store, nil
	}
	log.Info().Int("entries", cfg.Media.CacheEntries).Msg("media store: in-memory")
	return media.NewMemoryStore(cfg.Media.CacheEntries)
}

// initAdvisories prefers Postgres, then Supabase, then process memory.
func initAdvisories(ctx context.Context, cfg *config.Config, log zerolog.Logger) (advisory.Sink, error) {
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		sink, err := advisory.NewPostgresSink(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open advisory database: %w", err)
		}
		log.Info().Msg("advisory sink: postgres")
		return sink, nil
	}
	if cfg.Supabase.Enabled() {
		sink, err := advisory.NewSupabaseSink(cfg.Supabase.URL, cfg.Supabase.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize supabase sink: %w", err)
		}
		log.Info().Str("url", cfg.Supabase.URL).Msg("advisory sink: supabase")
		return sink, nil
	}
	log.Warn().Msg("advisory sink: in-memory, advisories are lost on restart")
	return advisory.NewMemorySink(), nil
}

func initHistory(ctx context.Context, cfg *config.Config, log zerolog.Logger) (sessionstore.Store, error) {
	if url := strings.TrimSpace(cfg.RedisURL); url != "" {
		store, err := sessionstore.NewRedisStoreFromURL(ctx, url, cfg.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect session store: %w", err)
		}
		log.Info().Msg("session store: redis")
		return store, nil
	}
	log.Info().Int("max_sessions", cfg.SessionCacheSize).Msg("session store: in-memory")
	return sessionstore.NewMemoryStore(cfg.SessionCacheSize, cfg.SessionTTL), nil
}

// initModel picks Gemini when a key is set and the offline client otherwise,
// then wraps it in middleware. The timeout sits inside the rate limiter so
// queueing does not eat into a call's budget.
func initModel(ctx context.Context, cfg *config.Config, tel observability.Telemetry, log zerolog.Logger) (llm.Client, error) {
	var base llm.Client
	if cfg.LLM.Fake() {
		log.Warn().Msg("model: no API key set, using offline fake client")
		base = llm.NewFakeClient()
	} else {
		g, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			SpeechModel: cfg.LLM.SpeechModel,
			Voice:       cfg.LLM.Voice,
		})
		if err != nil {
			return nil, err
		}
		base = g
	}
	return llm.Wrap(base,
		llm.WithTracing(tel.Tracer),
		llm.WithLogging(log),
		llm.RateLimit(cfg.LLM.RPS, cfg.LLM.Burst),
		llm.WithTimeout(cfg.LLM.ModelTimeout, cfg.LLM.SpeechTimeout),
	), nil
}
