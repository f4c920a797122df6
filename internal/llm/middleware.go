package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Middleware decorates a Client with a cross-cutting concern.
// No retry middleware: callers own retry policy.
type Middleware func(Client) Client

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner Client, mws ...Middleware) Client {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// passthrough forwards everything; embed it and override what you need.
type passthrough struct{ next Client }

func (p passthrough) Name() string { return p.next.Name() }
func (p passthrough) Close() error { return p.next.Close() }
func (p passthrough) GenerateJSON(ctx context.Context, req Request) (json.RawMessage, error) {
	return p.next.GenerateJSON(ctx, req)
}
func (p passthrough) GenerateSpeech(ctx context.Context, req SpeechRequest) (Audio, error) {
	return p.next.GenerateSpeech(ctx, req)
}

// -------- Rate limiting --------

// RateLimit shares one token bucket across JSON and speech calls. The
// bucket holds up to burst tokens and refills at rps per second, computed
// on demand rather than by a background ticker. rps <= 0 disables it.
func RateLimit(rps float64, burst int) Middleware {
	return func(next Client) Client {
		if rps <= 0 {
			return next
		}
		if burst <= 0 {
			burst = 1
		}
		return &rateLimited{
			passthrough: passthrough{next},
			rps:         rps,
			burst:       float64(burst),
			tokens:      float64(burst),
			refilled:    time.Now(),
		}
	}
}

type rateLimited struct {
	passthrough
	rps   float64
	burst float64

	mu       sync.Mutex
	tokens   float64
	refilled time.Time
	closed   bool
}

func (c *rateLimited) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.next.Close()
}

// reserve takes a token, going into debt when the bucket is empty, and
// returns how long the caller must hold off before spending it.
func (c *rateLimited) reserve() (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, context.Canceled
	}
	now := time.Now()
	c.tokens = math.Min(c.burst, c.tokens+now.Sub(c.refilled).Seconds()*c.rps)
	c.refilled = now
	c.tokens--
	if c.tokens >= 0 {
		return 0, nil
	}
	return time.Duration(-c.tokens / c.rps * float64(time.Second)), nil
}

func (c *rateLimited) release() {
	c.mu.Lock()
	c.tokens = math.Min(c.burst, c.tokens+1)
	c.mu.Unlock()
}

func (c *rateLimited) wait(ctx context.Context) error {
	delay, err := c.reserve()
	if err != nil || delay == 0 {
		return err
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		// an abandoned wait must not tax later callers
		c.release()
		return ctx.Err()
	}
}

func (c *rateLimited) GenerateJSON(ctx context.Context, req Request) (json.RawMessage, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.next.GenerateJSON(ctx, req)
}

func (c *rateLimited) GenerateSpeech(ctx context.Context, req SpeechRequest) (Audio, error) {
	if err := c.wait(ctx); err != nil {
		return Audio{}, err
	}
	return c.next.GenerateSpeech(ctx, req)
}

// -------- Timeouts --------

// WithTimeout bounds each call. Zero disables the bound for that call type.
func WithTimeout(model, speech time.Duration) Middleware {
	return func(next Client) Client {
		return &timed{passthrough: passthrough{next}, model: model, speech: speech}
	}
}

type timed struct {
	passthrough
	model  time.Duration
	speech time.Duration
}

func (t *timed) GenerateJSON(ctx context.Context, req Request) (json.RawMessage, error) {
	if t.model <= 0 {
		return t.next.GenerateJSON(ctx, req)
	}
	ctx, cancel := context.WithTimeout(ctx, t.model)
	defer cancel()
	raw, err := t.next.GenerateJSON(ctx, req)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%s: no answer within %s: %w", req.Flow, t.model, context.DeadlineExceeded)
	}
	return raw, err
}

func (t *timed) GenerateSpeech(ctx context.Context, req SpeechRequest) (Audio, error) {
	if t.speech <= 0 {
		return t.next.GenerateSpeech(ctx, req)
	}
	ctx, cancel := context.WithTimeout(ctx, t.speech)
	defer cancel()
	audio, err := t.next.GenerateSpeech(ctx, req)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return Audio{}, fmt.Errorf("%s: no audio within %s: %w", req.Flow, t.speech, context.DeadlineExceeded)
	}
	return audio, err
}

// -------- Logging --------

// WithLogging logs request size, latency and errors. Media bytes are never
// logged, only their length.
func WithLogging(logger zerolog.Logger) Middleware {
	return func(next Client) Client {
		return &logging{passthrough: passthrough{next}, log: logger.With().Str("component", "llm").Logger()}
	}
}

type logging struct {
	passthrough
	log zerolog.Logger
}

func (l *logging) GenerateJSON(ctx context.Context, req Request) (json.RawMessage, error) {
	start := time.Now()
	raw, err := l.next.GenerateJSON(ctx, req)
	lvl := zerolog.DebugLevel
	if err != nil {
		lvl = zerolog.ErrorLevel
	}
	ev := l.log.WithLevel(lvl).Err(err)
	if err != nil {
		ev = ev.Str("kind", "model_invocation")
	}
	ev.Str("flow", req.Flow).
		Str("model", l.next.Name()).
		Int("request_bytes", req.Size()).
		Int("response_bytes", len(raw)).
		Dur("latency", time.Since(start)).
		Msg("llm request")
	return raw, err
}

func (l *logging) GenerateSpeech(ctx context.Context, req SpeechRequest) (Audio, error) {
	start := time.Now()
	audio, err := l.next.GenerateSpeech(ctx, req)
	lvl := zerolog.DebugLevel
	if err != nil {
		lvl = zerolog.ErrorLevel
	}
	ev := l.log.WithLevel(lvl).Err(err)
	if err != nil {
		ev = ev.Str("kind", "model_invocation")
	}
	ev.Str("flow", req.Flow).
		Str("model", l.next.Name()).
		Int("text_bytes", len(req.Text)).
		Int("audio_bytes", len(audio.Data)).
		Dur("latency", time.Since(start)).
		Msg("llm speech")
	return audio, err
}

// -------- Tracing --------

// WithTracing opens a span per call. A nil provider uses the global one.
func WithTracing(tp trace.TracerProvider) Middleware {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer("kisanbazaar/internal/llm")
	return func(next Client) Client {
		return &traced{passthrough: passthrough{next}, tracer: tracer}
	}
}

type traced struct {
	passthrough
	tracer trace.Tracer
}

func (t *traced) GenerateJSON(ctx context.Context, req Request) (json.RawMessage, error) {
	ctx, span := t.tracer.Start(ctx, "llm.generate_json", trace.WithAttributes(
		attribute.String("llm.flow", req.Flow),
		attribute.String("llm.model", t.next.Name()),
		attribute.Int("llm.request_bytes", req.Size()),
	))
	defer span.End()
	raw, err := t.next.GenerateJSON(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return raw, err
}

func (t *traced) GenerateSpeech(ctx context.Context, req SpeechRequest) (Audio, error) {
	ctx, span := t.tracer.Start(ctx, "llm.generate_speech", trace.WithAttributes(
		attribute.String("llm.flow", req.Flow),
		attribute.String("llm.model", t.next.Name()),
	))
	defer span.End()
	audio, err := t.next.GenerateSpeech(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int("llm.audio_bytes", len(audio.Data)))
	return audio, err
}
