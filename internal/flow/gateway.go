// Package flow is the model invocation gateway: every named flow is a
// descriptor over typed input and output, run through one generic pipeline of
// input check, render, model call and output validation.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"kisanbazaar/internal/apperr"
	"kisanbazaar/internal/llm"
	"kisanbazaar/internal/media"
	"kisanbazaar/internal/prompt"
	"kisanbazaar/internal/schema"
)

// Options tune a Gateway. Zero values pick defaults.
type Options struct {
	SourceLanguage string
	Voice          string
	CacheSize      int
	CacheTTL       time.Duration
	Logger         zerolog.Logger
	Meter          metric.Meter
}

// Gateway runs flows against a model client.
type Gateway struct {
	client     llm.Client
	engine     *prompt.Engine
	media      media.Store
	log        zerolog.Logger
	sourceLang string
	voice      string

	translations *expirable.LRU[string, string]
	icons        *expirable.LRU[string, string]
	invocations  metric.Int64Counter
}

func NewGateway(client llm.Client, engine *prompt.Engine, store media.Store, opts Options) (*Gateway, error) {
	if client == nil || engine == nil || store == nil {
		return nil, fmt.Errorf("flow: client, engine and media store are required")
	}
	for _, info := range Catalog {
		if !engine.Has(info.Template) {
			return nil, fmt.Errorf("flow: no template for %s", info.ID)
		}
	}
	if opts.SourceLanguage == "" {
		opts.SourceLanguage = "en"
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter("kisanbazaar/internal/flow")
	}
	counter, err := opts.Meter.Int64Counter("advisor.flow.invocations",
		metric.WithDescription("Flow invocations by outcome."))
	if err != nil {
		return nil, fmt.Errorf("flow: create counter: %w", err)
	}
	return &Gateway{
		client:       client,
		engine:       engine,
		media:        store,
		log:          opts.Logger.With().Str("component", "flow").Logger(),
		sourceLang:   opts.SourceLanguage,
		voice:        opts.Voice,
		translations: expirable.NewLRU[string, string](opts.CacheSize, nil, opts.CacheTTL),
		icons:        expirable.NewLRU[string, string](opts.CacheSize, nil, opts.CacheTTL),
		invocations:  counter,
	}, nil
}

// Media exposes the store flows resolve references against.
func (g *Gateway) Media() media.Store { return g.media }

// SourceLanguage is the language UI strings are written in.
func (g *Gateway) SourceLanguage() string { return g.sourceLang }

// Invoke sends a rendered payload for flowID and returns the raw model output.
// It makes one attempt; every failure is an apperr.ModelInvocation.
func (g *Gateway) Invoke(ctx context.Context, flowID string, p prompt.Payload) (json.RawMessage, error) {
	return g.invoke(ctx, flowID, p, nil)
}

func (g *Gateway) invoke(ctx context.Context, flowID string, p prompt.Payload, responseSchema json.RawMessage) (json.RawMessage, error) {
	op := "flow." + flowID
	if err := ctx.Err(); err != nil {
		return nil, apperr.E(apperr.ModelInvocation, op, err)
	}
	req := llm.Request{Flow: flowID, System: p.System, ResponseSchema: responseSchema}
	for _, part := range p.Parts {
		if part.Media == nil {
			req.Parts = append(req.Parts, llm.TextPart(part.Text))
			continue
		}
		data, err := g.media.Get(ctx, *part.Media)
		if err != nil {
			if errors.Is(err, media.ErrNotFound) {
				return nil, apperr.E(apperr.CallerContract, op, fmt.Errorf("media %s: %w", part.Media, err))
			}
			return nil, fmt.Errorf("%s: load media: %w", op, err)
		}
		req.Parts = append(req.Parts, llm.InlinePart(part.Media.MIMEType, data))
	}
	raw, err := g.client.GenerateJSON(ctx, req)
	if err != nil {
		return nil, apperr.E(apperr.ModelInvocation, op, err)
	}
	return raw, nil
}

// InvokeStructured runs the full pipeline for descriptor d: input check,
// media preparation, render, one model call, validation, normalization and
// semantic checks. It never returns a partially typed value with a nil error.
func InvokeStructured[In, Out any](ctx context.Context, g *Gateway, d Descriptor[In, Out], in In) (Out, error) {
	var zero Out
	op := "flow." + d.ID

	if err := schema.ValidateInput(in); err != nil {
		g.record(ctx, d.ID, err)
		return zero, err
	}
	if d.Prepare != nil {
		if err := d.Prepare(ctx, g.media, &in); err != nil {
			g.record(ctx, d.ID, err)
			return zero, err
		}
	}

	p, err := g.engine.Render(d.template(), in)
	if err != nil {
		err = fmt.Errorf("%s: %w", op, err)
		g.record(ctx, d.ID, err)
		return zero, err
	}
	s := schema.For[Out]()
	p.Append("OUTPUT_FORMAT", "Respond with a single JSON object matching this JSON Schema:\n"+s.Describe())

	raw, err := g.invoke(ctx, d.ID, p, s.JSON())
	if err != nil {
		g.record(ctx, d.ID, err)
		return zero, err
	}

	out, err := schema.Decode[Out](s, raw, d.Normalize)
	if err != nil {
		g.rejected(d.ID, err)
		g.record(ctx, d.ID, err)
		return zero, err
	}
	g.record(ctx, d.ID, nil)
	return out, nil
}

// rejected logs invalid model output. It points at a prompt or schema defect
// rather than an outage, so it is logged apart from invocation errors.
func (g *Gateway) rejected(flowID string, err error) {
	ev := g.log.Error().Err(err).Str("kind", apperr.SchemaValidation.String()).Str("flow", flowID)
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		ev = ev.Str("field", ve.Field)
	}
	ev.Msg("model output rejected")
}

func (g *Gateway) record(ctx context.Context, flowID string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).String()
	}
	g.recordOutcome(ctx, flowID, outcome)
}

func (g *Gateway) recordOutcome(ctx context.Context, flowID, outcome string) {
	g.invocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("flow", flowID),
		attribute.String("outcome", outcome),
	))
}
