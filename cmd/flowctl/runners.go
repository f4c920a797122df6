package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"kisanbazaar/internal/flow"
)

type runner func(ctx context.Context, g *flow.Gateway, raw []byte) (any, error)

// typed decodes raw into In and calls fn. Empty input decodes as the zero
// value so flows without fields need no file.
func typed[In, Out any](fn func(*flow.Gateway, context.Context, In) (Out, error)) runner {
	return func(ctx context.Context, g *flow.Gateway, raw []byte) (any, error) {
		var in In
		if len(strings.TrimSpace(string(raw))) > 0 {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("decode input: %w", err)
			}
		}
		return fn(g, ctx, in)
	}
}

var runners = map[string]runner{
	flow.CropAdvisory:     typed((*flow.Gateway).CropAdvisory),
	flow.DashboardAlerts:  typed((*flow.Gateway).DashboardAlerts),
	flow.Interaction:      typed((*flow.Gateway).Interact),
	flow.TranslateUI:      typed((*flow.Gateway).TranslateUI),
	flow.ProfileAssist:    typed((*flow.Gateway).ProfileAssist),
	flow.IconForCrop:      typed((*flow.Gateway).IconForCrop),
	flow.TextToSpeech:     typed((*flow.Gateway).TextToSpeech),
	flow.VoiceToDiagnosis: typed((*flow.Gateway).VoiceToDiagnosis),
	flow.MarketRates: func(ctx context.Context, g *flow.Gateway, _ []byte) (any, error) {
		return g.MarketRates(ctx)
	},
	flow.Transcribe: typed(func(g *flow.Gateway, ctx context.Context, in flow.TranscribeInput) (flow.TranscribeOutput, error) {
		text, err := g.Transcribe(ctx, in.VoiceCommand)
		return flow.TranscribeOutput{Transcript: text}, err
	}),
}

func run(ctx context.Context, g *flow.Gateway, flowID string, raw []byte) (any, error) {
	r, ok := runners[flowID]
	if !ok {
		return nil, fmt.Errorf("unknown flow %q", flowID)
	}
	return r(ctx, g, raw)
}
