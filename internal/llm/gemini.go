package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	genai "google.golang.org/genai"
)

const defaultVoice = "Algenib"

// GeminiClient is a thin wrapper around the official genai client. It makes
// exactly one API call per request; limits and timeouts come from middleware.
type GeminiClient struct {
	cli         *genai.Client
	model       string
	speechModel string
	voice       string
}

type GeminiConfig struct {
	APIKey      string
	Model       string
	SpeechModel string
	Voice       string
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	voice := cfg.Voice
	if voice == "" {
		voice = defaultVoice
	}
	return &GeminiClient{cli: cli, model: cfg.Model, speechModel: cfg.SpeechModel, voice: voice}, nil
}

func (g *GeminiClient) Name() string { return "Gemini:" + g.model }
func (g *GeminiClient) Close() error { return nil }

// GenerateJSON sends the request parts and asks for application/json.
func (g *GeminiClient) GenerateJSON(ctx context.Context, req Request) (json.RawMessage, error) {
	parts := make([]*genai.Part, 0, len(req.Parts))
	for _, p := range req.Parts {
		if p.IsInline() {
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: p.MIMEType, Data: p.Data}})
			continue
		}
		if p.Text != "" {
			parts = append(parts, &genai.Part{Text: p.Text})
		}
	}
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: "user", Parts: parts}},
		cfg,
	)
	if err != nil {
		return nil, err
	}
	txt := firstText(resp)
	if strings.TrimSpace(txt) == "" {
		return nil, ErrEmptyResponse
	}
	return json.RawMessage(txt), nil
}

// GenerateSpeech asks the speech model for audio with the prebuilt voice. A
// response without inline audio yields an empty Audio and no error.
func (g *GeminiClient) GenerateSpeech(ctx context.Context, req SpeechRequest) (Audio, error) {
	voice := req.Voice
	if voice == "" {
		voice = g.voice
	}
	resp, err := g.cli.Models.GenerateContent(ctx, g.speechModel,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: req.Text}}}},
		&genai.GenerateContentConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &genai.SpeechConfig{
				VoiceConfig: &genai.VoiceConfig{
					PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
				},
			},
		},
	)
	if err != nil {
		return Audio{}, err
	}
	if resp == nil {
		return Audio{}, nil
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
				return Audio{Data: p.InlineData.Data, MIMEType: p.InlineData.MIMEType}, nil
			}
		}
	}
	return Audio{}, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}
