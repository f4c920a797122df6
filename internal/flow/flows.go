package flow

import (
	"context"
	"errors"
	"strings"

	"kisanbazaar/internal/apperr"
	"kisanbazaar/internal/audio"
	"kisanbazaar/internal/llm"
	"kisanbazaar/internal/schema"
)

// ErrNoAudio marks a speech call that succeeded without returning audio.
var ErrNoAudio = errors.New("speech model returned no audio")

func (g *Gateway) CropAdvisory(ctx context.Context, in CropAdvisoryInput) (CropAdvisoryOutput, error) {
	return InvokeStructured(ctx, g, cropAdvisoryFlow, in)
}

// DashboardAlerts returns exactly one Weather, Disease and Market alert, in
// that order.
func (g *Gateway) DashboardAlerts(ctx context.Context, in AlertsInput) (AlertsOutput, error) {
	return InvokeStructured(ctx, g, alertsFlow, in)
}

// MarketRates returns six crops whose 1kg price is derived from the 40kg
// price.
func (g *Gateway) MarketRates(ctx context.Context) (MarketRatesOutput, error) {
	return InvokeStructured(ctx, g, marketFlow, MarketRatesInput{})
}

func (g *Gateway) Interact(ctx context.Context, in InteractionInput) (InteractionOutput, error) {
	return InvokeStructured(ctx, g, interactionFlow, in)
}

func (g *Gateway) ProfileAssist(ctx context.Context, in ProfileInput) (ProfileOutput, error) {
	return InvokeStructured(ctx, g, profileFlow, in)
}

func (g *Gateway) VoiceToDiagnosis(ctx context.Context, in DiagnosisInput) (DiagnosisOutput, error) {
	return InvokeStructured(ctx, g, diagnosisFlow, in)
}

// Transcribe turns a voice data URI into text.
func (g *Gateway) Transcribe(ctx context.Context, voiceDataURI string) (string, error) {
	out, err := InvokeStructured(ctx, g, transcribeFlow, TranscribeInput{VoiceCommand: voiceDataURI})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Transcript), nil
}

// TranslateUI translates texts preserving order. Translating into the source
// language returns the input unchanged without a model call. Cached strings
// are not sent again.
func (g *Gateway) TranslateUI(ctx context.Context, in TranslateInput) (TranslateOutput, error) {
	if err := schema.ValidateInput(in); err != nil {
		g.record(ctx, TranslateUI, err)
		return TranslateOutput{}, err
	}
	if in.TargetLanguage == g.sourceLang || len(in.Texts) == 0 {
		g.recordOutcome(ctx, TranslateUI, "identity")
		return TranslateOutput{Translations: append([]string{}, in.Texts...)}, nil
	}

	out := make([]string, len(in.Texts))
	var missing []string
	pending := map[string]bool{}
	for i, text := range in.Texts {
		if tr, ok := g.translations.Get(cacheKey(in.TargetLanguage, text)); ok {
			out[i] = tr
			continue
		}
		if !pending[text] {
			pending[text] = true
			missing = append(missing, text)
		}
	}
	if len(missing) == 0 {
		g.recordOutcome(ctx, TranslateUI, "cached")
		return TranslateOutput{Translations: out}, nil
	}

	res, err := InvokeStructured(ctx, g, translateFlow, TranslateInput{Texts: missing, TargetLanguage: in.TargetLanguage})
	if err != nil {
		return TranslateOutput{}, err
	}
	if len(res.Translations) != len(missing) {
		err := apperr.E(apperr.SchemaValidation, "flow."+TranslateUI,
			schema.Invalid("translations", "want %d translations, got %d", len(missing), len(res.Translations)))
		g.rejected(TranslateUI, err)
		return TranslateOutput{}, err
	}
	fresh := make(map[string]string, len(missing))
	for i, text := range missing {
		fresh[text] = res.Translations[i]
		g.translations.Add(cacheKey(in.TargetLanguage, text), res.Translations[i])
	}
	for i, text := range in.Texts {
		if tr, ok := fresh[text]; ok {
			out[i] = tr
		}
	}
	return TranslateOutput{Translations: out}, nil
}

func cacheKey(lang, text string) string { return lang + "\x00" + text }

// IconForCrop returns one emoji for a crop, cached by lower-cased name.
func (g *Gateway) IconForCrop(ctx context.Context, in IconInput) (IconOutput, error) {
	key := strings.ToLower(strings.TrimSpace(in.CropName))
	if icon, ok := g.icons.Get(key); ok && key != "" {
		g.recordOutcome(ctx, IconForCrop, "cached")
		return IconOutput{Icon: icon}, nil
	}
	out, err := InvokeStructured(ctx, g, iconFlow, in)
	if err != nil {
		return IconOutput{}, err
	}
	g.icons.Add(key, out.Icon)
	return out, nil
}

// Synthesize speaks text and wraps the audio as WAV. Render, call and
// encoding errors are apperr.ModelInvocation; a successful call without
// audio is an apperr.SynthesisDegradation wrapping ErrNoAudio.
func (g *Gateway) Synthesize(ctx context.Context, in SpeechInput) (*audio.Artifact, error) {
	op := "flow." + TextToSpeech
	if err := schema.ValidateInput(in); err != nil {
		g.record(ctx, TextToSpeech, err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		err = apperr.E(apperr.ModelInvocation, op, err)
		g.record(ctx, TextToSpeech, err)
		return nil, err
	}
	p, err := g.engine.Render(TextToSpeech, in)
	if err != nil {
		err = apperr.E(apperr.ModelInvocation, op, err)
		g.record(ctx, TextToSpeech, err)
		return nil, err
	}
	clip, err := g.client.GenerateSpeech(ctx, llm.SpeechRequest{Flow: TextToSpeech, Text: p.Text(), Voice: g.voice})
	if err != nil {
		err = apperr.E(apperr.ModelInvocation, op, err)
		g.record(ctx, TextToSpeech, err)
		return nil, err
	}
	artifact, err := audio.FromPCM(clip.Data, audio.FormatFromMIME(clip.MIMEType))
	if errors.Is(err, audio.ErrEmptyPCM) {
		err = apperr.E(apperr.SynthesisDegradation, op, ErrNoAudio)
		g.log.Warn().Str("kind", apperr.SynthesisDegradation.String()).Int("text_bytes", len(in.Text)).Msg("speech returned no audio")
		g.record(ctx, TextToSpeech, err)
		return nil, err
	}
	if err != nil {
		err = apperr.E(apperr.ModelInvocation, op, err)
		g.record(ctx, TextToSpeech, err)
		return nil, err
	}
	g.record(ctx, TextToSpeech, nil)
	return artifact, nil
}

// TextToSpeech is Synthesize with the artifact rendered as a data URI.
func (g *Gateway) TextToSpeech(ctx context.Context, in SpeechInput) (SpeechOutput, error) {
	a, err := g.Synthesize(ctx, in)
	if err != nil {
		return SpeechOutput{}, err
	}
	return SpeechOutput{Audio: a.URI()}, nil
}
