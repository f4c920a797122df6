package flow

import (
	"context"
	"fmt"

	"kisanbazaar/internal/apperr"
	"kisanbazaar/internal/media"
)

// Flow ids. Each id is also the prompt template id.
const (
	CropAdvisory     = "crop-advisory"
	DashboardAlerts  = "dashboard-alerts"
	MarketRates      = "market-rates"
	Interaction      = "multilingual-interaction"
	TranslateUI      = "translate-ui"
	ProfileAssist    = "profile-assistance"
	IconForCrop      = "icon-for-crop"
	TextToSpeech     = "text-to-speech"
	VoiceToDiagnosis = "voice-to-diagnosis"
	Transcribe       = "transcribe"
)

// Info is the untyped view of a descriptor.
type Info struct {
	ID       string
	Template string
	Speech   bool
}

// Catalog lists every flow the gateway serves.
var Catalog = []Info{
	{ID: CropAdvisory, Template: CropAdvisory},
	{ID: DashboardAlerts, Template: DashboardAlerts},
	{ID: MarketRates, Template: MarketRates},
	{ID: Interaction, Template: Interaction},
	{ID: TranslateUI, Template: TranslateUI},
	{ID: ProfileAssist, Template: ProfileAssist},
	{ID: IconForCrop, Template: IconForCrop},
	{ID: TextToSpeech, Template: TextToSpeech, Speech: true},
	{ID: VoiceToDiagnosis, Template: VoiceToDiagnosis},
	{ID: Transcribe, Template: Transcribe},
}

// Descriptor binds a flow id to its input and output types.
type Descriptor[In, Out any] struct {
	ID       string
	Template string
	// Prepare moves inline media from the input into the media store.
	Prepare func(ctx context.Context, s media.Store, in *In) error
	// Normalize repairs derived fields before the output is checked.
	Normalize func(*Out)
}

func (d Descriptor[In, Out]) template() string {
	if d.Template != "" {
		return d.Template
	}
	return d.ID
}

var (
	cropAdvisoryFlow = Descriptor[CropAdvisoryInput, CropAdvisoryOutput]{ID: CropAdvisory}
	alertsFlow       = Descriptor[AlertsInput, AlertsOutput]{ID: DashboardAlerts, Normalize: normalizeAlerts}
	marketFlow       = Descriptor[MarketRatesInput, MarketRatesOutput]{ID: MarketRates, Normalize: normalizeMarket}
	interactionFlow  = Descriptor[InteractionInput, InteractionOutput]{ID: Interaction, Prepare: prepareInteraction}
	translateFlow    = Descriptor[TranslateInput, TranslateOutput]{ID: TranslateUI}
	profileFlow      = Descriptor[ProfileInput, ProfileOutput]{ID: ProfileAssist}
	iconFlow         = Descriptor[IconInput, IconOutput]{ID: IconForCrop, Normalize: normalizeIcon}
	diagnosisFlow    = Descriptor[DiagnosisInput, DiagnosisOutput]{
		ID: VoiceToDiagnosis,
		Prepare: func(ctx context.Context, s media.Store, in *DiagnosisInput) error {
			return storeDataURI(ctx, s, "voiceCommand", in.VoiceCommand, &in.VoiceRef)
		},
	}
	transcribeFlow = Descriptor[TranscribeInput, TranscribeOutput]{
		ID: Transcribe,
		Prepare: func(ctx context.Context, s media.Store, in *TranscribeInput) error {
			return storeDataURI(ctx, s, "voiceCommand", in.VoiceCommand, &in.VoiceRef)
		},
	}
)

func prepareInteraction(ctx context.Context, s media.Store, in *InteractionInput) error {
	if in.VoiceCommand != "" {
		if err := storeDataURI(ctx, s, "voiceCommand", in.VoiceCommand, &in.VoiceRef); err != nil {
			return err
		}
	}
	if in.Image != "" {
		if err := storeDataURI(ctx, s, "image", in.Image, &in.ImageRef); err != nil {
			return err
		}
	}
	return nil
}

// storeDataURI decodes a caller-supplied data URI into the store. A malformed
// URI is the caller's fault.
func storeDataURI(ctx context.Context, s media.Store, field, uri string, dst *media.Ref) error {
	mime, data, err := media.ParseDataURI(uri)
	if err != nil {
		return apperr.E(apperr.CallerContract, "flow.prepare", fmt.Errorf("%s: %w", field, err))
	}
	if len(data) == 0 {
		return apperr.Errorf(apperr.CallerContract, "flow.prepare", "%s: empty payload", field)
	}
	ref, err := s.Put(ctx, mime, data)
	if err != nil {
		return fmt.Errorf("store %s: %w", field, err)
	}
	*dst = ref
	return nil
}
