package flow

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"kisanbazaar/internal/apperr"
	"kisanbazaar/internal/audio"
	"kisanbazaar/internal/llm"
	"kisanbazaar/internal/media"
	"kisanbazaar/internal/prompt"
)

func newGateway(t *testing.T, client llm.Client, opts ...func(*Options)) *Gateway {
	t.Helper()
	engine, err := prompt.NewEngine()
	require.NoError(t, err)
	store, err := media.NewMemoryStore(16)
	require.NoError(t, err)
	o := Options{Logger: zerolog.Nop()}
	for _, fn := range opts {
		fn(&o)
	}
	g, err := NewGateway(client, engine, store, o)
	require.NoError(t, err)
	return g
}

const sixCrops = `{"crops":[
 {"name":"Wheat","urduName":"گندم","demand":"High","price40kg":"Rs. 4,200","price1kg":"Rs. 99","change":"+2.1%","mandi":"Lahore","updated":"30 minutes ago","icon":"🌾","changeColor":"text-red-600"},
 {"name":"Rice","urduName":"چاول","demand":"High","price40kg":"Rs. 7,650","price1kg":"Rs. 191.25","change":"+1.4%","mandi":"Gujranwala","updated":"1 hour ago","icon":"🍚","changeColor":"text-green-600"},
 {"name":"Cotton","urduName":"کپاس","demand":"Medium","price40kg":"Rs. 8,555","price1kg":"Rs. 213.88","change":"-0.8%","mandi":"Multan","updated":"2 hours ago","icon":"☁️","changeColor":"text-red-600"},
 {"name":"Tomato","urduName":"ٹماٹر","demand":"Medium","price40kg":"3100","price1kg":"77.5","change":"-3.2%","mandi":"Karachi","updated":"45 minutes ago","icon":"🍅","changeColor":"text-red-600"},
 {"name":"Onion","urduName":"پیاز","demand":"Low","price40kg":"Rs. 2,801","price1kg":"Rs. 70","change":"+0.5%","mandi":"Hyderabad","updated":"3 hours ago","icon":"🧅","changeColor":"text-green-600"},
 {"name":"Potato","urduName":"آلو","demand":"Medium","price40kg":"PKR 2,400","price1kg":"Rs. 60","change":"0%","mandi":"Okara","updated":"20 minutes ago","icon":"🥔","changeColor":"text-green-600"}
]}`

func TestMarketRates_SixConsistentRecords(t *testing.T) {
	client := llm.NewScriptedClient().OnJSON(MarketRates, llm.Reply{JSON: sixCrops})
	g := newGateway(t, client)

	out, err := g.MarketRates(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Crops, MarketCropCount)
	for _, c := range out.Crops {
		p40, ok := ParseRupees(c.Price40kg)
		require.True(t, ok, c.Price40kg)
		p1, ok := ParseRupees(c.Price1kg)
		require.True(t, ok, c.Price1kg)
		assert.LessOrEqual(t, math.Abs(p1-p40/40), PriceTolerance+1e-9, c.Name)
	}
	assert.Equal(t, "Rs. 105.00", out.Crops[0].Price1kg)
	assert.Equal(t, ChangeUp, out.Crops[0].ChangeColor, "color follows the sign of change")
	assert.Equal(t, "Rs. 213.88", out.Crops[2].Price1kg)
}

func TestMarketRates_RejectsWrongCount(t *testing.T) {
	five := strings.Replace(sixCrops, `,
 {"name":"Potato","urduName":"آلو","demand":"Medium","price40kg":"PKR 2,400","price1kg":"Rs. 60","change":"0%","mandi":"Okara","updated":"20 minutes ago","icon":"🥔","changeColor":"text-green-600"}`, "", 1)
	client := llm.NewScriptedClient().OnJSON(MarketRates, llm.Reply{JSON: five})
	_, err := newGateway(t, client).MarketRates(context.Background())
	assert.True(t, apperr.Is(err, apperr.SchemaValidation))
}

func TestMarketRates_RejectsUnparseablePrice(t *testing.T) {
	bad := strings.Replace(sixCrops, `"price40kg":"3100"`, `"price40kg":"three thousand"`, 1)
	client := llm.NewScriptedClient().OnJSON(MarketRates, llm.Reply{JSON: bad})
	_, err := newGateway(t, client).MarketRates(context.Background())
	assert.True(t, apperr.Is(err, apperr.SchemaValidation))
}

func TestDashboardAlerts_OneOfEachTypeInOrder(t *testing.T) {
	client := llm.NewScriptedClient().OnJSON(DashboardAlerts, llm.Reply{JSON: `{"alerts":[
		{"type":"Market Update","message":"Cotton up 3%","color":"bg-green-100 text-green-800"},
		{"type":"Weather Alert","message":"Rain tomorrow","color":"bg-red-100 text-red-800"},
		{"type":"Disease Alert","message":"Rust risk","color":"bg-red-100 text-red-800"}]}`})
	g := newGateway(t, client)

	out, err := g.DashboardAlerts(context.Background(), AlertsInput{Location: "Multan", Crops: []string{"Cotton", "Wheat"}})
	require.NoError(t, err)
	require.Len(t, out.Alerts, 3)
	for i, want := range alertOrder {
		assert.Equal(t, want.Type, out.Alerts[i].Type)
		assert.Equal(t, want.Color, out.Alerts[i].Color)
	}
	assert.Contains(t, client.Requests()[0].Parts[0].Text, "Crops: Cotton, Wheat")
}

func TestDashboardAlerts_RejectsDuplicateTypes(t *testing.T) {
	client := llm.NewScriptedClient().OnJSON(DashboardAlerts, llm.Reply{JSON: `{"alerts":[
		{"type":"Weather Alert","message":"a","color":"bg-yellow-100 text-yellow-800"},
		{"type":"Weather Alert","message":"b","color":"bg-yellow-100 text-yellow-800"},
		{"type":"Disease Alert","message":"c","color":"bg-red-100 text-red-800"}]}`})
	_, err := newGateway(t, client).DashboardAlerts(context.Background(), AlertsInput{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.SchemaValidation))
}

func TestTranslateUI_IdentityForSourceLanguage(t *testing.T) {
	client := llm.NewScriptedClient()
	g := newGateway(t, client)

	in := []string{"Home", "Market", "Profile"}
	out, err := g.TranslateUI(context.Background(), TranslateInput{Texts: in, TargetLanguage: "en"})
	require.NoError(t, err)
	assert.Equal(t, in, out.Translations)
	assert.Equal(t, 0, client.TotalCalls())
}

func TestTranslateUI_PreservesOrderAndCaches(t *testing.T) {
	client := llm.NewScriptedClient().OnJSON(TranslateUI,
		llm.Reply{JSON: `{"translations":["گھر","منڈی","پروفائل"]}`},
		llm.Reply{JSON: `{"translations":["موسم"]}`},
	)
	g := newGateway(t, client)
	ctx := context.Background()

	out, err := g.TranslateUI(ctx, TranslateInput{Texts: []string{"Home", "Market", "Profile"}, TargetLanguage: "ur"})
	require.NoError(t, err)
	assert.Equal(t, []string{"گھر", "منڈی", "پروفائل"}, out.Translations)

	out, err = g.TranslateUI(ctx, TranslateInput{Texts: []string{"Profile", "Weather", "Home", "Weather"}, TargetLanguage: "ur"})
	require.NoError(t, err)
	assert.Equal(t, []string{"پروفائل", "موسم", "گھر", "موسم"}, out.Translations)

	require.Equal(t, 2, client.Calls(TranslateUI))
	second := client.Requests()[1].Parts[0].Text
	assert.Contains(t, second, "1. Weather")
	assert.NotContains(t, second, "2.")
}

func TestTranslateUI_LengthMismatchIsSchemaError(t *testing.T) {
	client := llm.NewScriptedClient().OnJSON(TranslateUI, llm.Reply{JSON: `{"translations":["a"]}`})
	_, err := newGateway(t, client).TranslateUI(context.Background(), TranslateInput{Texts: []string{"x", "y"}, TargetLanguage: "pa"})
	assert.True(t, apperr.Is(err, apperr.SchemaValidation))
}

func TestTranslateUI_UnsupportedLanguageIsCallerError(t *testing.T) {
	client := llm.NewScriptedClient()
	_, err := newGateway(t, client).TranslateUI(context.Background(), TranslateInput{Texts: []string{"x"}, TargetLanguage: "fr"})
	assert.True(t, apperr.Is(err, apperr.CallerContract))
	assert.Equal(t, 0, client.TotalCalls())
}

func TestInteract_RequiresExactlyOneInput(t *testing.T) {
	client := llm.NewScriptedClient()
	g := newGateway(t, client)

	_, err := g.Interact(context.Background(), InteractionInput{Location: "Multan"})
	assert.True(t, apperr.Is(err, apperr.CallerContract))

	_, err = g.Interact(context.Background(), InteractionInput{
		TextCommand:  "hello",
		VoiceCommand: media.DataURI("audio/webm", []byte("v")),
	})
	assert.True(t, apperr.Is(err, apperr.CallerContract))
	assert.Equal(t, 0, client.TotalCalls())
}

func TestInteract_VoiceIsSentInline(t *testing.T) {
	client := llm.NewScriptedClient().OnJSON(Interaction,
		llm.Reply{JSON: `{"response":"Salaam","detectedLanguage":"Urdu"}`})
	g := newGateway(t, client)

	out, err := g.Interact(context.Background(), InteractionInput{VoiceCommand: media.DataURI("audio/webm", []byte("voice-bytes"))})
	require.NoError(t, err)
	assert.Equal(t, "Urdu", out.DetectedLanguage)

	req := client.Requests()[0]
	var inline []llm.Part
	for _, p := range req.Parts {
		if p.IsInline() {
			inline = append(inline, p)
		}
	}
	require.Len(t, inline, 1)
	assert.Equal(t, "audio/webm", inline[0].MIMEType)
	assert.Equal(t, []byte("voice-bytes"), inline[0].Data)
	assert.Contains(t, req.System, "Moiz")
	assert.NotEmpty(t, req.ResponseSchema)
}

func TestInteract_BadDataURIIsCallerError(t *testing.T) {
	client := llm.NewScriptedClient()
	_, err := newGateway(t, client).Interact(context.Background(), InteractionInput{VoiceCommand: "not-a-uri"})
	assert.True(t, apperr.Is(err, apperr.CallerContract))
	assert.Equal(t, 0, client.TotalCalls())
}

func TestInteract_MissingFieldIsSchemaError(t *testing.T) {
	client := llm.NewScriptedClient().OnJSON(Interaction, llm.Reply{JSON: `{"response":"hi"}`})
	_, err := newGateway(t, client).Interact(context.Background(), InteractionInput{TextCommand: "hi"})
	assert.True(t, apperr.Is(err, apperr.SchemaValidation))
}

func TestInteract_ClientErrorIsModelInvocation(t *testing.T) {
	quota := errors.New("quota exceeded")
	client := llm.NewScriptedClient().OnJSON(Interaction, llm.Reply{Err: quota})
	_, err := newGateway(t, client).Interact(context.Background(), InteractionInput{TextCommand: "hi"})
	assert.True(t, apperr.Is(err, apperr.ModelInvocation))
	assert.ErrorIs(t, err, quota)
	assert.Equal(t, 1, client.Calls(Interaction), "no internal retry")
}

func TestIconForCrop_ValidatesAndCaches(t *testing.T) {
	client := llm.NewScriptedClient().OnJSON(IconForCrop,
		llm.Reply{JSON: `{"icon":" 🍅 "}`},
		llm.Reply{JSON: `{"icon":"Tomato"}`},
	)
	g := newGateway(t, client)
	ctx := context.Background()

	out, err := g.IconForCrop(ctx, IconInput{CropName: "Tomato"})
	require.NoError(t, err)
	assert.Equal(t, "🍅", out.Icon)

	out, err = g.IconForCrop(ctx, IconInput{CropName: " tomato"})
	require.NoError(t, err)
	assert.Equal(t, "🍅", out.Icon)
	assert.Equal(t, 1, client.Calls(IconForCrop))

	_, err = g.IconForCrop(ctx, IconInput{CropName: "Okra"})
	assert.True(t, apperr.Is(err, apperr.SchemaValidation))
}

func TestIconOutput_Check(t *testing.T) {
	for icon, ok := range map[string]bool{
		"🌾":      true,
		"☁️":     true,
		"🧑‍🌾":    true,
		"":       false,
		"A":      false,
		"🌾 🍅":    false,
		"🌾🌾🌾🌾🌾": false,
	} {
		err := IconOutput{Icon: icon}.Check()
		assert.Equal(t, ok, err == nil, "%q", icon)
	}
}

func TestSynthesize_WrapsPCMAsWAV(t *testing.T) {
	pcm := make([]byte, 480)
	client := llm.NewScriptedClient().OnSpeech(llm.Reply{Audio: llm.Audio{Data: pcm, MIMEType: "audio/L16;codec=pcm;rate=24000"}})
	g := newGateway(t, client, func(o *Options) { o.Voice = "Algenib" })

	out, err := g.TextToSpeech(context.Background(), SpeechInput{Text: "Water at dawn."})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out.Audio, "data:audio/wav;base64,"))

	wavBytes, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(out.Audio, "data:audio/wav;base64,"))
	require.NoError(t, err)
	f, n, err := audio.DecodeHeader(wavBytes)
	require.NoError(t, err)
	assert.Equal(t, audio.SpeechFormat, f)
	assert.Equal(t, len(pcm), n)

	spoken := client.SpeechRequests()
	require.Len(t, spoken, 1)
	assert.Equal(t, "Water at dawn.", spoken[0].Text)
	assert.Equal(t, "Algenib", spoken[0].Voice)
}

func TestSynthesize_EmptyAudioIsDegradation(t *testing.T) {
	client := llm.NewScriptedClient().OnSpeech(llm.Reply{})
	_, err := newGateway(t, client).Synthesize(context.Background(), SpeechInput{Text: "hi"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.SynthesisDegradation))
	assert.ErrorIs(t, err, ErrNoAudio)
}

func TestSynthesize_CallFailureIsModelInvocation(t *testing.T) {
	client := llm.NewScriptedClient().OnSpeech(llm.Reply{Err: errors.New("rejected")})
	_, err := newGateway(t, client).Synthesize(context.Background(), SpeechInput{Text: "hi"})
	assert.True(t, apperr.Is(err, apperr.ModelInvocation))
	assert.False(t, errors.Is(err, ErrNoAudio))
}

func TestSynthesize_RenderFailureIsRecorded(t *testing.T) {
	var doc strings.Builder
	doc.WriteString("templates:\n")
	for _, info := range Catalog {
		body := "x"
		if info.Template == TextToSpeech {
			body = "{{.Voice}}"
		}
		fmt.Fprintf(&doc, "  - id: %s\n    body: %q\n", info.Template, body)
	}
	engine, err := prompt.Parse([]byte(doc.String()))
	require.NoError(t, err)
	store, err := media.NewMemoryStore(4)
	require.NoError(t, err)
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	client := llm.NewScriptedClient()
	g, err := NewGateway(client, engine, store, Options{Logger: zerolog.Nop(), Meter: mp.Meter("test")})
	require.NoError(t, err)

	_, err = g.Synthesize(context.Background(), SpeechInput{Text: "hi"})
	assert.True(t, apperr.Is(err, apperr.ModelInvocation))
	assert.Equal(t, 0, client.TotalCalls())
	assert.Equal(t, int64(1), outcomeCounts(t, reader)["model_invocation"])
}

func TestTranscribe(t *testing.T) {
	client := llm.NewScriptedClient().OnJSON(Transcribe, llm.Reply{JSON: `{"transcript":"  mera gandum  "}`})
	got, err := newGateway(t, client).Transcribe(context.Background(), media.DataURI("audio/webm", []byte("v")))
	require.NoError(t, err)
	assert.Equal(t, "mera gandum", got)
}

func TestInvokeStructured_CanceledContext(t *testing.T) {
	client := llm.NewScriptedClient().OnJSON(CropAdvisory, llm.Reply{JSON: `{"recommendations":"x"}`})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newGateway(t, client).CropAdvisory(ctx, CropAdvisoryInput{Symptoms: "yellow leaves"})
	assert.True(t, apperr.Is(err, apperr.ModelInvocation))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, client.TotalCalls())
}

func TestGateway_CountsOutcomes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	client := llm.NewScriptedClient().OnJSON(CropAdvisory, llm.Reply{JSON: `{"recommendations":"Irrigate"}`})
	g := newGateway(t, client, func(o *Options) { o.Meter = mp.Meter("test") })
	ctx := context.Background()

	_, err := g.CropAdvisory(ctx, CropAdvisoryInput{Symptoms: "wilting"})
	require.NoError(t, err)
	_, err = g.CropAdvisory(ctx, CropAdvisoryInput{})
	require.Error(t, err)

	counts := outcomeCounts(t, reader)
	assert.Equal(t, int64(1), counts["ok"])
	assert.Equal(t, int64(1), counts["caller_contract"])
}

func outcomeCounts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "advisor.flow.invocations" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				outcome, _ := dp.Attributes.Value("outcome")
				counts[outcome.AsString()] += dp.Value
			}
		}
	}
	return counts
}
