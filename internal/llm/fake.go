package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

// FakeClient returns deterministic, schema-conforming JSON per flow so the
// service runs offline.
type FakeClient struct{}

func NewFakeClient() *FakeClient { return &FakeClient{} }

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

var numberedLine = regexp.MustCompile(`^(\d+)\. (.*)$`)

func (f *FakeClient) GenerateJSON(ctx context.Context, req Request) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var obj any
	switch req.Flow {
	case "crop-advisory":
		obj = map[string]any{
			"recommendations": "Irrigate early in the morning, apply a balanced NPK fertilizer and remove infected leaves.",
		}
	case "dashboard-alerts":
		obj = map[string]any{"alerts": []any{
			map[string]any{"type": "Weather Alert", "message": "Light rain expected tomorrow; delay spraying.", "color": "bg-yellow-100 text-yellow-800"},
			map[string]any{"type": "Disease Alert", "message": "Humidity favours wheat rust; inspect lower leaves.", "color": "bg-red-100 text-red-800"},
			map[string]any{"type": "Market Update", "message": "Cotton up 3% at Multan mandi this week.", "color": "bg-green-100 text-green-800"},
		}}
	case "market-rates":
		obj = map[string]any{"crops": fakeCrops}
	case "multilingual-interaction":
		obj = map[string]any{
			"response":         "Yellow leaves often mean nitrogen deficiency. Apply urea and water regularly.",
			"detectedLanguage": "English",
		}
	case "translate-ui":
		obj = map[string]any{"translations": fakeTranslations(req)}
	case "profile-assistance":
		obj = map[string]any{
			"agentResponse": "What is your name?",
			"newContext":    "asked: name",
			"completed":     false,
		}
	case "icon-for-crop":
		obj = map[string]any{"icon": "🌱"}
	case "voice-to-diagnosis":
		obj = map[string]any{"diagnosis": "Likely early blight. Remove affected leaves and spray a copper fungicide."}
	case "transcribe":
		obj = map[string]any{"transcript": ""}
	default:
		obj = map[string]any{}
	}
	b, _ := json.Marshal(obj)
	return json.RawMessage(b), nil
}

// GenerateSpeech returns a quarter second of silence as 16-bit mono PCM.
func (f *FakeClient) GenerateSpeech(ctx context.Context, req SpeechRequest) (Audio, error) {
	if err := ctx.Err(); err != nil {
		return Audio{}, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return Audio{}, nil
	}
	return Audio{Data: make([]byte, 24000/4*2), MIMEType: "audio/L16;codec=pcm;rate=24000"}, nil
}

// fakeTranslations tags every numbered input line so callers see one
// translation per text, in order.
func fakeTranslations(req Request) []string {
	var out []string
	for _, p := range req.Parts {
		sc := bufio.NewScanner(strings.NewReader(p.Text))
		for sc.Scan() {
			if m := numberedLine.FindStringSubmatch(strings.TrimSpace(sc.Text())); m != nil {
				out = append(out, "~"+m[2])
			}
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

var fakeCrops = []map[string]any{
	{"name": "Wheat", "urduName": "گندم", "demand": "High", "price40kg": "Rs. 4,200", "price1kg": "Rs. 105.00", "change": "+2.1%", "mandi": "Lahore", "updated": "30 minutes ago", "icon": "🌾", "changeColor": "text-green-600"},
	{"name": "Rice", "urduName": "چاول", "demand": "High", "price40kg": "Rs. 7,600", "price1kg": "Rs. 190.00", "change": "+1.4%", "mandi": "Gujranwala", "updated": "1 hour ago", "icon": "🍚", "changeColor": "text-green-600"},
	{"name": "Cotton", "urduName": "کپاس", "demand": "Medium", "price40kg": "Rs. 8,500", "price1kg": "Rs. 212.50", "change": "-0.8%", "mandi": "Multan", "updated": "2 hours ago", "icon": "☁️", "changeColor": "text-red-600"},
	{"name": "Tomato", "urduName": "ٹماٹر", "demand": "Medium", "price40kg": "Rs. 3,100", "price1kg": "Rs. 77.50", "change": "-3.2%", "mandi": "Karachi", "updated": "45 minutes ago", "icon": "🍅", "changeColor": "text-red-600"},
	{"name": "Onion", "urduName": "پیاز", "demand": "Low", "price40kg": "Rs. 2,800", "price1kg": "Rs. 70.00", "change": "+0.5%", "mandi": "Hyderabad", "updated": "3 hours ago", "icon": "🧅", "changeColor": "text-green-600"},
	{"name": "Potato", "urduName": "آلو", "demand": "Medium", "price40kg": "Rs. 2,400", "price1kg": "Rs. 60.00", "change": "+1.0%", "mandi": "Okara", "updated": "20 minutes ago", "icon": "🥔", "changeColor": "text-green-600"},
}
