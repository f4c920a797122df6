package flow

import (
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"kisanbazaar/internal/media"
	"kisanbazaar/internal/schema"
)

// ---- crop-advisory

type CropAdvisoryInput struct {
	Symptoms string `json:"symptoms"`
}

func (in CropAdvisoryInput) Check() error {
	if strings.TrimSpace(in.Symptoms) == "" {
		return schema.Invalid("symptoms", "is required")
	}
	return nil
}

type CropAdvisoryOutput struct {
	Recommendations string `json:"recommendations" jsonschema:"minLength=1" jsonschema_description:"Recommendations for crop health, irrigation, fertilizer and disease treatment."`
}

func (o CropAdvisoryOutput) Check() error {
	if strings.TrimSpace(o.Recommendations) == "" {
		return schema.Invalid("recommendations", "is empty")
	}
	return nil
}

// ---- dashboard-alerts

const (
	AlertWeather = "Weather Alert"
	AlertDisease = "Disease Alert"
	AlertMarket  = "Market Update"
)

// alertOrder is the display order and the style tag of each alert type.
var alertOrder = []struct {
	Type  string
	Color string
}{
	{AlertWeather, "bg-yellow-100 text-yellow-800"},
	{AlertDisease, "bg-red-100 text-red-800"},
	{AlertMarket, "bg-green-100 text-green-800"},
}

// AlertColor returns the style tag for an alert type.
func AlertColor(alertType string) (string, bool) {
	for _, a := range alertOrder {
		if a.Type == alertType {
			return a.Color, true
		}
	}
	return "", false
}

type AlertsInput struct {
	Location string   `json:"location,omitempty"`
	Crops    []string `json:"crops,omitempty"`
}

type Alert struct {
	Type    string `json:"type" jsonschema:"enum=Weather Alert,enum=Disease Alert,enum=Market Update"`
	Message string `json:"message" jsonschema:"minLength=1"`
	Color   string `json:"color" jsonschema:"enum=bg-yellow-100 text-yellow-800,enum=bg-red-100 text-red-800,enum=bg-green-100 text-green-800"`
}

type AlertsOutput struct {
	Alerts []Alert `json:"alerts" jsonschema:"minItems=3,maxItems=3"`
}

// normalizeAlerts orders alerts Weather, Disease, Market and pins each style
// tag to its type.
func normalizeAlerts(o *AlertsOutput) {
	ordered := make([]Alert, 0, len(o.Alerts))
	for _, want := range alertOrder {
		for _, a := range o.Alerts {
			if a.Type == want.Type {
				a.Color = want.Color
				a.Message = strings.TrimSpace(a.Message)
				ordered = append(ordered, a)
				break
			}
		}
	}
	if len(ordered) == len(o.Alerts) {
		o.Alerts = ordered
	}
}

func (o AlertsOutput) Check() error {
	if len(o.Alerts) != len(alertOrder) {
		return schema.Invalid("alerts", "want %d alerts, got %d", len(alertOrder), len(o.Alerts))
	}
	seen := map[string]bool{}
	for i, a := range o.Alerts {
		color, ok := AlertColor(a.Type)
		if !ok {
			return schema.Invalid("alerts."+strconv.Itoa(i)+".type", "unknown alert type %q", a.Type)
		}
		if seen[a.Type] {
			return schema.Invalid("alerts."+strconv.Itoa(i)+".type", "duplicate alert type %q", a.Type)
		}
		seen[a.Type] = true
		if a.Color != color {
			return schema.Invalid("alerts."+strconv.Itoa(i)+".color", "%q does not match type %q", a.Color, a.Type)
		}
		if strings.TrimSpace(a.Message) == "" {
			return schema.Invalid("alerts."+strconv.Itoa(i)+".message", "is empty")
		}
	}
	return nil
}

// ---- market-rates

const (
	MarketCropCount = 6
	ChangeUp        = "text-green-600"
	ChangeDown      = "text-red-600"
	// PriceTolerance is the allowed gap between price1kg and price40kg/40.
	PriceTolerance = 0.005
	// float slack so half-cent rounding is not rejected
	priceEpsilon = 1e-9
)

type MarketRatesInput struct{}

type MarketCrop struct {
	Name        string `json:"name" jsonschema:"minLength=1"`
	UrduName    string `json:"urduName" jsonschema:"minLength=1"`
	Demand      string `json:"demand" jsonschema:"enum=High,enum=Medium,enum=Low"`
	Price40kg   string `json:"price40kg" jsonschema_description:"Price per 40kg in Pakistani Rupees, e.g. Rs. 4,200"`
	Price1kg    string `json:"price1kg" jsonschema_description:"price40kg divided by 40, 2 decimals"`
	Change      string `json:"change" jsonschema_description:"Signed percentage, e.g. +5.2%"`
	Mandi       string `json:"mandi"`
	Updated     string `json:"updated"`
	Icon        string `json:"icon"`
	ChangeColor string `json:"changeColor" jsonschema:"enum=text-green-600,enum=text-red-600"`
}

type MarketRatesOutput struct {
	Crops []MarketCrop `json:"crops" jsonschema:"minItems=6,maxItems=6"`
}

// ParseRupees reads amounts such as "Rs. 4,200", "PKR 4200" or "4,200.50".
func ParseRupees(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"Rs.", "Rs", "PKR", "₨"} {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			s = rest
			break
		}
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// PerKg derives the 1kg price from a 40kg price, rounded to 2 decimals.
func PerKg(price40 float64) float64 {
	return math.Round(price40/40*100) / 100
}

func formatRupees(v float64) string {
	return "Rs. " + strconv.FormatFloat(v, 'f', 2, 64)
}

// parseChange reads "+5.2%" style values.
func parseChange(s string) (float64, bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v, err == nil
}

func changeColor(change float64) string {
	if change < 0 {
		return ChangeDown
	}
	return ChangeUp
}

// normalizeMarket recomputes the derived fields from the 40kg price and the
// change percentage.
func normalizeMarket(o *MarketRatesOutput) {
	for i := range o.Crops {
		c := &o.Crops[i]
		if p40, ok := ParseRupees(c.Price40kg); ok {
			c.Price1kg = formatRupees(PerKg(p40))
		}
		if ch, ok := parseChange(c.Change); ok {
			c.ChangeColor = changeColor(ch)
		}
	}
}

func (o MarketRatesOutput) Check() error {
	if len(o.Crops) != MarketCropCount {
		return schema.Invalid("crops", "want %d crops, got %d", MarketCropCount, len(o.Crops))
	}
	for i, c := range o.Crops {
		field := "crops." + strconv.Itoa(i)
		p40, ok := ParseRupees(c.Price40kg)
		if !ok || p40 <= 0 {
			return schema.Invalid(field+".price40kg", "unparseable price %q", c.Price40kg)
		}
		p1, ok := ParseRupees(c.Price1kg)
		if !ok {
			return schema.Invalid(field+".price1kg", "unparseable price %q", c.Price1kg)
		}
		if math.Abs(p1-p40/40) > PriceTolerance+priceEpsilon {
			return schema.Invalid(field+".price1kg", "%.2f is not %.2f / 40", p1, p40)
		}
		ch, ok := parseChange(c.Change)
		if !ok {
			return schema.Invalid(field+".change", "unparseable percentage %q", c.Change)
		}
		if c.ChangeColor != changeColor(ch) {
			return schema.Invalid(field+".changeColor", "%q does not match change %q", c.ChangeColor, c.Change)
		}
	}
	return nil
}

// ---- multilingual-interaction

type InteractionInput struct {
	VoiceCommand     string `json:"voiceCommand,omitempty"`
	TextCommand      string `json:"textCommand,omitempty"`
	Image            string `json:"image,omitempty"`
	UserProfile      string `json:"userProfile,omitempty"`
	Location         string `json:"location,omitempty"`
	PastInteractions string `json:"pastInteractions,omitempty"`

	VoiceRef media.Ref `json:"-"`
	ImageRef media.Ref `json:"-"`
}

// Check enforces that exactly one of voice and text is present.
func (in InteractionInput) Check() error {
	hasVoice := strings.TrimSpace(in.VoiceCommand) != ""
	hasText := strings.TrimSpace(in.TextCommand) != ""
	switch {
	case hasVoice && hasText:
		return schema.Invalid("voiceCommand", "only one of voiceCommand and textCommand may be set")
	case !hasVoice && !hasText:
		return schema.Invalid("textCommand", "one of voiceCommand and textCommand is required")
	}
	return nil
}

type InteractionOutput struct {
	Response         string `json:"response" jsonschema:"minLength=1" jsonschema_description:"The reply, in the detected language."`
	DetectedLanguage string `json:"detectedLanguage" jsonschema:"minLength=1" jsonschema_description:"Language the user spoke or wrote in."`
}

func (o InteractionOutput) Check() error {
	if strings.TrimSpace(o.Response) == "" {
		return schema.Invalid("response", "is empty")
	}
	if strings.TrimSpace(o.DetectedLanguage) == "" {
		return schema.Invalid("detectedLanguage", "is empty")
	}
	return nil
}

// ---- translate-ui

// Languages maps supported language codes to their English names.
var Languages = map[string]string{
	"en": "English",
	"ur": "Urdu",
	"pa": "Punjabi",
	"sd": "Sindhi",
	"ps": "Pashto",
}

type TranslateInput struct {
	Texts          []string `json:"texts"`
	TargetLanguage string   `json:"targetLanguage"`
}

func (in TranslateInput) Check() error {
	if _, ok := Languages[in.TargetLanguage]; !ok {
		return schema.Invalid("targetLanguage", "unsupported language %q", in.TargetLanguage)
	}
	return nil
}

// LanguageName is used by the prompt template.
func (in TranslateInput) LanguageName() string {
	return Languages[in.TargetLanguage]
}

type TranslateOutput struct {
	Translations []string `json:"translations"`
}

// ---- profile-assistance

type ProfileInput struct {
	UserInput string `json:"userInput"`
	Context   string `json:"context,omitempty"`
}

func (in ProfileInput) Check() error {
	if strings.TrimSpace(in.UserInput) == "" {
		return schema.Invalid("userInput", "is required")
	}
	return nil
}

type ProfileOutput struct {
	AgentResponse string `json:"agentResponse" jsonschema:"minLength=1"`
	NewContext    string `json:"newContext,omitempty"`
	Completed     bool   `json:"completed"`
}

// ---- icon-for-crop

const maxIconBytes = 16

type IconInput struct {
	CropName string `json:"cropName"`
}

func (in IconInput) Check() error {
	if strings.TrimSpace(in.CropName) == "" {
		return schema.Invalid("cropName", "is required")
	}
	return nil
}

type IconOutput struct {
	Icon string `json:"icon" jsonschema:"minLength=1" jsonschema_description:"A single emoji."`
}

func normalizeIcon(o *IconOutput) { o.Icon = strings.TrimSpace(o.Icon) }

// Check accepts one symbol: an emoji possibly followed by variation
// selectors or joiners, but no letters, digits or spaces.
func (o IconOutput) Check() error {
	if o.Icon == "" {
		return schema.Invalid("icon", "is empty")
	}
	if len(o.Icon) > maxIconBytes || !utf8.ValidString(o.Icon) {
		return schema.Invalid("icon", "%q is not a single symbol", o.Icon)
	}
	for _, r := range o.Icon {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return schema.Invalid("icon", "%q is not a single symbol", o.Icon)
		}
	}
	return nil
}

// ---- text-to-speech

type SpeechInput struct {
	Text string `json:"text"`
}

func (in SpeechInput) Check() error {
	if strings.TrimSpace(in.Text) == "" {
		return schema.Invalid("text", "is required")
	}
	return nil
}

type SpeechOutput struct {
	Audio string `json:"audio"`
}

// ---- voice-to-diagnosis

type DiagnosisInput struct {
	VoiceCommand string    `json:"voiceCommand"`
	VoiceRef     media.Ref `json:"-"`
}

func (in DiagnosisInput) Check() error {
	if strings.TrimSpace(in.VoiceCommand) == "" {
		return schema.Invalid("voiceCommand", "is required")
	}
	return nil
}

type DiagnosisOutput struct {
	Diagnosis string `json:"diagnosis" jsonschema:"minLength=1" jsonschema_description:"The diagnosis of the plant symptoms."`
}

// ---- transcribe

type TranscribeInput struct {
	VoiceCommand string    `json:"voiceCommand"`
	VoiceRef     media.Ref `json:"-"`
}

func (in TranscribeInput) Check() error {
	if strings.TrimSpace(in.VoiceCommand) == "" {
		return schema.Invalid("voiceCommand", "is required")
	}
	return nil
}

type TranscribeOutput struct {
	Transcript string `json:"transcript"`
}
