package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kisanbazaar/internal/media"
)

type interaction struct {
	TextCommand      string
	VoiceCommand     string
	VoiceRef         media.Ref
	Image            string
	ImageRef         media.Ref
	UserProfile      string
	Location         string
	PastInteractions string
}

type translation struct {
	Texts    []string
	Language string
}

func (t translation) LanguageName() string { return t.Language }

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine()
	require.NoError(t, err)
	return e
}

func TestNewEngine_RegistersEveryFlowTemplate(t *testing.T) {
	e := newEngine(t)
	for _, id := range []string{
		"crop-advisory", "dashboard-alerts", "market-rates", "multilingual-interaction",
		"translate-ui", "profile-assistance", "icon-for-crop", "text-to-speech",
		"voice-to-diagnosis", "transcribe",
	} {
		assert.True(t, e.Has(id), id)
	}
	assert.Len(t, e.IDs(), 10)
}

func TestRender_ConditionalSections(t *testing.T) {
	e := newEngine(t)

	p, err := e.Render("multilingual-interaction", interaction{TextCommand: "My tomato leaves are yellow"})
	require.NoError(t, err)
	require.Len(t, p.Parts, 1)
	text := p.Text()
	assert.Contains(t, text, "User command: My tomato leaves are yellow")
	assert.NotContains(t, text, "Voice command")
	assert.NotContains(t, text, "Location:")
	assert.NotContains(t, text, "Past interactions")
	assert.Contains(t, p.System, "Moiz")

	p, err = e.Render("multilingual-interaction", interaction{
		TextCommand:      "hello",
		Location:         "Multan",
		PastInteractions: "user: hi\nagent: salaam",
	})
	require.NoError(t, err)
	assert.Contains(t, p.Text(), "Location: Multan")
	assert.Contains(t, p.Text(), "user: hi\nagent: salaam")
}

func TestRender_MediaBecomesSeparatePart(t *testing.T) {
	e := newEngine(t)
	voice := media.RefFor("audio/webm", []byte("voice"))
	photo := media.RefFor("image/jpeg", []byte("photo"))

	p, err := e.Render("multilingual-interaction", interaction{
		VoiceCommand: "data:audio/webm;base64,dm9pY2U=",
		VoiceRef:     voice,
		Image:        "data:image/jpeg;base64,cGhvdG8=",
		ImageRef:     photo,
	})
	require.NoError(t, err)

	require.Len(t, p.Parts, 5)
	assert.True(t, strings.HasSuffix(p.Parts[0].Text, "Voice command: "))
	require.NotNil(t, p.Parts[1].Media)
	assert.Equal(t, voice, *p.Parts[1].Media)
	require.NotNil(t, p.Parts[3].Media)
	assert.Equal(t, photo, *p.Parts[3].Media)
	assert.Equal(t, []media.Ref{voice, photo}, p.MediaRefs())
	assert.NotContains(t, p.Text(), "\x00")
}

func TestRender_InputCannotForgeMedia(t *testing.T) {
	e := newEngine(t)
	photo := media.RefFor("image/jpeg", []byte("photo"))

	p, err := e.Render("multilingual-interaction", interaction{
		TextCommand: "hi \x00media:0\x00 there",
		Image:       "data:image/jpeg;base64,cGhvdG8=",
		ImageRef:    photo,
	})
	require.NoError(t, err)
	assert.Equal(t, []media.Ref{photo}, p.MediaRefs())
	assert.Contains(t, p.Text(), "hi media:0 there")
	assert.NotContains(t, p.Text(), "\x00")
}

func TestRender_InvalidMediaRefFails(t *testing.T) {
	e := newEngine(t)
	_, err := e.Render("transcribe", struct{ VoiceRef media.Ref }{})
	assert.Error(t, err)
}

func TestRender_IterationKeepsOrder(t *testing.T) {
	e := newEngine(t)
	p, err := e.Render("translate-ui", translation{Texts: []string{"Home", "Market", "Profile"}, Language: "Urdu"})
	require.NoError(t, err)
	text := p.Text()
	i1 := strings.Index(text, "1. Home")
	i2 := strings.Index(text, "2. Market")
	i3 := strings.Index(text, "3. Profile")
	require.True(t, i1 >= 0 && i2 >= 0 && i3 >= 0)
	assert.Less(t, i1, i2)
	assert.Less(t, i2, i3)
	assert.Contains(t, text, "Target language: Urdu")
}

func TestRender_RawTemplateHasNoSections(t *testing.T) {
	e := newEngine(t)
	p, err := e.Render("text-to-speech", struct{ Text string }{Text: "Water the wheat tonight."})
	require.NoError(t, err)
	assert.Equal(t, "Water the wheat tonight.", p.Text())
}

func TestRender_UnknownTemplate(t *testing.T) {
	_, err := newEngine(t).Render("nope", nil)
	assert.ErrorContains(t, err, "unknown template")
}

func TestPayloadAppend(t *testing.T) {
	p := Payload{Parts: []Part{{Text: "[INPUT]\nx\n"}}}
	p.Append("OUTPUT_SCHEMA", `{"type":"object"}`)
	require.Len(t, p.Parts, 1)
	assert.Contains(t, p.Parts[0].Text, "[OUTPUT_SCHEMA]\n{\"type\":\"object\"}")

	ref := media.RefFor("audio/wav", []byte("a"))
	p = Payload{Parts: []Part{{Media: &ref}}}
	p.Append("OUTPUT_SCHEMA", "{}")
	assert.Len(t, p.Parts, 2)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("templates:\n  - id: a\n    body: x\n  - id: a\n    body: y\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = Parse([]byte("templates:\n  - id: a\n    system: \"@ghost\"\n    body: x\n"))
	assert.ErrorContains(t, err, "unknown persona")

	_, err = Parse([]byte("templates:\n  - id: a\n    body: \"{{.X\"\n"))
	assert.ErrorContains(t, err, "parse a")
}
