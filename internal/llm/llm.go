package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrEmptyResponse is returned when the model answers with no usable content.
var ErrEmptyResponse = errors.New("llm: empty response from model")

// Part is one piece of a request: text, or inline bytes with a MIME type.
type Part struct {
	Text     string
	Data     []byte
	MIMEType string
}

func TextPart(s string) Part { return Part{Text: s} }

func InlinePart(mime string, data []byte) Part { return Part{Data: data, MIMEType: mime} }

func (p Part) IsInline() bool { return p.Data != nil }

// Request is a structured-output call.
type Request struct {
	// Flow names the calling flow; used for logging, tracing and fakes.
	Flow   string
	System string
	Parts  []Part
	// ResponseSchema is the JSON Schema the output must satisfy. Clients may
	// pass it to the model as a hint; validation happens in the caller.
	ResponseSchema json.RawMessage
}

// Size approximates the request size in bytes.
func (r Request) Size() int {
	n := len(r.System)
	for _, p := range r.Parts {
		n += len(p.Text) + len(p.Data)
	}
	return n
}

// SpeechRequest asks for synthesized speech.
type SpeechRequest struct {
	Flow  string
	Text  string
	Voice string
}

// Audio is raw synthesized audio. Data is empty when the model returned no
// audio payload.
type Audio struct {
	Data     []byte
	MIMEType string
}

// Client is a generative model backend.
type Client interface {
	Name() string
	GenerateJSON(ctx context.Context, req Request) (json.RawMessage, error)
	GenerateSpeech(ctx context.Context, req SpeechRequest) (Audio, error)
	Close() error
}
