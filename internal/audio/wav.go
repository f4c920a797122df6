// Package audio wraps raw PCM from the speech model in a WAV container and
// encodes it for transport as a data URI.
package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	MimeWAV    = "audio/wav"
	headerSize = 44
	pcmFormat  = 1
)

var (
	// ErrEmptyPCM means there is nothing to encode; callers degrade to text.
	ErrEmptyPCM = errors.New("audio: empty pcm payload")
	ErrNotWAV   = errors.New("audio: not a pcm wav container")
)

// Format describes interleaved little-endian PCM.
type Format struct {
	Channels      int
	SampleRate    int
	BitsPerSample int
}

// SpeechFormat is what the speech model produces.
var SpeechFormat = Format{Channels: 1, SampleRate: 24000, BitsPerSample: 16}

func (f Format) blockAlign() int { return f.Channels * f.BitsPerSample / 8 }

func (f Format) byteRate() int { return f.SampleRate * f.blockAlign() }

func (f Format) validate() error {
	if f.Channels <= 0 || f.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid format %+v", f)
	}
	if f.BitsPerSample <= 0 || f.BitsPerSample%8 != 0 {
		return fmt.Errorf("audio: bits per sample must be a positive multiple of 8, got %d", f.BitsPerSample)
	}
	return nil
}

// EncodeWAV writes a canonical 44-byte RIFF/WAVE header for f followed by pcm
// unmodified.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyPCM
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(headerSize + len(pcm))
	le := binary.LittleEndian

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, le, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, le, uint32(16))
	_ = binary.Write(&buf, le, uint16(pcmFormat))
	_ = binary.Write(&buf, le, uint16(f.Channels))
	_ = binary.Write(&buf, le, uint32(f.SampleRate))
	_ = binary.Write(&buf, le, uint32(f.byteRate()))
	_ = binary.Write(&buf, le, uint16(f.blockAlign()))
	_ = binary.Write(&buf, le, uint16(f.BitsPerSample))

	buf.WriteString("data")
	_ = binary.Write(&buf, le, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// DecodeHeader reads the format and PCM length back out of a WAV produced by
// EncodeWAV. Unknown chunks between fmt and data are skipped.
func DecodeHeader(wav []byte) (Format, int, error) {
	le := binary.LittleEndian
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return Format{}, 0, ErrNotWAV
	}
	var (
		f      Format
		sawFmt bool
	)
	pos := 12
	for pos+8 <= len(wav) {
		id := string(wav[pos : pos+4])
		size := int(le.Uint32(wav[pos+4 : pos+8]))
		body := pos + 8
		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return Format{}, 0, ErrNotWAV
			}
			if le.Uint16(wav[body:]) != pcmFormat {
				return Format{}, 0, fmt.Errorf("%w: format tag %d", ErrNotWAV, le.Uint16(wav[body:]))
			}
			f.Channels = int(le.Uint16(wav[body+2:]))
			f.SampleRate = int(le.Uint32(wav[body+4:]))
			f.BitsPerSample = int(le.Uint16(wav[body+14:]))
			sawFmt = true
		case "data":
			if !sawFmt {
				return Format{}, 0, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			if body+size > len(wav) {
				return Format{}, 0, fmt.Errorf("%w: truncated data chunk", ErrNotWAV)
			}
			return f, size, nil
		}
		// chunks are word aligned
		pos = body + size + size%2
	}
	return Format{}, 0, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}

// DataURI encodes a WAV file as data:audio/wav;base64,<payload>.
func DataURI(wav []byte) string {
	return "data:" + MimeWAV + ";base64," + base64.StdEncoding.EncodeToString(wav)
}

// Artifact is a playable WAV ready to hand to a client. It is never persisted.
type Artifact struct {
	MimeType      string `json:"mimeType"`
	Base64Payload string `json:"base64Payload"`
}

// URI renders the artifact as a data URI.
func (a Artifact) URI() string {
	return "data:" + a.MimeType + ";base64," + a.Base64Payload
}

// FromPCM encodes pcm in f and returns the artifact. Empty pcm yields
// ErrEmptyPCM.
func FromPCM(pcm []byte, f Format) (*Artifact, error) {
	wav, err := EncodeWAV(pcm, f)
	if err != nil {
		return nil, err
	}
	return &Artifact{MimeType: MimeWAV, Base64Payload: base64.StdEncoding.EncodeToString(wav)}, nil
}

// FormatFromMIME reads the sample rate from an audio/L16 style MIME type such
// as "audio/L16;codec=pcm;rate=24000", falling back to SpeechFormat.
func FormatFromMIME(mime string) Format {
	f := SpeechFormat
	for _, param := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(k) {
		case "rate":
			var n int
			if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
				f.SampleRate = n
			}
		case "channels":
			var n int
			if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
				f.Channels = n
			}
		}
	}
	return f
}
