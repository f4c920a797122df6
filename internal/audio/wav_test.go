package audio

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmRamp(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestEncodeWAV_RoundTrip(t *testing.T) {
	for _, n := range []int{2, 480, 48000} {
		pcm := pcmRamp(n)
		out, err := EncodeWAV(pcm, SpeechFormat)
		require.NoError(t, err)
		require.Len(t, out, headerSize+n)

		f, size, err := DecodeHeader(out)
		require.NoError(t, err)
		assert.Equal(t, SpeechFormat, f)
		assert.Equal(t, n, size)
		assert.Equal(t, pcm, out[headerSize:], "pcm must be copied unmodified")
	}
}

func TestEncodeWAV_ReadableByIndependentDecoder(t *testing.T) {
	pcm := pcmRamp(4800)
	out, err := EncodeWAV(pcm, SpeechFormat)
	require.NoError(t, err)

	d := wav.NewDecoder(bytes.NewReader(out))
	require.NoError(t, d.FwdToPCM())
	assert.Equal(t, uint16(1), d.NumChans)
	assert.Equal(t, uint32(24000), d.SampleRate)
	assert.Equal(t, uint16(16), d.BitDepth)
	assert.Equal(t, int64(len(pcm)), d.PCMLen())
}

func TestEncodeWAV_OtherFormats(t *testing.T) {
	f := Format{Channels: 2, SampleRate: 44100, BitsPerSample: 8}
	out, err := EncodeWAV(pcmRamp(10), f)
	require.NoError(t, err)
	got, n, err := DecodeHeader(out)
	require.NoError(t, err)
	assert.Equal(t, f, got)
	assert.Equal(t, 10, n)
}

func TestEncodeWAV_Errors(t *testing.T) {
	_, err := EncodeWAV(nil, SpeechFormat)
	assert.ErrorIs(t, err, ErrEmptyPCM)

	_, err = EncodeWAV([]byte{1}, Format{Channels: 1, SampleRate: 24000, BitsPerSample: 12})
	assert.Error(t, err)
}

func TestDecodeHeader_Rejects(t *testing.T) {
	_, _, err := DecodeHeader([]byte("not a wav file at all"))
	assert.ErrorIs(t, err, ErrNotWAV)

	out, err := EncodeWAV(pcmRamp(100), SpeechFormat)
	require.NoError(t, err)
	_, _, err = DecodeHeader(out[:60])
	assert.ErrorIs(t, err, ErrNotWAV)
}

func TestDataURIAndArtifact(t *testing.T) {
	pcm := pcmRamp(64)
	a, err := FromPCM(pcm, SpeechFormat)
	require.NoError(t, err)
	assert.Equal(t, MimeWAV, a.MimeType)

	uri := a.URI()
	require.True(t, strings.HasPrefix(uri, "data:audio/wav;base64,"))
	wavBytes, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "data:audio/wav;base64,"))
	require.NoError(t, err)
	assert.Equal(t, uri, DataURI(wavBytes))

	_, err = FromPCM(nil, SpeechFormat)
	assert.ErrorIs(t, err, ErrEmptyPCM)
}

func TestFormatFromMIME(t *testing.T) {
	assert.Equal(t, SpeechFormat, FormatFromMIME("audio/L16;codec=pcm;rate=24000"))
	assert.Equal(t, 16000, FormatFromMIME("audio/L16;rate=16000").SampleRate)
	assert.Equal(t, SpeechFormat, FormatFromMIME(""))
}
