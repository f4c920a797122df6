// Package media holds voice and image blobs by content address so prompts can
// reference them without inlining bytes into text.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound   = errors.New("media not found")
	ErrInvalidRef = errors.New("invalid media reference")
	ErrDataURI    = errors.New("invalid data uri")
)

const digestPrefix = "sha256:"

// Ref addresses a blob by the SHA-256 of its bytes.
type Ref struct {
	Digest   string `json:"digest"`
	MIMEType string `json:"mimeType"`
}

// RefFor computes the reference of data without storing it.
func RefFor(mime string, data []byte) Ref {
	sum := sha256.Sum256(data)
	return Ref{Digest: digestPrefix + hex.EncodeToString(sum[:]), MIMEType: mime}
}

func (r Ref) IsZero() bool { return r.Digest == "" }

func (r Ref) String() string { return r.Digest }

// Validate checks the digest shape.
func (r Ref) Validate() error {
	hexPart, ok := strings.CutPrefix(r.Digest, digestPrefix)
	if !ok || len(hexPart) != sha256.Size*2 {
		return fmt.Errorf("%w: %q", ErrInvalidRef, r.Digest)
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRef, r.Digest)
	}
	return nil
}

// key is the object name used by backends.
func (r Ref) key() string {
	return strings.TrimPrefix(r.Digest, digestPrefix)
}

// Store persists blobs by content address. Putting identical bytes twice
// returns the same Ref.
type Store interface {
	Put(ctx context.Context, mime string, data []byte) (Ref, error)
	Get(ctx context.Context, ref Ref) ([]byte, error)
}

// ParseDataURI splits "data:<mime>;base64,<payload>" into its MIME type and
// decoded bytes.
func ParseDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "data:")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing data: scheme", ErrDataURI)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing payload separator", ErrDataURI)
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("%w: only base64 payloads are supported", ErrDataURI)
	}
	// drop parameters such as ;codecs=opus
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if mime == "" {
		mime = "application/octet-stream"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrDataURI, err)
	}
	return mime, data, nil
}

// DataURI encodes data as a base64 data URI.
func DataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// PutDataURI decodes uri and stores its bytes.
func PutDataURI(ctx context.Context, s Store, uri string) (Ref, error) {
	mime, data, err := ParseDataURI(uri)
	if err != nil {
		return Ref{}, err
	}
	return s.Put(ctx, mime, data)
}
