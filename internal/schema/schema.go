// Package schema reflects flow output structs into JSON Schema and validates
// untrusted model output against them before it is decoded into typed values.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	"kisanbazaar/internal/apperr"
)

// Checker is implemented by types with invariants a JSON Schema cannot express
// (cross-field consistency, one-of-each constraints).
type Checker interface {
	Check() error
}

// ValidationError names the field that failed and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Invalid is a shorthand for building a ValidationError.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Schema is a reflected JSON Schema together with its compiled validator.
type Schema struct {
	name     string
	doc      []byte
	compiled *gojsonschema.Schema
}

var (
	reflector = &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	cache sync.Map // reflect.Type -> *Schema
)

// For returns the schema of T, reflecting and compiling it on first use.
// It panics if T cannot be reflected into a valid schema; flow output types
// are fixed at compile time so this is a programming error.
func For[T any]() *Schema {
	var zero T
	typ := reflect.TypeOf(zero)
	if cached, ok := cache.Load(typ); ok {
		return cached.(*Schema)
	}
	s, err := build(typ.Name(), &zero)
	if err != nil {
		panic(fmt.Sprintf("schema: %s: %v", typ, err))
	}
	actual, _ := cache.LoadOrStore(typ, s)
	return actual.(*Schema)
}

func build(name string, v any) (*Schema, error) {
	js := reflector.Reflect(v)
	// gojsonschema only understands drafts up to 7.
	js.Version = ""
	js.ID = ""
	doc, err := json.Marshal(js)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{name: name, doc: doc, compiled: compiled}, nil
}

// Name is the Go type name the schema was reflected from.
func (s *Schema) Name() string { return s.name }

// JSON returns the schema document.
func (s *Schema) JSON() json.RawMessage { return json.RawMessage(s.doc) }

// Describe returns the schema indented for inclusion in a prompt.
func (s *Schema) Describe() string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, s.doc, "", "  "); err != nil {
		return string(s.doc)
	}
	return buf.String()
}

// Validate checks raw JSON against the schema and reports the first failing
// field.
func (s *Schema) Validate(raw []byte) error {
	if !json.Valid(raw) {
		return &ValidationError{Reason: "output is not valid JSON"}
	}
	result, err := s.compiled.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if result.Valid() {
		return nil
	}
	first := result.Errors()[0]
	return &ValidationError{Field: first.Field(), Reason: first.Description()}
}

// Decode validates raw model output against s, decodes it into T, applies the
// optional normalizers and finally runs T.Check when T implements Checker.
// Every failure is classified as apperr.SchemaValidation.
func Decode[T any](s *Schema, raw []byte, normalize ...func(*T)) (T, error) {
	var out T
	const op = "schema.decode"
	body := StripFence(raw)
	if err := s.Validate(body); err != nil {
		return out, apperr.E(apperr.SchemaValidation, op, err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, apperr.E(apperr.SchemaValidation, op, &ValidationError{Reason: err.Error()})
	}
	for _, fn := range normalize {
		if fn != nil {
			fn(&out)
		}
	}
	if err := check(&out); err != nil {
		return out, apperr.E(apperr.SchemaValidation, op, err)
	}
	return out, nil
}

// ValidateInput runs Check on a flow input. A failing input is the caller's
// fault and is classified as apperr.CallerContract.
func ValidateInput(v any) error {
	if c, ok := v.(Checker); ok {
		if err := c.Check(); err != nil {
			return apperr.E(apperr.CallerContract, "schema.input", err)
		}
	}
	return nil
}

func check(v any) error {
	if c, ok := v.(Checker); ok {
		return c.Check()
	}
	return nil
}

// StripFence removes a surrounding Markdown code fence that models sometimes
// add even when asked for bare JSON.
func StripFence(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(s, "```") {
		return []byte(s)
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the info string, e.g. ```json
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return []byte(strings.TrimSpace(s))
}
