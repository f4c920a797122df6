// Package prompt renders model request payloads from an embedded template
// catalog. Rendering is pure: media is referenced by content address and
// resolved later by the caller.
package prompt

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"kisanbazaar/internal/media"
)

//go:embed templates.yaml
var defaultCatalog []byte

// Part is one element of a rendered payload: text or a media reference.
type Part struct {
	Text  string
	Media *media.Ref
}

// Payload is a rendered model request.
type Payload struct {
	System string
	Parts  []Part
}

// Text concatenates the text parts, skipping media.
func (p Payload) Text() string {
	var sb strings.Builder
	for _, part := range p.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// MediaRefs lists the media references in order of appearance.
func (p Payload) MediaRefs() []media.Ref {
	var refs []media.Ref
	for _, part := range p.Parts {
		if part.Media != nil {
			refs = append(refs, *part.Media)
		}
	}
	return refs
}

// Append adds a titled text section after the rendered body.
func (p *Payload) Append(title, body string) {
	var buf bytes.Buffer
	writeSection(&buf, title, body)
	if buf.Len() == 0 {
		return
	}
	if n := len(p.Parts); n > 0 && p.Parts[n-1].Media == nil {
		p.Parts[n-1].Text = strings.TrimRight(p.Parts[n-1].Text, "\n") + "\n\n" + buf.String()
		return
	}
	p.Parts = append(p.Parts, Part{Text: buf.String()})
}

type templateDef struct {
	ID      string   `yaml:"id"`
	System  string   `yaml:"system"`
	Purpose string   `yaml:"purpose"`
	Rules   []string `yaml:"rules"`
	Body    string   `yaml:"body"`
	// Raw templates render the body alone, without section headers.
	Raw bool `yaml:"raw"`
}

type catalog struct {
	Personas  map[string]string `yaml:"personas"`
	Templates []templateDef     `yaml:"templates"`
}

type compiled struct {
	def  templateDef
	body *template.Template
}

// Engine holds the parsed catalog.
type Engine struct {
	templates map[string]*compiled
}

// NewEngine parses the embedded catalog.
func NewEngine() (*Engine, error) {
	return Parse(defaultCatalog)
}

// Parse builds an engine from a YAML catalog document.
func Parse(doc []byte) (*Engine, error) {
	var cat catalog
	if err := yaml.Unmarshal(doc, &cat); err != nil {
		return nil, fmt.Errorf("prompt: decode catalog: %w", err)
	}
	e := &Engine{templates: make(map[string]*compiled, len(cat.Templates))}
	for _, def := range cat.Templates {
		def.ID = strings.TrimSpace(def.ID)
		if def.ID == "" {
			return nil, fmt.Errorf("prompt: template without id")
		}
		if _, dup := e.templates[def.ID]; dup {
			return nil, fmt.Errorf("prompt: duplicate template %q", def.ID)
		}
		// personas are shared system instructions referenced as "@name"
		if name, ok := strings.CutPrefix(strings.TrimSpace(def.System), "@"); ok {
			persona, found := cat.Personas[name]
			if !found {
				return nil, fmt.Errorf("prompt: %s: unknown persona %q", def.ID, name)
			}
			def.System = persona
		}
		tmpl, err := template.New(def.ID).Funcs(baseFuncs()).Option("missingkey=error").Parse(def.Body)
		if err != nil {
			return nil, fmt.Errorf("prompt: parse %s: %w", def.ID, err)
		}
		e.templates[def.ID] = &compiled{def: def, body: tmpl}
	}
	return e, nil
}

// Has reports whether a template is registered.
func (e *Engine) Has(id string) bool {
	_, ok := e.templates[id]
	return ok
}

// IDs lists the registered template ids.
func (e *Engine) IDs() []string {
	ids := make([]string, 0, len(e.templates))
	for id := range e.templates {
		ids = append(ids, id)
	}
	return ids
}

// Render executes the template registered under id with input.
func (e *Engine) Render(id string, input any) (Payload, error) {
	c, ok := e.templates[id]
	if !ok {
		return Payload{}, fmt.Errorf("prompt: unknown template %q", id)
	}

	var refs []media.Ref
	m := newMarker()
	tmpl, err := c.body.Clone()
	if err != nil {
		return Payload{}, fmt.Errorf("prompt: clone %s: %w", id, err)
	}
	tmpl.Funcs(template.FuncMap{
		"media": func(ref media.Ref) (string, error) {
			if err := ref.Validate(); err != nil {
				return "", err
			}
			refs = append(refs, ref)
			return m.placeholder(len(refs) - 1), nil
		},
	})

	var body bytes.Buffer
	if err := tmpl.Execute(&body, input); err != nil {
		return Payload{}, fmt.Errorf("prompt: render %s: %w", id, err)
	}

	if c.def.Raw {
		return Payload{
			System: strings.TrimSpace(c.def.System),
			Parts:  m.split(strings.TrimSpace(body.String()), refs),
		}, nil
	}

	var buf bytes.Buffer
	writeSection(&buf, "PURPOSE", c.def.Purpose)
	writeSection(&buf, "RULES", formatList(c.def.Rules))
	writeSection(&buf, "INPUT", strings.TrimSpace(body.String()))

	return Payload{
		System: strings.TrimSpace(c.def.System),
		Parts:  m.split(strings.TrimSpace(buf.String())+"\n", refs),
	}, nil
}

const nul = "\x00"

// marker prefixes media placeholders for one render. The nonce keeps
// interpolated input from forging a placeholder.
type marker string

func newMarker() marker {
	return marker(nul + "media:" + uuid.NewString() + ":")
}

func (m marker) placeholder(i int) string {
	return string(m) + strconv.Itoa(i) + nul
}

// split cuts rendered text at media placeholders. Adjacent text is merged,
// empty text dropped and stray NUL bytes removed.
func (m marker) split(text string, refs []media.Ref) []Part {
	prefix := string(m)
	var parts []Part
	addText := func(s string) {
		s = strings.ReplaceAll(s, nul, "")
		if s == "" {
			return
		}
		if n := len(parts); n > 0 && parts[n-1].Media == nil {
			parts[n-1].Text += s
			return
		}
		parts = append(parts, Part{Text: s})
	}
	for {
		start := strings.Index(text, prefix)
		if start < 0 {
			addText(text)
			return parts
		}
		rest := text[start+len(prefix):]
		end := strings.Index(rest, nul)
		if end < 0 {
			addText(text)
			return parts
		}
		idx, err := strconv.Atoi(rest[:end])
		if err != nil || idx < 0 || idx >= len(refs) {
			addText(text[:start+len(prefix)+end+len(nul)])
			text = rest[end+len(nul):]
			continue
		}
		addText(text[:start])
		ref := refs[idx]
		parts = append(parts, Part{Media: &ref})
		text = rest[end+len(nul):]
	}
}

func baseFuncs() template.FuncMap {
	return template.FuncMap{
		"media": func(media.Ref) (string, error) {
			return "", fmt.Errorf("media used outside Render")
		},
		"join": func(items []string, sep string) string { return strings.Join(items, sep) },
		"inc":  func(i int) int { return i + 1 },
		"json": func(v any) (string, error) {
			b, err := json.Marshal(v)
			return string(b), err
		},
	}
}

func formatList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	var buf strings.Builder
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		fmt.Fprintf(&buf, "- %s\n", item)
	}
	return strings.TrimRight(buf.String(), "\n")
}

func writeSection(buf *bytes.Buffer, title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	buf.WriteString("[")
	buf.WriteString(title)
	buf.WriteString("]\n")
	buf.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
}
