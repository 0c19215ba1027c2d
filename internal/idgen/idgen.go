package idgen

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultTemplate = "{{uuidv4}}"

var (
	socketGenerator  atomic.Pointer[IDGenerator]
	messageGenerator atomic.Pointer[IDGenerator]
)

func init() {
	gen, _ := NewIDGenerator(DefaultTemplate)
	socketGenerator.Store(gen)
	messageGenerator.Store(gen)
}

// IDGenerator generates IDs based on a template
type IDGenerator struct {
	template *template.Template
}

// NewIDGenerator creates a new ID generator with the given template string.
// Templates may use uuidv4, uuidv7, nanoid and the sprig function set.
func NewIDGenerator(templateStr string) (*IDGenerator, error) {
	if templateStr == "" {
		templateStr = DefaultTemplate
	}

	tmpl := template.New("id").Funcs(sprig.TxtFuncMap()).Funcs(template.FuncMap{
		"uuidv4": func() string {
			return uuid.New().String()
		},
		"uuidv7": func() string {
			id, err := uuid.NewV7()
			if err != nil {
				return uuid.New().String()
			}
			return id.String()
		},
		"nanoid": func(size ...int) (string, error) {
			return gonanoid.New(size...)
		},
	})

	parsed, err := tmpl.Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ID template: %w", err)
	}

	gen := &IDGenerator{template: parsed}
	if _, err := gen.Generate(); err != nil {
		return nil, err
	}
	return gen, nil
}

// Generate generates a new ID using the template
func (g *IDGenerator) Generate() (string, error) {
	var buf bytes.Buffer
	if err := g.template.Execute(&buf, nil); err != nil {
		return "", fmt.Errorf("failed to generate ID: %w", err)
	}
	if buf.Len() == 0 {
		return "", fmt.Errorf("failed to generate ID: template produced an empty string")
	}
	return buf.String(), nil
}

// IDTemplateConfig contains ID generation templates for different entity types
type IDTemplateConfig struct {
	Socket  string
	Message string
}

// Configure replaces the generators for every non-empty template.
func Configure(cfg IDTemplateConfig) error {
	if cfg.Socket != "" {
		gen, err := NewIDGenerator(cfg.Socket)
		if err != nil {
			return fmt.Errorf("failed to configure socket ID generator: %w", err)
		}
		socketGenerator.Store(gen)
	}
	if cfg.Message != "" {
		gen, err := NewIDGenerator(cfg.Message)
		if err != nil {
			return fmt.Errorf("failed to configure message ID generator: %w", err)
		}
		messageGenerator.Store(gen)
	}
	return nil
}

// Socket generates a socket ID. Defaults to UUID v4.
func Socket() string {
	return generate(socketGenerator.Load())
}

// Message generates a message ID. Defaults to UUID v4.
func Message() string {
	return generate(messageGenerator.Load())
}

func generate(gen *IDGenerator) string {
	id, err := gen.Generate()
	if err != nil {
		return uuid.New().String()
	}
	return id
}
