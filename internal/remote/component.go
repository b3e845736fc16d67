// Package remote loads independently deployed UI modules and contains their
// failures so the host page always renders.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
)

// Component is an evaluated remote module ready to render.
type Component interface {
	Render(ctx context.Context, data any) (template.HTML, error)
}

// Provider obtains and evaluates a remote module by logical name.
type Provider interface {
	Resolve(ctx context.Context, name string) (Component, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, name string) (Component, error)

// Resolve implements Provider.
func (f ProviderFunc) Resolve(ctx context.Context, name string) (Component, error) {
	return f(ctx, name)
}

// ComponentFunc adapts a function to Component.
type ComponentFunc func(ctx context.Context, data any) (template.HTML, error)

// Render implements Component.
func (f ComponentFunc) Render(ctx context.Context, data any) (template.HTML, error) {
	return f(ctx, data)
}

// TemplateComponent renders a remote entry artifact parsed as an
// html/template fragment. Template errors surface as render errors.
type TemplateComponent struct {
	name string
	tmpl *template.Template
}

// NewTemplateComponent evaluates source. A parse failure is an evaluation failure.
func NewTemplateComponent(name, source string) (*TemplateComponent, error) {
	if strings.TrimSpace(source) == "" {
		return nil, &LoadError{Module: name, Phase: PhaseEvaluate, Err: ErrEmptyArtifact}
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(source)
	if err != nil {
		return nil, &LoadError{Module: name, Phase: PhaseEvaluate, Err: err}
	}

	return &TemplateComponent{name: name, tmpl: tmpl}, nil
}

// Render implements Component.
func (c *TemplateComponent) Render(ctx context.Context, data any) (template.HTML, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s: %w", c.name, err)
	}

	//nolint:gosec // output of html/template is already escaped
	return template.HTML(buf.String()), nil
}
