// Package tmpl loads the HTML message template and fills in the recipient
// name placeholder.
package tmpl

import (
	"fmt"
	"os"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Placeholder is the literal token replaced with the recipient name.
const Placeholder = "{{name}}"

// Template is an HTML body with zero or more placeholders.
type Template struct {
	html     string
	fallback string
	policy   *bluemonday.Policy
}

// Option configures a Template.
type Option func(*Template)

// WithFallback sets the name used when a recipient has none.
func WithFallback(name string) Option {
	return func(t *Template) {
		t.fallback = name
	}
}

// WithSanitizedNames strips markup from names before substitution. Without
// it names are inserted verbatim, markup included.
func WithSanitizedNames() Option {
	return func(t *Template) {
		t.policy = bluemonday.StrictPolicy()
	}
}

// New creates a Template from an HTML string.
func New(html string, opts ...Option) *Template {
	t := &Template{html: html, fallback: "Gabi"}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// LoadFromFile reads the template at path.
func LoadFromFile(path string, opts ...Option) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}
	return New(string(data), opts...), nil
}

// Render replaces every placeholder with name, or with the fallback name
// when name is empty.
func (t *Template) Render(name string) string {
	if t.policy != nil {
		name = t.policy.Sanitize(name)
	}
	if name == "" {
		name = t.fallback
	}
	return strings.ReplaceAll(t.html, Placeholder, name)
}

// HTML returns the unrendered template.
func (t *Template) HTML() string {
	return t.html
}
