package sanitize

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// patternsYAML is the sealed registry, compiled into the binary.
//
//go:embed patterns.yaml
var patternsYAML []byte

// Severity is the action taken on a match.
type Severity string

const (
	SeverityRedact Severity = "redact"
	SeverityReject Severity = "reject"
)

// Category groups patterns that share a severity.
type Category struct {
	Name     string   `yaml:"name"`
	Severity Severity `yaml:"severity"`
	Patterns []string `yaml:"patterns"`
}

// Pattern is one compiled, normalized forbidden substring.
type Pattern struct {
	Text     string
	Category string
	Severity Severity
}

// Registry is the parsed forbidden-pattern table.
type Registry struct {
	Version    string     `yaml:"version"`
	Sealed     string     `yaml:"sealed"`
	Categories []Category `yaml:"categories"`
	Sensitive  []string   `yaml:"sensitive"`

	digest   string
	patterns []Pattern
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
	defaultErr  error
)

// Default returns the embedded registry, parsed once.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultReg, defaultErr = ParseRegistry(patternsYAML)
	})
	return defaultReg, defaultErr
}

// ParseRegistry parses and checks a registry document. Patterns must be
// unique after normalization and every category needs a known severity.
func ParseRegistry(data []byte) (*Registry, error) {
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("sanitize: parse registry: %w", err)
	}
	if r.Version == "" {
		return nil, fmt.Errorf("sanitize: registry has no version")
	}
	seen := make(map[string]string)
	for _, c := range r.Categories {
		if c.Severity != SeverityRedact && c.Severity != SeverityReject {
			return nil, fmt.Errorf("sanitize: category %q has unknown severity %q", c.Name, c.Severity)
		}
		for _, p := range c.Patterns {
			norm := Normalize(p)
			if norm == "" {
				return nil, fmt.Errorf("sanitize: category %q has an empty pattern", c.Name)
			}
			if prev, dup := seen[norm]; dup {
				return nil, fmt.Errorf("sanitize: pattern %q duplicated in %q and %q", p, prev, c.Name)
			}
			seen[norm] = c.Name
			r.patterns = append(r.patterns, Pattern{Text: norm, Category: c.Name, Severity: c.Severity})
		}
	}
	for i, s := range r.Sensitive {
		r.Sensitive[i] = Normalize(s)
	}
	sum := sha256.Sum256(data)
	r.digest = hex.EncodeToString(sum[:])
	return &r, nil
}

// Digest identifies the exact registry document.
func (r *Registry) Digest() string { return r.digest }

// Patterns returns the compiled patterns in document order.
func (r *Registry) Patterns() []Pattern {
	return append([]Pattern(nil), r.patterns...)
}

// Match returns every pattern contained in the already-normalized s.
func (r *Registry) Match(normalized string) []Pattern {
	var out []Pattern
	for _, p := range r.patterns {
		if strings.Contains(normalized, p.Text) {
			out = append(out, p)
		}
	}
	return out
}

// SensitiveIn returns the sensitive terms contained in the normalized s.
func (r *Registry) SensitiveIn(normalized string) []string {
	var out []string
	for _, term := range r.Sensitive {
		if strings.Contains(normalized, term) {
			out = append(out, term)
		}
	}
	return out
}
