// Package sanitize filters every outbound response for leakage of internal
// structure.
//
// Keys and string values are normalized (see Normalize) and matched against
// the sealed forbidden-pattern registry. A redact match drops a key or
// replaces a string value with Redacted; a reject match withholds the whole
// response. Matches are reported to the operator through logs and metrics,
// never to the caller.
package sanitize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kairo/internal/telemetry"
)

// Redacted replaces string values that match a redact pattern.
const Redacted = "[REDACTED]"

// StrictMaxArray bounds array length in strict mode.
const StrictMaxArray = 10

// ErrWithheld is returned when a reject pattern matched.
var ErrWithheld = errors.New("sanitize: response withheld")

// Violation is one match, recorded internally.
type Violation struct {
	Path     string   `json:"path"`
	Pattern  string   `json:"pattern"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	InKey    bool     `json:"in_key"`
}

// Report summarizes one sanitization pass.
type Report struct {
	Violations []Violation `json:"violations,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
	Truncated  int         `json:"truncated,omitempty"`
	Rejected   bool        `json:"rejected"`
}

// Clean reports whether nothing was changed or withheld.
func (r Report) Clean() bool {
	return len(r.Violations) == 0 && r.Truncated == 0 && !r.Rejected
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithAllowList silences sensitive-term warnings for the given terms. It
// never lets a forbidden pattern through.
func WithAllowList(terms []string) Option {
	return func(s *Sanitizer) {
		for _, t := range terms {
			if t = Normalize(strings.TrimSpace(t)); t != "" {
				s.allow[t] = true
			}
		}
	}
}

// WithStrict drops belief and energy fields and bounds arrays.
func WithStrict(strict bool) Option {
	return func(s *Sanitizer) { s.strict = strict }
}

// WithLogger sets the logger for violation reports.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sanitizer) { s.logger = l }
}

// Sanitizer is safe for concurrent use.
type Sanitizer struct {
	reg        *Registry
	allow      map[string]bool
	strict     bool
	logger     *slog.Logger
	violations metric.Int64Counter
}

// New creates a sanitizer over reg.
func New(reg *Registry, opts ...Option) *Sanitizer {
	s := &Sanitizer{reg: reg, allow: make(map[string]bool), logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if c, err := telemetry.Meter("kairo/sanitize").Int64Counter("kairo.sanitizer.violations",
		metric.WithDescription("Forbidden-pattern matches in outbound responses")); err == nil {
		s.violations = c
	}
	return s
}

// Registry returns the pattern registry in use.
func (s *Sanitizer) Registry() *Registry { return s.reg }

// Sanitize filters a JSON-shaped value (maps, slices, strings, numbers,
// bools, nil). The input is not modified. On a reject match it returns nil
// and ErrWithheld.
func (s *Sanitizer) Sanitize(ctx context.Context, v any) (any, Report, error) {
	var rep Report
	out := s.walk(v, "", &rep)
	s.record(ctx, rep)
	if rep.Rejected {
		return nil, rep, ErrWithheld
	}
	return out, rep, nil
}

// SanitizeJSON decodes data, sanitizes it, and re-encodes it. Numbers keep
// their original text.
func (s *Sanitizer) SanitizeJSON(ctx context.Context, data []byte) ([]byte, Report, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, Report{}, fmt.Errorf("sanitize: decode: %w", err)
	}
	out, rep, err := s.Sanitize(ctx, v)
	if err != nil {
		return nil, rep, err
	}
	enc, err := json.Marshal(out)
	if err != nil {
		return nil, rep, fmt.Errorf("sanitize: encode: %w", err)
	}
	return enc, rep, nil
}

// SanitizeValue marshals v (typically a response struct) and sanitizes it.
func (s *Sanitizer) SanitizeValue(ctx context.Context, v any) ([]byte, Report, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, Report{}, fmt.Errorf("sanitize: encode: %w", err)
	}
	return s.SanitizeJSON(ctx, data)
}

// CheckText returns the forbidden patterns contained in raw text.
func (s *Sanitizer) CheckText(text string) []string {
	var out []string
	for _, p := range s.reg.Match(Normalize(text)) {
		out = append(out, p.Text)
	}
	return out
}

func (s *Sanitizer) walk(v any, path string, rep *Report) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make(map[string]any, len(t))
		for _, k := range keys {
			p := joinPath(path, k)
			nk := Normalize(k)
			if s.matchKey(nk, p, rep) {
				continue
			}
			if s.strict && (strings.Contains(nk, "belief") || strings.Contains(nk, "energy")) {
				continue
			}
			s.warnSensitive(nk, p, rep)
			out[k] = s.walk(t[k], p, rep)
		}
		return out
	case []any:
		items := t
		if s.strict && len(items) > StrictMaxArray {
			rep.Truncated += len(items) - StrictMaxArray
			items = items[:StrictMaxArray]
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = s.walk(item, path+"["+strconv.Itoa(i)+"]", rep)
		}
		return out
	case string:
		nv := Normalize(t)
		matches := s.reg.Match(nv)
		if len(matches) == 0 {
			return t
		}
		for _, m := range matches {
			rep.Violations = append(rep.Violations, Violation{Path: path, Pattern: m.Text, Category: m.Category, Severity: m.Severity})
			if m.Severity == SeverityReject {
				rep.Rejected = true
			}
		}
		return Redacted
	default:
		return v
	}
}

// matchKey records key matches and reports whether the field is dropped.
func (s *Sanitizer) matchKey(normalized, path string, rep *Report) bool {
	matches := s.reg.Match(normalized)
	for _, m := range matches {
		rep.Violations = append(rep.Violations, Violation{Path: path, Pattern: m.Text, Category: m.Category, Severity: m.Severity, InKey: true})
		if m.Severity == SeverityReject {
			rep.Rejected = true
		}
	}
	return len(matches) > 0
}

func (s *Sanitizer) warnSensitive(normalized, path string, rep *Report) {
	for _, term := range s.reg.SensitiveIn(normalized) {
		if !s.allow[term] {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("sensitive term %q at %s", term, path))
		}
	}
}

func (s *Sanitizer) record(ctx context.Context, rep Report) {
	if len(rep.Violations) == 0 && !rep.Rejected {
		if len(rep.Warnings) > 0 {
			s.logger.Debug("sanitize: sensitive terms in response", "warnings", rep.Warnings)
		}
		return
	}
	patterns := make([]string, 0, len(rep.Violations))
	for _, v := range rep.Violations {
		patterns = append(patterns, v.Category+"/"+v.Pattern+"@"+v.Path)
		if s.violations != nil {
			s.violations.Add(ctx, 1, metric.WithAttributes(
				attribute.String("category", v.Category),
				attribute.String("severity", string(v.Severity)),
			))
		}
	}
	s.logger.Warn("sanitize: response filtered",
		"violations", len(rep.Violations),
		"rejected", rep.Rejected,
		"matches", patterns,
	)
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
