package harness

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Guardrails screens generated content before it is written. Blocked words flag a post
// for moderation; credential-looking fragments are masked.
type Guardrails struct {
	blocked       []*regexp.Regexp
	blockedWords  []string
	outputFilters []*regexp.Regexp
}

// NewGuardrails matches each blocked word case-insensitively on word boundaries.
func NewGuardrails(blockedWords []string) *Guardrails {
	g := &Guardrails{
		outputFilters: []*regexp.Regexp{
			regexp.MustCompile(`(?i)password[:=]\s*\S+`),
			regexp.MustCompile(`(?i)api[_-]?key[:=]\s*\S+`),
			regexp.MustCompile(`(?i)secret[:=]\s*\S+`),
			regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}\b`),
		},
	}
	for _, w := range blockedWords {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		g.blockedWords = append(g.blockedWords, strings.ToLower(w))
		g.blocked = append(g.blocked, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(w)+`\b`))
	}
	return g
}

// ValidateOutput reports the first blocked word found in output.
func (g *Guardrails) ValidateOutput(output string) error {
	for i, re := range g.blocked {
		if re.MatchString(output) {
			return fmt.Errorf("output contains blocked word: %s", g.blockedWords[i])
		}
	}
	return nil
}

// SanitizeOutput masks credential-looking fragments.
func (g *Guardrails) SanitizeOutput(output string) string {
	sanitized := output
	for _, filter := range g.outputFilters {
		sanitized = filter.ReplaceAllString(sanitized, "[REDACTED]")
	}
	return sanitized
}

// Screen sanitizes content and reports whether it must be flagged.
func (g *Guardrails) Screen(content string) (string, bool) {
	content = g.SanitizeOutput(content)
	return content, g.ValidateOutput(content) != nil
}

// JSONValidator handles JSON schema validation.
type JSONValidator struct{}

func NewJSONValidator() *JSONValidator {
	return &JSONValidator{}
}

// Validate checks if JSON data conforms to a schema. An empty schema accepts anything.
func (v *JSONValidator) Validate(data json.RawMessage, schema []byte) error {
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
