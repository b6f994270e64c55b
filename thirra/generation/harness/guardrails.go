package harness

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Guardrails masks secrets before text reaches logs.
type Guardrails struct {
	outputFilters []*regexp.Regexp
}

// NewGuardrails creates guardrails with default redaction patterns.
func NewGuardrails() *Guardrails {
	return &Guardrails{
		outputFilters: []*regexp.Regexp{
			regexp.MustCompile(`(?i)password\s*[:=]\s*\S+`),
			regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*\S+`),
			regexp.MustCompile(`(?i)secret\s*[:=]\s*\S+`),
			regexp.MustCompile(`(?i)token\s*[:=]\s*\S+`),
			regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`),
		},
	}
}

// SanitizeOutput masks sensitive assignments in text.
func (g *Guardrails) SanitizeOutput(output string) string {
	sanitized := output
	for _, filter := range g.outputFilters {
		sanitized = filter.ReplaceAllString(sanitized, "[REDACTED]")
	}
	return sanitized
}

// Preview returns a sanitized single-line prefix of text for log fields.
func (g *Guardrails) Preview(text string, max int) string {
	line := strings.Join(strings.Fields(g.SanitizeOutput(text)), " ")
	if t, cut := truncateRunes(line, max); cut {
		return t + "..."
	}
	return line
}

// JSONValidator handles JSON schema validation.
type JSONValidator struct{}

// NewJSONValidator creates a new JSON validator.
func NewJSONValidator() *JSONValidator {
	return &JSONValidator{}
}

// Validate checks if JSON data conforms to a schema.
func (v *JSONValidator) Validate(data json.RawMessage, schema []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("data is not valid JSON")
	}
	if len(schema) == 0 {
		return nil // no schema to validate against
	}

	schemaLoader := gojsonschema.NewBytesLoader(schema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, err := range result.Errors() {
			errs = append(errs, err.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
