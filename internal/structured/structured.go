// Package structured extracts machine-readable payloads from LLM text
// output. Models routinely wrap JSON in markdown code fences or pad it
// with prose; every consumer of model-emitted JSON in Sphere goes through
// this package instead of stripping fences ad hoc at the call site.
package structured

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError reports that model output could not be decoded. Raw carries
// the text as received (after fence stripping) so callers can log it for
// prompt debugging.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("structured output parse failed: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StripFences removes a leading/trailing markdown code fence from s, if
// present. The language tag on the opening fence ("json", "markdown", …)
// is ignored. Text outside a single enclosing fence pair is discarded;
// input without fences is returned trimmed.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	// Drop the opening fence line, including any language tag.
	body := s[3:]
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[idx+1:]
	} else {
		// Opening fence with no newline: nothing inside.
		return strings.TrimSpace(strings.TrimSuffix(body, "```"))
	}

	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

// Decode strips fences from raw and unmarshals the result into v.
// A failure returns a *ParseError; v is left untouched on error paths
// where json.Unmarshal made no progress.
func Decode(raw string, v any) error {
	stripped := StripFences(raw)
	if err := json.Unmarshal([]byte(stripped), v); err != nil {
		return &ParseError{Raw: stripped, Err: err}
	}
	return nil
}
