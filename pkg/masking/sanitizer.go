// Package masking sanitizes structured payloads before they are written to
// the audit log or echoed into logs. Sanitization is fail-closed: values we
// cannot inspect are replaced rather than passed through.
package masking

import (
	"fmt"
	"strings"
)

const (
	// Redacted replaces any value whose key looks sensitive.
	Redacted = "***MASKED***"

	maxDepth      = 5
	maxStringLen  = 500
	maxListLen    = 50
	truncationTag = "...[truncated]"
)

// sensitiveFragments flag a key as secret-bearing when any of them appears
// in the lowercased key.
var sensitiveFragments = []string{
	"password",
	"secret",
	"token",
	"key",
	"authorization",
}

// Sanitizer sanitizes arbitrary decoded-JSON values. Stateless and safe
// for concurrent use; created once at startup.
type Sanitizer struct{}

// NewSanitizer creates a sanitizer.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// SanitizeMap sanitizes a params-style map. The input is never mutated.
func (s *Sanitizer) SanitizeMap(in map[string]any) map[string]any {
	out, _ := s.sanitizeValue(in, 0).(map[string]any)
	return out
}

// Sanitize sanitizes an arbitrary value (result payloads, event data).
func (s *Sanitizer) Sanitize(in any) any {
	return s.sanitizeValue(in, 0)
}

func (s *Sanitizer) sanitizeValue(v any, depth int) any {
	if depth >= maxDepth {
		return fmt.Sprintf("<max depth %d exceeded>", maxDepth)
	}

	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if isSensitiveKey(k) {
				out[k] = Redacted
				continue
			}
			out[k] = s.sanitizeValue(inner, depth+1)
		}
		return out
	case []any:
		n := len(val)
		if n > maxListLen {
			n = maxListLen
		}
		out := make([]any, 0, n+1)
		for _, inner := range val[:n] {
			out = append(out, s.sanitizeValue(inner, depth+1))
		}
		if len(val) > maxListLen {
			out = append(out, fmt.Sprintf("...[%d more items]", len(val)-maxListLen))
		}
		return out
	case string:
		if len(val) > maxStringLen {
			return val[:maxStringLen] + truncationTag
		}
		return val
	case nil, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return val
	default:
		// Unknown types are summarized rather than trusted.
		return fmt.Sprintf("<%T>", val)
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range sensitiveFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
