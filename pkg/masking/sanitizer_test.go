package masking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeMasksSensitiveKeys(t *testing.T) {
	s := NewSanitizer()

	out := s.SanitizeMap(map[string]any{
		"username":      "alice",
		"password":      "hunter2",
		"api_key":       "sk-12345",
		"AccessToken":   "tok",
		"authorization": "Bearer xyz",
		"client_secret": "shh",
	})

	assert.Equal(t, "alice", out["username"])
	assert.Equal(t, Redacted, out["password"])
	assert.Equal(t, Redacted, out["api_key"])
	assert.Equal(t, Redacted, out["AccessToken"])
	assert.Equal(t, Redacted, out["authorization"])
	assert.Equal(t, Redacted, out["client_secret"])
}

func TestSanitizeMasksNestedKeys(t *testing.T) {
	s := NewSanitizer()

	out := s.SanitizeMap(map[string]any{
		"payment": map[string]any{
			"card_token": "tok_abc",
			"amount":     "10.00",
		},
	})

	payment := out["payment"].(map[string]any)
	assert.Equal(t, Redacted, payment["card_token"])
	assert.Equal(t, "10.00", payment["amount"])
}

func TestSanitizeTruncatesLongStrings(t *testing.T) {
	s := NewSanitizer()

	long := strings.Repeat("x", 600)
	out := s.Sanitize(long).(string)

	assert.Len(t, out, 500+len(truncationTag))
	assert.True(t, strings.HasSuffix(out, truncationTag))
}

func TestSanitizeCapsLists(t *testing.T) {
	s := NewSanitizer()

	items := make([]any, 75)
	for i := range items {
		items[i] = i
	}

	out := s.Sanitize(items).([]any)
	require.Len(t, out, 51)
	assert.Equal(t, "...[25 more items]", out[50])
}

func TestSanitizeStopsAtMaxDepth(t *testing.T) {
	s := NewSanitizer()

	deep := map[string]any{}
	cur := deep
	for i := 0; i < 10; i++ {
		next := map[string]any{}
		cur["level"] = next
		cur = next
	}
	cur["leaf"] = "value"

	out := s.SanitizeMap(deep)
	// Walk to depth 4 and expect the depth marker below it.
	node := out
	for i := 0; i < 4; i++ {
		node = node["level"].(map[string]any)
	}
	_, isMap := node["level"].(map[string]any)
	assert.False(t, isMap)
}

func TestSanitizeDoesNotMutateInput(t *testing.T) {
	s := NewSanitizer()

	in := map[string]any{"password": "original"}
	_ = s.SanitizeMap(in)

	assert.Equal(t, "original", in["password"])
}

func TestSanitizeUnknownTypesSummarized(t *testing.T) {
	s := NewSanitizer()

	type opaque struct{ n int }
	out := s.Sanitize(opaque{n: 1})

	assert.Contains(t, out.(string), "opaque")
}
