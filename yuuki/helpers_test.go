package yuuki

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"one two three", []string{"one", "two", "three"}},
		{`"quoted name" 2025-06-01`, []string{"quoted name", "2025-06-01"}},
		{`"a" "b c" d`, []string{"a", "b c", "d"}},
		{`""`, []string{""}},
		{"tabs\there", []string{"tabs", "here"}},
		{`"unterminated quote`, []string{"unterminated quote"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitArgs(tt.in), "input: %q", tt.in)
	}
}

func TestChunkMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, chunkMessage("short", 100))

	lines := make([]string, 10)
	for i := range lines {
		lines[i] = strings.Repeat("x", 30)
	}
	content := strings.Join(lines, "\n")

	chunks := chunkMessage(content, 100)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 100)
		assert.False(t, strings.HasPrefix(chunk, "\n"))
		assert.False(t, strings.HasSuffix(chunk, "\n"))
	}
	// nothing lost in the split
	assert.Equal(
		t,
		strings.ReplaceAll(content, "\n", ""),
		strings.ReplaceAll(strings.Join(chunks, ""), "\n", ""),
	)

	// content with no newline breaks mid-line
	unbroken := strings.Repeat("y", 250)
	chunks = chunkMessage(unbroken, 100)
	assert.Equal(t, []string{
		strings.Repeat("y", 100),
		strings.Repeat("y", 100),
		strings.Repeat("y", 50),
	}, chunks)
}

// A mid-line break never lands inside a multi-byte rune: emoji-heavy
// content with no newlines must still split into valid UTF-8 chunks.
func TestChunkMessageKeepsRunesWhole(t *testing.T) {
	// 4 bytes per rune; a 10-byte limit falls mid-rune at every break
	content := strings.Repeat("🎮", 25)

	chunks := chunkMessage(content, 10)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 10)
		assert.True(t, utf8.ValidString(chunk), "chunk: %q", chunk)
	}
	assert.Equal(t, content, strings.Join(chunks, ""))
}

func TestCapitalize(t *testing.T) {
	assert.Equal(t, "", capitalize(""))
	assert.Equal(t, "Hello", capitalize("hello"))
	assert.Equal(t, "Hello", capitalize("Hello"))
	assert.Equal(t, "1st", capitalize("1st"))
}

func TestStructToSlogValue(t *testing.T) {
	type inner struct {
		Token string `json:"token" log:"[redacted]"`
		Name  string `json:"name"`
	}
	type outer struct {
		Inner inner  `json:"inner"`
		Empty string `json:"empty"`
		Count int    `json:"count"`
	}

	v := structToSlogValue(outer{
		Inner: inner{Token: "secret", Name: "yuuki"},
		Count: 3,
	})
	rendered := v.String()

	assert.Contains(t, rendered, "[redacted]")
	assert.NotContains(t, rendered, "secret")
	assert.Contains(t, rendered, "yuuki")
	assert.Contains(t, rendered, "count=3")
	assert.NotContains(t, rendered, "empty")

	assert.Equal(t, "<nil>", structToSlogValue(nil).String())
}
