package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryBlocks(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no markers",
			input:    "plain assistant reply",
			expected: "plain assistant reply",
		},
		{
			name:     "single block",
			input:    "before [semantix-memory-block]secret memory[semantix-end-memory-block] after",
			expected: "before  after",
		},
		{
			name:     "multiple blocks",
			input:    "[semantix-memory-block]a[semantix-end-memory-block]x[semantix-memory-block]b[semantix-end-memory-block]y",
			expected: "xy",
		},
		{
			name:     "multiline block",
			input:    "keep\n[semantix-memory-block]\nline1\nline2\n[semantix-end-memory-block]\ndone",
			expected: "keep\n\ndone",
		},
		{
			name:     "unterminated block drops tail",
			input:    "visible [semantix-memory-block] never closed",
			expected: "visible",
		},
		{
			name:     "stray end marker removed",
			input:    "text [semantix-end-memory-block] more",
			expected: "text  more",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MemoryBlocks(tt.input)
			assert.Equal(t, tt.expected, got)
			assert.False(t, ContainsMarker(got), "redacted output must not contain markers")
		})
	}
}

func TestContainsMarker(t *testing.T) {
	assert.True(t, ContainsMarker("x [semantix-memory-block] y"))
	assert.True(t, ContainsMarker("x [semantix-end-memory-block] y"))
	assert.False(t, ContainsMarker("nothing here"))
}
