// Package redact removes injected memory-block fences from text before it
// crosses an embed or summarize boundary.
//
// Assistant replies produced downstream may carry previously retrieved
// memory between the literal markers [semantix-memory-block] and
// [semantix-end-memory-block]. Re-embedding that content would feed
// retrieved memory back into the index, so every text handed to the
// embedding service or a summarizer passes through MemoryBlocks first.
package redact

import (
	"regexp"
	"strings"
)

const (
	// BlockStart opens an injected memory block.
	BlockStart = "[semantix-memory-block]"
	// BlockEnd closes an injected memory block.
	BlockEnd = "[semantix-end-memory-block]"
)

var blockPattern = regexp.MustCompile(
	regexp.QuoteMeta(BlockStart) + `(?s).*?` + regexp.QuoteMeta(BlockEnd),
)

// MemoryBlocks strips every delimited memory block from text, including the
// markers themselves. An unterminated block is stripped to the end of the
// text; a stray end marker is removed on its own.
func MemoryBlocks(text string) string {
	if !strings.Contains(text, BlockStart) && !strings.Contains(text, BlockEnd) {
		return text
	}

	out := blockPattern.ReplaceAllString(text, "")

	// Unterminated block: drop from the start marker onward.
	if idx := strings.Index(out, BlockStart); idx >= 0 {
		out = out[:idx]
	}
	out = strings.ReplaceAll(out, BlockEnd, "")

	return strings.TrimSpace(out)
}

// ContainsMarker reports whether text carries either fence marker.
func ContainsMarker(text string) bool {
	return strings.Contains(text, BlockStart) || strings.Contains(text, BlockEnd)
}
