package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/semantixd/internal/compression"
)

// maxKeyChanges caps how many solution.key_changes entries contribute to a
// memory log's searchable text.
const maxKeyChanges = 5

// MemoryLogText composes the searchable text for a memory log body:
// task, summary, solution approach and key changes, component, root cause,
// and tags. Falls back to the task label or "untitled".
func MemoryLogText(raw map[string]any) string {
	var parts []string

	add := func(v any) {
		if s, ok := v.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
			}
		}
	}

	add(raw["task"])
	add(raw["summary"])

	if solution, ok := raw["solution"].(map[string]any); ok {
		add(solution["approach"])
		if changes, ok := solution["key_changes"].([]any); ok {
			for i, change := range changes {
				if i == maxKeyChanges {
					break
				}
				add(change)
			}
		}
	}

	add(raw["component"])
	add(raw["root_cause"])

	if tags, ok := raw["tags"].([]any); ok {
		var words []string
		for _, tag := range tags {
			if s, ok := tag.(string); ok && s != "" {
				words = append(words, s)
			}
		}
		if len(words) > 0 {
			parts = append(parts, strings.Join(words, " "))
		}
	}

	if composed := strings.TrimSpace(strings.Join(parts, " ")); composed != "" {
		return composed
	}
	if task, ok := raw["task"].(string); ok && strings.TrimSpace(task) != "" {
		return strings.TrimSpace(task)
	}
	return "untitled"
}

// MentalNoteText returns the note's content field.
func MentalNoteText(raw map[string]any) string {
	if content, ok := raw["content"].(string); ok {
		return strings.TrimSpace(content)
	}
	return ""
}

// ConversationText derives the searchable text for a conversation body.
// Turns are redacted, grouped into exchanges, and each exchange compressed
// into a semantic unit. When the compressor is nil or produces nothing, the
// fallback is a stable JSON encoding of the redacted turn list.
func ConversationText(ctx context.Context, raw []byte, compressor compression.Compressor) (string, error) {
	turns, err := ParseTurns(raw)
	if err != nil {
		return "", err
	}
	turns = Redact(turns)
	if len(turns) == 0 {
		return "", ErrEmptyConversation
	}

	if compressor != nil {
		units := make([]string, 0, len(turns))
		for _, pair := range Pairs(turns) {
			unit, err := compressor.Compress(ctx, pair.Text())
			if err != nil {
				units = nil
				break
			}
			if unit != "" {
				units = append(units, unit)
			}
		}
		if len(units) > 0 {
			return strings.Join(units, "\n"), nil
		}
	}

	encoded, err := json.Marshal(turns)
	if err != nil {
		return "", fmt.Errorf("encoding turns: %w", err)
	}
	return string(encoded), nil
}
