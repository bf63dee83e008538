// Package conversation normalizes stored conversation bodies into ordered
// turn sequences and derives the searchable text that gets embedded.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/semantixd/internal/redact"
)

// Roles of a conversation turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyConversation indicates a body with no usable turns.
var ErrEmptyConversation = errors.New("conversation has no turns")

// Turn is one normalized conversation turn.
type Turn struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Pair groups a user turn with the assistant turn that answered it. Either
// side may be empty when the conversation is lopsided.
type Pair struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// rawTurn tolerates the field names writers actually use: text or content,
// role variants with mixed case.
type rawTurn struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// ParseTurns decodes a conversation raw_data body into ordered turns. Turns
// with unknown roles or empty text are dropped.
func ParseTurns(raw []byte) ([]Turn, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyConversation
	}

	var rawTurns []rawTurn
	if err := json.Unmarshal(raw, &rawTurns); err != nil {
		return nil, fmt.Errorf("decoding conversation body: %w", err)
	}

	turns := make([]Turn, 0, len(rawTurns))
	for _, rt := range rawTurns {
		role := strings.ToLower(strings.TrimSpace(rt.Role))
		if role != RoleUser && role != RoleAssistant {
			continue
		}
		text := rt.Text
		if text == "" {
			text = rt.Content
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		turns = append(turns, Turn{Role: role, Text: text, Timestamp: rt.Timestamp})
	}
	if len(turns) == 0 {
		return nil, ErrEmptyConversation
	}
	return turns, nil
}

// Redact strips memory-block markers from every turn. Injected memory in
// prior assistant replies must never be re-embedded or re-summarized.
func Redact(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, turn := range turns {
		turn.Text = redact.MemoryBlocks(turn.Text)
		if turn.Text == "" {
			continue
		}
		out = append(out, turn)
	}
	return out
}

// Pairs groups turns into user/assistant exchanges in order. A user turn
// opens a pair; the next assistant turn closes it. Leading assistant turns
// form assistant-only pairs.
func Pairs(turns []Turn) []Pair {
	var pairs []Pair
	var open *Pair

	for _, turn := range turns {
		switch turn.Role {
		case RoleUser:
			if open != nil {
				pairs = append(pairs, *open)
			}
			open = &Pair{User: turn.Text}
		case RoleAssistant:
			if open == nil {
				pairs = append(pairs, Pair{Assistant: turn.Text})
				continue
			}
			if open.Assistant != "" {
				open.Assistant += "\n" + turn.Text
			} else {
				open.Assistant = turn.Text
			}
		}
	}
	if open != nil {
		pairs = append(pairs, *open)
	}
	return pairs
}

// Text renders a pair as prompt-style plain text.
func (p Pair) Text() string {
	var b strings.Builder
	if p.User != "" {
		b.WriteString("User: ")
		b.WriteString(p.User)
	}
	if p.Assistant != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Assistant: ")
		b.WriteString(p.Assistant)
	}
	return b.String()
}
