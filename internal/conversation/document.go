package conversation

import (
	"encoding/json"
	"fmt"
	"time"
)

// Document is the denormalized conversation record stored alongside its
// vector. Turns are redacted before the document is written.
type Document struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SessionID      *string   `json:"session_id,omitempty"`
	Model          string    `json:"model"`
	CreatedAt      time.Time `json:"created_at"`
	Turns          []Turn    `json:"turns"`
}

// MemoryDocument is the denormalized memory-log record stored alongside its
// vector.
type MemoryDocument struct {
	ID        int64     `json:"id"`
	Task      string    `json:"task"`
	Agent     string    `json:"agent"`
	CreatedAt time.Time `json:"created_at"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
}

// NoteDocument is the denormalized mental-note record stored alongside its
// vector.
type NoteDocument struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	StartTime int64  `json:"start_time"`
	Content   string `json:"content"`
}

// Encode renders a vector-store document as JSON.
func Encode(doc any) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding vector document: %w", err)
	}
	return string(data), nil
}

// DecodeDocument parses a conversation vector document.
func DecodeDocument(data string) (*Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("decoding conversation document: %w", err)
	}
	return &doc, nil
}

// DecodeMemoryDocument parses a memory-log vector document.
func DecodeMemoryDocument(data string) (*MemoryDocument, error) {
	var doc MemoryDocument
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("decoding memory document: %w", err)
	}
	return &doc, nil
}
