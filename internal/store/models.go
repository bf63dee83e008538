// Package store implements the primary durable store: memory logs, mental
// notes, conversations, and the pipeline's audit logs.
//
// The primary store is the source of truth. Vector records are derived from
// its rows and may lag behind; readers tolerate "present here, absent from
// the vector store" for a bounded window.
package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a row does not exist for the tenant.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidRecord indicates a record failing validation before insert.
	ErrInvalidRecord = errors.New("invalid record")
)

// Vector is a dense embedding stored as a JSON float array. Absent vectors
// scan as nil; the column is an optimization, not the search authority.
type Vector []float32

// Value implements driver.Valuer.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner.
func (v *Vector) Scan(src any) error {
	if src == nil {
		*v = nil
		return nil
	}
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, v)
	case string:
		return json.Unmarshal([]byte(data), v)
	default:
		return fmt.Errorf("cannot scan %T into Vector", src)
	}
}

// MemoryLog is a structured record of completed work: task, agent, and a
// free-form raw_data body with at least {content, task, agent, date, tags}.
type MemoryLog struct {
	ID        int64          `db:"id"`
	UserID    string         `db:"user_id"`
	ProjectID string         `db:"project_id"`
	Task      string         `db:"task"`
	Agent     string         `db:"agent"`
	CreatedAt time.Time      `db:"created_at"`
	RawData   types.JSONText `db:"raw_data"`
	Embedding Vector         `db:"embedding"`
}

// MentalNote is a short note grouped by session_id within a conversation.
type MentalNote struct {
	ID        int64          `db:"id"`
	UserID    string         `db:"user_id"`
	ProjectID string         `db:"project_id"`
	SessionID string         `db:"session_id"`
	StartTime int64          `db:"start_time"` // millisecond epoch
	CreatedAt time.Time      `db:"created_at"`
	RawData   types.JSONText `db:"raw_data"`
	Embedding Vector         `db:"embedding"`
}

// Conversation is an ordered list of user/assistant turns. Embeddings for
// conversations live only in the vector store, so there is no embedding
// column here.
type Conversation struct {
	ID             int64          `db:"id"`
	ConversationID string         `db:"conversation_id"`
	UserID         string         `db:"user_id"`
	ProjectID      string         `db:"project_id"`
	SessionID      *string        `db:"session_id"`
	Model          string         `db:"model"`
	CreatedAt      time.Time      `db:"created_at"`
	RawData        types.JSONText `db:"raw_data"`
}

// ICM log types, one per pipeline stage.
const (
	ICMTypeSession   = "session"
	ICMTypeIntent    = "intent"
	ICMTypeTime      = "time"
	ICMTypeWorldView = "world_view"
	ICMTypeIdentity  = "identity"
	ICMTypeRetrieval = "retrieval"
)

// ICMLog is one row per classification or retrieval stage of a pipeline run,
// correlated by request_id. Retrieval rows also carry the query parameters.
type ICMLog struct {
	ID            int64          `db:"id"`
	RequestID     string         `db:"request_id"`
	UserID        string         `db:"user_id"`
	ProjectID     string         `db:"project_id"`
	ICMType       string         `db:"icm_type"`
	Payload       types.JSONText `db:"payload"`
	ResultsCount  *int           `db:"results_count"`
	Limit         *int           `db:"result_limit"`
	MinSimilarity *float64       `db:"min_similarity"`
	WindowStart   *time.Time     `db:"window_start"`
	WindowEnd     *time.Time     `db:"window_end"`
	CreatedAt     time.Time      `db:"created_at"`
}

// Retrieval log targets.
const (
	RetrievalTargetVector  = "pgvector"
	RetrievalTargetSkipped = "skipped"
)

// RetrievalLog is one row per final retrieval result set, or an explicit
// negative record when retrieval was skipped.
type RetrievalLog struct {
	ID           int64          `db:"id"`
	RequestID    string         `db:"request_id"`
	UserID       string         `db:"user_id"`
	ProjectID    string         `db:"project_id"`
	Target       string         `db:"target"`
	Query        string         `db:"query"`
	Results      types.JSONText `db:"results"`
	ResultsCount int            `db:"results_count"`
	CreatedAt    time.Time      `db:"created_at"`
}

// RequestLog is one row per /fetch-memory call.
type RequestLog struct {
	ID            int64     `db:"id"`
	RequestID     string    `db:"request_id"`
	UserID        string    `db:"user_id"`
	ProjectID     string    `db:"project_id"`
	Query         string    `db:"query"`
	SessionID     *string   `db:"session_id"`
	Limit         int       `db:"result_limit"`
	MinSimilarity float64   `db:"min_similarity"`
	Outcome       string    `db:"outcome"`
	DurationMS    int64     `db:"duration_ms"`
	CreatedAt     time.Time `db:"created_at"`
}
