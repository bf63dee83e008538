// Package ingest subscribes to the *.stored topics and runs the shared
// ingestion template: validate, derive searchable text, embed, upsert into
// the vector store, and best-effort backfill the primary store's embedding
// column.
//
// A handler failure never reaches the producer; the primary record already
// exists. Embed and upsert failures are fatal for the event and counted;
// backfill failures are logged and swallowed.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semantixd/internal/compression"
	"github.com/fyrsmithlabs/semantixd/internal/conversation"
	"github.com/fyrsmithlabs/semantixd/internal/embeddings"
	"github.com/fyrsmithlabs/semantixd/internal/events"
	"github.com/fyrsmithlabs/semantixd/internal/logging"
	"github.com/fyrsmithlabs/semantixd/internal/redact"
	"github.com/fyrsmithlabs/semantixd/internal/store"
	"github.com/fyrsmithlabs/semantixd/internal/tenant"
	"github.com/fyrsmithlabs/semantixd/internal/vectorstore"
)

// Embedder is the slice of the embedding service ingestion needs.
type Embedder interface {
	Embed(ctx context.Context, text, model string) (*embeddings.Result, error)
}

// MemoryLogStored is the memory_log.stored payload contract.
type MemoryLogStored struct {
	MemoryLogID int64          `json:"memory_log_id"`
	Task        string         `json:"task"`
	Agent       string         `json:"agent"`
	Date        string         `json:"date"`
	RawData     map[string]any `json:"raw_data"`
	UserID      string         `json:"user_id"`
	ProjectID   string         `json:"project_id"`
}

// MentalNoteStored is the mental_note.stored payload contract.
type MentalNoteStored struct {
	MentalNoteID int64          `json:"mental_note_id"`
	SessionID    string         `json:"session_id"`
	StartTime    int64          `json:"start_time"`
	RawData      map[string]any `json:"raw_data"`
	UserID       string         `json:"user_id"`
	ProjectID    string         `json:"project_id"`
}

// ConversationStored is the conversation.stored payload contract.
type ConversationStored struct {
	ConversationDBID int64           `json:"conversation_db_id"`
	ConversationID   string          `json:"conversation_id"`
	Model            string          `json:"model"`
	RawData          json.RawMessage `json:"raw_data"`
	UserID           string          `json:"user_id"`
	ProjectID        string          `json:"project_id"`
	SessionID        *string         `json:"session_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Handlers runs the three ingestion subscribers.
type Handlers struct {
	primary    store.Store
	vectors    vectorstore.Store
	embedder   Embedder
	compressor compression.Compressor
	logger     *logging.Logger
	failures   atomic.Uint64
}

// NewHandlers creates the ingestion handlers. The compressor may be nil;
// conversation text then falls back to the JSON turn encoding.
func NewHandlers(primary store.Store, vectors vectorstore.Store, embedder Embedder, compressor compression.Compressor, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		primary:    primary,
		vectors:    vectors,
		embedder:   embedder,
		compressor: compressor,
		logger:     logger,
	}
}

// Register subscribes the handlers to their topics.
func (h *Handlers) Register(bus events.Bus) error {
	if err := bus.Subscribe(events.TopicMemoryLogStored, "ingest.memory_log", h.handleMemoryLog); err != nil {
		return err
	}
	if err := bus.Subscribe(events.TopicMentalNoteStored, "ingest.mental_note", h.handleMentalNote); err != nil {
		return err
	}
	return bus.Subscribe(events.TopicConversationStored, "ingest.conversation", h.handleConversation)
}

// ErrorCount returns how many events failed fatally.
func (h *Handlers) ErrorCount() uint64 {
	return h.failures.Load()
}

func (h *Handlers) handleMemoryLog(ctx context.Context, evt events.Event) error {
	var payload MemoryLogStored
	if err := events.DecodePayload(evt, &payload); err != nil {
		return h.fail(ctx, "memory_log", fmt.Errorf("decoding payload: %w", err))
	}
	key := tenant.Key{UserID: payload.UserID, ProjectID: payload.ProjectID}
	if err := key.Validate(); err != nil {
		return h.fail(ctx, "memory_log", err)
	}
	if payload.MemoryLogID <= 0 || len(payload.RawData) == 0 {
		return h.fail(ctx, "memory_log", fmt.Errorf("missing id or raw_data"))
	}
	ctx = tenant.NewContext(ctx, key)

	text := conversation.MemoryLogText(payload.RawData)
	createdAt := parseDate(payload.Date)

	result, err := h.embed(ctx, text)
	if err != nil {
		return h.fail(ctx, "memory_log", err)
	}

	doc, err := conversation.Encode(conversation.MemoryDocument{
		ID:        payload.MemoryLogID,
		Task:      payload.Task,
		Agent:     payload.Agent,
		CreatedAt: createdAt,
		Content:   text,
		Tags:      stringSlice(payload.RawData["tags"]),
	})
	if err != nil {
		return h.fail(ctx, "memory_log", err)
	}

	metadata := key.Metadata()
	metadata["source_kind"] = string(tenant.KindMemory)
	metadata["created_at"] = createdAt.Format(time.RFC3339)
	metadata["task"] = payload.Task
	metadata["agent"] = payload.Agent

	if err := h.upsert(ctx, key, tenant.KindMemory, payload.MemoryLogID, result.Vector, doc, metadata); err != nil {
		return h.fail(ctx, "memory_log", err)
	}

	// Best-effort backfill; the vector store is the search authority.
	if err := h.primary.UpdateMemoryLogEmbedding(ctx, key, payload.MemoryLogID, store.Vector(result.Vector)); err != nil {
		h.logger.Warn(ctx, "memory log embedding backfill failed",
			zap.Int64("memory_log_id", payload.MemoryLogID), zap.Error(err))
	}

	h.logger.Info(ctx, "memory log ingested",
		zap.Int64("memory_log_id", payload.MemoryLogID))
	return nil
}

func (h *Handlers) handleMentalNote(ctx context.Context, evt events.Event) error {
	var payload MentalNoteStored
	if err := events.DecodePayload(evt, &payload); err != nil {
		return h.fail(ctx, "mental_note", fmt.Errorf("decoding payload: %w", err))
	}
	key := tenant.Key{UserID: payload.UserID, ProjectID: payload.ProjectID}
	if err := key.Validate(); err != nil {
		return h.fail(ctx, "mental_note", err)
	}
	if payload.MentalNoteID <= 0 || len(payload.RawData) == 0 {
		return h.fail(ctx, "mental_note", fmt.Errorf("missing id or raw_data"))
	}
	ctx = tenant.NewContext(ctx, key)

	text := conversation.MentalNoteText(payload.RawData)
	if text == "" {
		return h.fail(ctx, "mental_note", fmt.Errorf("note has no content"))
	}
	createdAt := time.UnixMilli(payload.StartTime).UTC()

	result, err := h.embed(ctx, text)
	if err != nil {
		return h.fail(ctx, "mental_note", err)
	}

	doc, err := conversation.Encode(conversation.NoteDocument{
		ID:        payload.MentalNoteID,
		SessionID: payload.SessionID,
		StartTime: payload.StartTime,
		Content:   text,
	})
	if err != nil {
		return h.fail(ctx, "mental_note", err)
	}

	metadata := key.Metadata()
	metadata["source_kind"] = string(tenant.KindMentalNote)
	metadata["created_at"] = createdAt.Format(time.RFC3339)
	metadata["session_id"] = payload.SessionID

	if err := h.upsert(ctx, key, tenant.KindMentalNote, payload.MentalNoteID, result.Vector, doc, metadata); err != nil {
		return h.fail(ctx, "mental_note", err)
	}

	if err := h.primary.UpdateMentalNoteEmbedding(ctx, key, payload.MentalNoteID, store.Vector(result.Vector)); err != nil {
		h.logger.Warn(ctx, "mental note embedding backfill failed",
			zap.Int64("mental_note_id", payload.MentalNoteID), zap.Error(err))
	}

	h.logger.Info(ctx, "mental note ingested",
		zap.Int64("mental_note_id", payload.MentalNoteID))
	return nil
}

func (h *Handlers) handleConversation(ctx context.Context, evt events.Event) error {
	var payload ConversationStored
	if err := events.DecodePayload(evt, &payload); err != nil {
		return h.fail(ctx, "conversation", fmt.Errorf("decoding payload: %w", err))
	}
	key := tenant.Key{UserID: payload.UserID, ProjectID: payload.ProjectID}
	if err := key.Validate(); err != nil {
		return h.fail(ctx, "conversation", err)
	}
	if payload.ConversationDBID <= 0 || len(payload.RawData) == 0 {
		return h.fail(ctx, "conversation", fmt.Errorf("missing id or raw_data"))
	}
	ctx = tenant.NewContext(ctx, key)

	text, err := conversation.ConversationText(ctx, payload.RawData, h.compressor)
	if err != nil {
		return h.fail(ctx, "conversation", err)
	}

	result, err := h.embed(ctx, text)
	if err != nil {
		return h.fail(ctx, "conversation", err)
	}

	turns, err := conversation.ParseTurns(payload.RawData)
	if err != nil {
		return h.fail(ctx, "conversation", err)
	}
	createdAt := payload.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	doc, err := conversation.Encode(conversation.Document{
		ID:             payload.ConversationDBID,
		ConversationID: payload.ConversationID,
		SessionID:      payload.SessionID,
		Model:          payload.Model,
		CreatedAt:      createdAt,
		Turns:          conversation.Redact(turns),
	})
	if err != nil {
		return h.fail(ctx, "conversation", err)
	}

	metadata := key.Metadata()
	metadata["source_kind"] = string(tenant.KindConversation)
	metadata["created_at"] = createdAt.UTC().Format(time.RFC3339)
	metadata["conversation_id"] = payload.ConversationID
	metadata["model"] = payload.Model

	if err := h.upsert(ctx, key, tenant.KindConversation, payload.ConversationDBID, result.Vector, doc, metadata); err != nil {
		return h.fail(ctx, "conversation", err)
	}

	// Conversations never backfill the primary store; their embeddings live
	// only in the vector store.
	h.logger.Info(ctx, "conversation ingested",
		zap.Int64("conversation_db_id", payload.ConversationDBID),
		zap.String("conversation_id", payload.ConversationID))
	return nil
}

// embed centralizes redaction ahead of every embedding call.
func (h *Handlers) embed(ctx context.Context, text string) (*embeddings.Result, error) {
	text = redact.MemoryBlocks(text)
	if text == "" {
		return nil, fmt.Errorf("no searchable text after redaction")
	}
	result, err := h.embedder.Embed(ctx, text, "")
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	return result, nil
}

// upsert writes the vector record keyed by the source id, so redelivery is
// idempotent.
func (h *Handlers) upsert(ctx context.Context, key tenant.Key, kind tenant.SourceKind, sourceID int64, vector []float32, doc string, metadata map[string]any) error {
	collection, err := tenant.CollectionName(key, kind)
	if err != nil {
		return err
	}
	rec := vectorstore.Record{
		ID:        strconv.FormatInt(sourceID, 10),
		Embedding: vector,
		Document:  doc,
		Metadata:  metadata,
	}
	if err := h.vectors.Upsert(ctx, collection, rec); err != nil {
		return fmt.Errorf("vector upsert: %w", err)
	}
	return nil
}

func (h *Handlers) fail(ctx context.Context, kind string, err error) error {
	h.failures.Add(1)
	h.logger.Error(ctx, "ingestion failed",
		zap.String("source_kind", kind), zap.Error(err))
	return err
}

var dateLayouts = []string{time.RFC3339, "2006-01-02"}

func parseDate(s string) time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
