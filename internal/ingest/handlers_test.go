package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/semantixd/internal/compression"
	"github.com/fyrsmithlabs/semantixd/internal/conversation"
	"github.com/fyrsmithlabs/semantixd/internal/embeddings"
	"github.com/fyrsmithlabs/semantixd/internal/events"
	"github.com/fyrsmithlabs/semantixd/internal/redact"
	"github.com/fyrsmithlabs/semantixd/internal/store"
	"github.com/fyrsmithlabs/semantixd/internal/tenant"
	"github.com/fyrsmithlabs/semantixd/internal/vectorstore"
)

var alice = tenant.Key{UserID: "alice", ProjectID: "proj"}

// recordingEmbedder captures every embedded text.
type recordingEmbedder struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *recordingEmbedder) Embed(ctx context.Context, text, model string) (*embeddings.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.texts = append(r.texts, text)
	return &embeddings.Result{Vector: []float32{1, 0, 0}, Model: "fake-model", Provider: "fake", Dimensions: 3}, nil
}

func (r *recordingEmbedder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

type fixture struct {
	handlers *Handlers
	primary  *store.MemoryStore
	vectors  *vectorstore.ChromemStore
	embedder *recordingEmbedder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	primary := store.NewMemoryStore()
	vectors, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Dimension: 3}, nil)
	require.NoError(t, err)
	embedder := &recordingEmbedder{}
	h := NewHandlers(primary, vectors, embedder,
		compression.NewExtractive(compression.DefaultConfig()), nil)
	return &fixture{handlers: h, primary: primary, vectors: vectors, embedder: embedder}
}

func memoryLogEvent(id int64) events.Event {
	return events.Event{
		Topic: events.TopicMemoryLogStored,
		Payload: MemoryLogStored{
			MemoryLogID: id,
			Task:        "fix auth bug",
			Agent:       "builder",
			Date:        "2024-03-10",
			RawData: map[string]any{
				"task":    "fix auth bug",
				"summary": "refresh tokens were not rotated",
				"tags":    []any{"auth", "bug"},
			},
			UserID:    alice.UserID,
			ProjectID: alice.ProjectID,
		},
	}
}

func TestMemoryLogIngest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	log := &store.MemoryLog{
		UserID:    alice.UserID,
		ProjectID: alice.ProjectID,
		Task:      "fix auth bug",
		RawData:   []byte(`{"task":"fix auth bug"}`),
	}
	require.NoError(t, f.primary.InsertMemoryLog(ctx, log))

	evt := memoryLogEvent(log.ID)
	require.NoError(t, f.handlers.handleMemoryLog(ctx, evt))

	collection, err := tenant.CollectionName(alice, tenant.KindMemory)
	require.NoError(t, err)
	rec, err := f.vectors.Get(ctx, collection, "1")
	require.NoError(t, err)
	assert.Equal(t, alice.UserID, rec.Metadata["user_id"])
	assert.Equal(t, "memory", rec.Metadata["source_kind"])
	assert.Equal(t, "2024-03-10T00:00:00Z", rec.Metadata["created_at"])

	doc, err := conversation.DecodeMemoryDocument(rec.Document)
	require.NoError(t, err)
	assert.Equal(t, "fix auth bug", doc.Task)
	assert.Equal(t, []string{"auth", "bug"}, doc.Tags)

	// Backfill reached the primary row.
	stored, err := f.primary.GetMemoryLog(ctx, alice, log.ID)
	require.NoError(t, err)
	assert.Equal(t, store.Vector{1, 0, 0}, stored.Embedding)

	texts := f.embedder.all()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "refresh tokens were not rotated")
}

func TestMemoryLogIngestIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := memoryLogEvent(7)
	require.NoError(t, f.handlers.handleMemoryLog(ctx, evt))
	require.NoError(t, f.handlers.handleMemoryLog(ctx, evt))

	collection, err := tenant.CollectionName(alice, tenant.KindMemory)
	require.NoError(t, err)
	count, err := f.vectors.Count(ctx, collection)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "redelivery replaces, never duplicates")
}

func TestMemoryLogBackfillFailureNonFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No primary row with id 42: backfill misses but ingestion still lands.
	require.NoError(t, f.handlers.handleMemoryLog(ctx, memoryLogEvent(42)))
	assert.Zero(t, f.handlers.ErrorCount())

	collection, err := tenant.CollectionName(alice, tenant.KindMemory)
	require.NoError(t, err)
	_, err = f.vectors.Get(ctx, collection, "42")
	assert.NoError(t, err)
}

func TestMentalNoteIngest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)
	evt := events.Event{
		Topic: events.TopicMentalNoteStored,
		Payload: MentalNoteStored{
			MentalNoteID: 3,
			SessionID:    "session-1",
			StartTime:    start.UnixMilli(),
			RawData:      map[string]any{"content": "user prefers terse answers"},
			UserID:       alice.UserID,
			ProjectID:    alice.ProjectID,
		},
	}
	require.NoError(t, f.handlers.handleMentalNote(ctx, evt))

	collection, err := tenant.CollectionName(alice, tenant.KindMentalNote)
	require.NoError(t, err)
	rec, err := f.vectors.Get(ctx, collection, "3")
	require.NoError(t, err)
	assert.Equal(t, "session-1", rec.Metadata["session_id"])
	assert.Equal(t, start.Format(time.RFC3339), rec.Metadata["created_at"])

	texts := f.embedder.all()
	require.Len(t, texts, 1)
	assert.Equal(t, "user prefers terse answers", texts[0])
}

func TestConversationIngestRedacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw := `[
		{"role":"user","text":"what did we decide about caching?"},
		{"role":"assistant","text":"` + redact.BlockStart + ` injected memory ` + redact.BlockEnd + ` we went with an LRU"}
	]`
	sid := "session-1"
	evt := events.Event{
		Topic: events.TopicConversationStored,
		Payload: ConversationStored{
			ConversationDBID: 5,
			ConversationID:   "conv-abc",
			Model:            "gpt-4",
			RawData:          []byte(raw),
			UserID:           alice.UserID,
			ProjectID:        alice.ProjectID,
			SessionID:        &sid,
			CreatedAt:        time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
		},
	}
	require.NoError(t, f.handlers.handleConversation(ctx, evt))

	for _, text := range f.embedder.all() {
		assert.NotContains(t, text, redact.BlockStart)
		assert.NotContains(t, text, "injected memory")
	}

	collection, err := tenant.CollectionName(alice, tenant.KindConversation)
	require.NoError(t, err)
	rec, err := f.vectors.Get(ctx, collection, "5")
	require.NoError(t, err)
	assert.Equal(t, "conv-abc", rec.Metadata["conversation_id"])

	doc, err := conversation.DecodeDocument(rec.Document)
	require.NoError(t, err)
	require.NotNil(t, doc.SessionID)
	assert.Equal(t, "session-1", *doc.SessionID)
	for _, turn := range doc.Turns {
		assert.NotContains(t, turn.Text, redact.BlockStart)
	}
}

func TestEmbedFailureLeavesNoVectorWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.embedder.err = errors.New("rate limited")

	err := f.handlers.handleMemoryLog(ctx, memoryLogEvent(9))
	require.Error(t, err)
	assert.Equal(t, uint64(1), f.handlers.ErrorCount())

	collection, cerr := tenant.CollectionName(alice, tenant.KindMemory)
	require.NoError(t, cerr)
	_, err = f.vectors.Get(ctx, collection, "9")
	assert.ErrorIs(t, err, vectorstore.ErrRecordNotFound)
}

func TestRejectsInvalidPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := events.Event{
		Topic: events.TopicMemoryLogStored,
		Payload: MemoryLogStored{
			MemoryLogID: 1,
			RawData:     map[string]any{"task": "x"},
			UserID:      "", // missing tenant
			ProjectID:   alice.ProjectID,
		},
	}
	assert.Error(t, f.handlers.handleMemoryLog(ctx, evt))

	evt = memoryLogEvent(0)
	assert.Error(t, f.handlers.handleMemoryLog(ctx, evt))
	assert.Equal(t, uint64(2), f.handlers.ErrorCount())
}

func TestRegisterDeliversViaBus(t *testing.T) {
	f := newFixture(t)
	bus := events.NewInProcBus(nil)
	defer bus.Close()

	require.NoError(t, f.handlers.Register(bus))
	bus.Publish(context.Background(), memoryLogEvent(11))
	require.NoError(t, bus.Close())

	collection, err := tenant.CollectionName(alice, tenant.KindMemory)
	require.NoError(t, err)
	count, err := f.vectors.Count(context.Background(), collection)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
