package retrieval

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/semantixd/internal/conversation"
	"github.com/fyrsmithlabs/semantixd/internal/embeddings"
	"github.com/fyrsmithlabs/semantixd/internal/icm"
	"github.com/fyrsmithlabs/semantixd/internal/store"
	"github.com/fyrsmithlabs/semantixd/internal/tenant"
	"github.com/fyrsmithlabs/semantixd/internal/vectorstore"
)

var alice = tenant.Key{UserID: "alice", ProjectID: "proj"}

// countingEmbedder returns a fixed query vector and counts calls.
type countingEmbedder struct {
	calls atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text, model string) (*embeddings.Result, error) {
	c.calls.Add(1)
	return &embeddings.Result{
		Vector:     []float32{1, 0, 0},
		Model:      "fake-model",
		Provider:   "fake",
		Dimensions: 3,
	}, nil
}

// fixedTimeClassifier resolves every text to one window.
type fixedTimeClassifier struct {
	result *icm.TimeResult
}

func (f *fixedTimeClassifier) ClassifyTime(ctx context.Context, text string, now time.Time, tz int) (*icm.TimeResult, error) {
	return f.result, nil
}

type fixture struct {
	engine   *Engine
	embedder *countingEmbedder
	vectors  *vectorstore.ChromemStore
	primary  *store.MemoryStore
}

func newFixture(t *testing.T, timeClassifier icm.TimeClassifier) *fixture {
	t.Helper()
	vectors, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Dimension: 3}, nil)
	require.NoError(t, err)
	embedder := &countingEmbedder{}
	primary := store.NewMemoryStore()
	engine := NewEngine(embedder, vectors, primary, timeClassifier, Config{Fanout: 4}, nil)
	return &fixture{engine: engine, embedder: embedder, vectors: vectors, primary: primary}
}

// seedConversationVector writes one primary row plus its vector record.
func (f *fixture) seedConversationVector(t *testing.T, convID string, vec []float32, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()

	conv := &store.Conversation{
		ConversationID: convID,
		UserID:         alice.UserID,
		ProjectID:      alice.ProjectID,
		Model:          "gpt-4",
		CreatedAt:      createdAt,
		RawData:        []byte(`[{"role":"user","text":"topic of ` + convID + `"}]`),
	}
	require.NoError(t, f.primary.InsertConversation(ctx, conv))

	doc, err := conversation.Encode(conversation.Document{
		ID:             conv.ID,
		ConversationID: convID,
		Model:          "gpt-4",
		CreatedAt:      createdAt,
		Turns:          []conversation.Turn{{Role: "user", Text: "topic of " + convID}},
	})
	require.NoError(t, err)

	collection, err := tenant.CollectionName(alice, tenant.KindConversation)
	require.NoError(t, err)
	require.NoError(t, f.vectors.Upsert(ctx, collection, vectorstore.Record{
		ID:        convID,
		Embedding: vec,
		Document:  doc,
		Metadata: map[string]any{
			"user_id":     alice.UserID,
			"project_id":  alice.ProjectID,
			"source_kind": "conversation",
			"created_at":  createdAt.UTC().Format(time.RFC3339),
		},
	}))
}

func TestRetrieveNoneStrategy(t *testing.T) {
	f := newFixture(t, nil)

	results, err := f.engine.Retrieve(context.Background(), Request{
		Tenant:         alice,
		Strategy:       icm.StrategyNone,
		RequiredMemory: []string{"anything"},
		Limit:          5,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, f.embedder.calls.Load(), "strategy none must not embed")
}

func TestRetrieveEmptyRequiredMemory(t *testing.T) {
	f := newFixture(t, nil)

	results, err := f.engine.Retrieve(context.Background(), Request{
		Tenant:   alice,
		Strategy: icm.StrategyConversations,
		Limit:    5,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveWorldView(t *testing.T) {
	f := newFixture(t, nil)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		require.NoError(t, f.primary.InsertConversation(context.Background(), &store.Conversation{
			ConversationID: "conv",
			UserID:         alice.UserID,
			ProjectID:      alice.ProjectID,
			CreatedAt:      base.Add(time.Duration(i) * time.Hour),
			RawData:        []byte(`[{"role":"user","text":"hello"}]`),
		}))
	}

	results, err := f.engine.Retrieve(context.Background(), Request{
		Tenant:         alice,
		Strategy:       icm.StrategyWorldView,
		RequiredMemory: []string{"context"},
		Limit:          5,
	})
	require.NoError(t, err)
	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, SourceWorldView, r.Source)
		assert.Equal(t, float32(1.0), r.Similarity)
		if i > 0 {
			assert.True(t, !results[i-1].CreatedAt.Before(r.CreatedAt))
		}
	}
	assert.Zero(t, f.embedder.calls.Load(), "world view must not embed")
}

func TestRetrieveWorldViewRecentBound(t *testing.T) {
	f := newFixture(t, nil)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		require.NoError(t, f.primary.InsertConversation(context.Background(), &store.Conversation{
			ConversationID: "conv",
			UserID:         alice.UserID,
			ProjectID:      alice.ProjectID,
			CreatedAt:      base.Add(time.Duration(i) * time.Hour),
			RawData:        []byte(`[{"role":"user","text":"hello"}]`),
		}))
	}

	// A caller limit above the recent bound must not widen the fetch.
	results, err := f.engine.Retrieve(context.Background(), Request{
		Tenant:         alice,
		Strategy:       icm.StrategyWorldView,
		RequiredMemory: []string{"context"},
		Limit:          10,
	})
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestRetrieveDefaultLimitWhenOmitted(t *testing.T) {
	f := newFixture(t, nil)
	f.engine = NewEngine(f.embedder, f.vectors, f.primary, nil, Config{Fanout: 4, DefaultLimit: 2}, nil)
	now := time.Now().UTC()
	f.seedConversationVector(t, "a", []float32{1, 0, 0}, now)
	f.seedConversationVector(t, "b", []float32{0.95, 0.1, 0}, now)
	f.seedConversationVector(t, "c", []float32{0.9, 0.2, 0}, now)

	results, err := f.engine.Retrieve(context.Background(), Request{
		Tenant:         alice,
		Strategy:       icm.StrategyConversations,
		RequiredMemory: []string{"the topic"},
	})
	require.NoError(t, err)
	assert.Len(t, results, 2, "omitted limit falls back to the configured default")
}

func TestRetrieveSimilarityOrderingAndFilter(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Now().UTC()
	f.seedConversationVector(t, "close", []float32{1, 0, 0}, now)
	f.seedConversationVector(t, "near", []float32{0.9, 0.4, 0}, now)
	f.seedConversationVector(t, "far", []float32{0, 1, 0}, now)

	results, err := f.engine.Retrieve(context.Background(), Request{
		Tenant:         alice,
		Strategy:       icm.StrategyConversations,
		RequiredMemory: []string{"the topic"},
		Limit:          10,
		MinSimilarity:  0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 2, "hit below min_similarity is dropped")
	assert.Equal(t, "close", results[0].ConversationID)
	assert.Equal(t, "near", results[1].ConversationID)
	for _, r := range results {
		assert.GreaterOrEqual(t, float64(r.Similarity), 0.5)
		assert.Equal(t, SourceConversations, r.Source)
		assert.Equal(t, "the topic", r.RequiredItem)
		assert.NotEmpty(t, r.Turns)
	}
	assert.Equal(t, int64(1), f.embedder.calls.Load())
}

func TestRetrieveTimeGateBlocksEmbedding(t *testing.T) {
	f := newFixture(t, nil)
	jan := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	f.seedConversationVector(t, "january", []float32{1, 0, 0}, jan)

	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)

	results, err := f.engine.Retrieve(context.Background(), Request{
		Tenant:         alice,
		Strategy:       icm.StrategyConversations,
		RequiredMemory: []string{"meeting notes"},
		Limit:          5,
		WindowStart:    &start,
		WindowEnd:      &end,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, f.embedder.calls.Load(),
		"no embedding call after an empty time-only fetch")
}

func TestRetrieveTimeWindowPass(t *testing.T) {
	f := newFixture(t, nil)
	jan := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC)
	f.seedConversationVector(t, "january", []float32{1, 0, 0}, jan)
	f.seedConversationVector(t, "february", []float32{1, 0, 0}, feb)

	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)

	results, err := f.engine.Retrieve(context.Background(), Request{
		Tenant:         alice,
		Strategy:       icm.StrategyConversations,
		RequiredMemory: []string{"meeting notes"},
		Limit:          5,
		WindowStart:    &start,
		WindowEnd:      &end,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "february", results[0].ConversationID)
	assert.Equal(t, int64(1), f.embedder.calls.Load())
}

func TestRetrieveLateTimeResolution(t *testing.T) {
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)
	classifier := &fixedTimeClassifier{result: &icm.TimeResult{
		TimeExpression: "last month",
		StartTime:      &start,
		EndTime:        &end,
		Granularity:    icm.GranularityMonth,
	}}

	f := newFixture(t, classifier)
	f.seedConversationVector(t, "january", []float32{1, 0, 0},
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))

	results, err := f.engine.Retrieve(context.Background(), Request{
		Tenant:         alice,
		Strategy:       icm.StrategyConversations,
		RequiredMemory: []string{"notes"},
		Limit:          5,
		TimeText:       "last month",
		Now:            time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Empty(t, results, "resolved window excludes the only record")
	assert.Zero(t, f.embedder.calls.Load())
}

func TestRetrieveHybridQueriesMemoryCollection(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	memDoc, err := conversation.Encode(conversation.MemoryDocument{
		ID:        1,
		Task:      "fix auth bug",
		CreatedAt: now,
		Content:   "fix auth bug serialize refresh",
	})
	require.NoError(t, err)

	memCollection, err := tenant.CollectionName(alice, tenant.KindMemory)
	require.NoError(t, err)
	require.NoError(t, f.vectors.Upsert(ctx, memCollection, vectorstore.Record{
		ID:        "1",
		Embedding: []float32{1, 0, 0},
		Document:  memDoc,
		Metadata: map[string]any{
			"user_id":     alice.UserID,
			"project_id":  alice.ProjectID,
			"source_kind": "memory",
			"created_at":  now.Format(time.RFC3339),
		},
	}))

	results, err := f.engine.Retrieve(ctx, Request{
		Tenant:         alice,
		Strategy:       icm.StrategyHybrid,
		RequiredMemory: []string{"auth bug"},
		Limit:          5,
		MinSimilarity:  0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, SourceMemory, results[0].Source)
	assert.Equal(t, "fix auth bug", results[0].Topic)
}

func TestRetrieveHybridTimeGateSeesMemoryLogs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	feb := time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC)

	require.NoError(t, f.primary.InsertMemoryLog(ctx, &store.MemoryLog{
		UserID:    alice.UserID,
		ProjectID: alice.ProjectID,
		Task:      "fix auth bug",
		CreatedAt: feb,
		RawData:   []byte(`{"task":"fix auth bug"}`),
	}))

	memDoc, err := conversation.Encode(conversation.MemoryDocument{
		ID:        1,
		Task:      "fix auth bug",
		CreatedAt: feb,
		Content:   "fix auth bug serialize refresh",
	})
	require.NoError(t, err)

	memCollection, err := tenant.CollectionName(alice, tenant.KindMemory)
	require.NoError(t, err)
	require.NoError(t, f.vectors.Upsert(ctx, memCollection, vectorstore.Record{
		ID:        "1",
		Embedding: []float32{1, 0, 0},
		Document:  memDoc,
		Metadata: map[string]any{
			"user_id":     alice.UserID,
			"project_id":  alice.ProjectID,
			"source_kind": "memory",
			"created_at":  feb.Format(time.RFC3339),
		},
	}))

	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)

	// The tenant has no conversations at all; an in-window memory log must
	// still pass the hybrid time gate.
	results, err := f.engine.Retrieve(ctx, Request{
		Tenant:         alice,
		Strategy:       icm.StrategyHybrid,
		RequiredMemory: []string{"auth bug"},
		Limit:          5,
		MinSimilarity:  0.5,
		WindowStart:    &start,
		WindowEnd:      &end,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, SourceMemory, results[0].Source)
	assert.Equal(t, int64(1), f.embedder.calls.Load())
}

func TestRetrieveLimitCapsUnion(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Now().UTC()
	f.seedConversationVector(t, "a", []float32{1, 0, 0}, now)
	f.seedConversationVector(t, "b", []float32{0.95, 0.1, 0}, now)
	f.seedConversationVector(t, "c", []float32{0.9, 0.2, 0}, now)

	results, err := f.engine.Retrieve(context.Background(), Request{
		Tenant:         alice,
		Strategy:       icm.StrategyConversations,
		RequiredMemory: []string{"q1", "q2"},
		Limit:          2,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 2)
	assert.Equal(t, int64(2), f.embedder.calls.Load(), "one embed per required item")
}
