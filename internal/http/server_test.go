package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/semantixd/internal/compression"
	"github.com/fyrsmithlabs/semantixd/internal/conversation"
	"github.com/fyrsmithlabs/semantixd/internal/embeddings"
	"github.com/fyrsmithlabs/semantixd/internal/icm"
	"github.com/fyrsmithlabs/semantixd/internal/identity"
	"github.com/fyrsmithlabs/semantixd/internal/logging"
	"github.com/fyrsmithlabs/semantixd/internal/pipeline"
	"github.com/fyrsmithlabs/semantixd/internal/redact"
	"github.com/fyrsmithlabs/semantixd/internal/retrieval"
	"github.com/fyrsmithlabs/semantixd/internal/store"
	"github.com/fyrsmithlabs/semantixd/internal/tenant"
	"github.com/fyrsmithlabs/semantixd/internal/vectorstore"
	"github.com/fyrsmithlabs/semantixd/internal/worldview"
)

var alice = tenant.Key{UserID: "alice", ProjectID: "proj"}

type fakeIntent struct {
	result *icm.IntentResult
}

func (f *fakeIntent) ClassifyIntent(ctx context.Context, text string) (*icm.IntentResult, error) {
	return f.result, nil
}

type fakeTime struct{}

func (f *fakeTime) ClassifyTime(ctx context.Context, text string, now time.Time, tz int) (*icm.TimeResult, error) {
	return &icm.TimeResult{Granularity: icm.GranularityUnknown}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text, model string) (*embeddings.Result, error) {
	return &embeddings.Result{Vector: []float32{1, 0, 0}, Model: "fake-model", Provider: "fake", Dimensions: 3}, nil
}

type fixture struct {
	server  *Server
	primary *store.MemoryStore
	vectors *vectorstore.ChromemStore
	intent  *fakeIntent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	minSim := 0.5
	return newFixtureWithConfig(t, &Config{
		DefaultLimit:         10,
		MaxLimit:             50,
		DefaultMinSimilarity: &minSim,
	})
}

func newFixtureWithConfig(t *testing.T, cfg *Config) *fixture {
	t.Helper()
	primary := store.NewMemoryStore()
	vectors, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Dimension: 3}, nil)
	require.NoError(t, err)

	intent := &fakeIntent{result: &icm.IntentResult{
		Intent:            "question",
		RetrievalStrategy: icm.StrategyConversations,
		RequiredMemory:    []string{"the auth bug"},
		Confidence:        0.8,
	}}

	builder := worldview.NewBuilder(primary,
		compression.NewExtractive(compression.DefaultConfig()), nil,
		worldview.Config{RecentLimit: 5}, nil)
	engine := retrieval.NewEngine(fakeEmbedder{}, vectors, primary, nil, retrieval.Config{Fanout: 4}, nil)
	p := pipeline.New(intent, &fakeTime{}, primary, identity.NewStaticProvider(nil), builder, engine, nil)

	server, err := NewServer(p, nil, primary, logging.NewNop(), cfg)
	require.NoError(t, err)

	return &fixture{server: server, primary: primary, vectors: vectors, intent: intent}
}

func (f *fixture) seedConversationVector(t *testing.T, convID string, vec []float32) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	conv := &store.Conversation{
		ConversationID: convID,
		UserID:         alice.UserID,
		ProjectID:      alice.ProjectID,
		Model:          "gpt-4",
		CreatedAt:      now,
		RawData:        []byte(`[{"role":"user","text":"about ` + convID + `"}]`),
	}
	require.NoError(t, f.primary.InsertConversation(ctx, conv))

	doc, err := conversation.Encode(conversation.Document{
		ID:             conv.ID,
		ConversationID: convID,
		Model:          "gpt-4",
		CreatedAt:      now,
		Turns:          []conversation.Turn{{Role: "user", Text: "about " + convID}},
	})
	require.NoError(t, err)

	col, err := tenant.CollectionName(alice, tenant.KindConversation)
	require.NoError(t, err)
	require.NoError(t, f.vectors.Upsert(ctx, col, vectorstore.Record{
		ID:        convID,
		Embedding: vec,
		Document:  doc,
		Metadata: map[string]any{
			"user_id":     alice.UserID,
			"project_id":  alice.ProjectID,
			"source_kind": "conversation",
			"created_at":  now.Format(time.RFC3339),
		},
	}))
}

func (f *fixture) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/fetch-memory", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	f.server.echo.ServeHTTP(rec, req)
	return rec
}

func TestFetchMemoryHappyPath(t *testing.T) {
	f := newFixture(t)
	f.seedConversationVector(t, "close", []float32{1, 0, 0})

	rec := f.post(t, `{"query":"what was the auth bug?","user_id":"alice","project_id":"proj"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp FetchMemoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Memory, redact.BlockStart)
	assert.Contains(t, resp.Memory, redact.BlockEnd)
	assert.Contains(t, resp.Memory, "about close")

	logs := f.primary.RequestLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "ran", logs[0].Outcome)
	assert.Equal(t, "alice", logs[0].UserID)
	assert.Equal(t, 10, logs[0].Limit)
}

func TestFetchMemoryNoResults(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, `{"query":"anything at all","user_id":"alice","project_id":"proj"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp FetchMemoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "No relevant memories found.", resp.Memory)
}

func TestFetchMemoryValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		body string
	}{
		{"blank query", `{"query":"  ","user_id":"alice","project_id":"proj"}`},
		{"missing tenant", `{"query":"hello","user_id":"alice"}`},
		{"limit above max", `{"query":"hello","user_id":"alice","project_id":"proj","limit":51}`},
		{"limit not positive", `{"query":"hello","user_id":"alice","project_id":"proj","limit":0}`},
		{"similarity out of range", `{"query":"hello","user_id":"alice","project_id":"proj","min_similarity":1.5}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.post(t, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	assert.Empty(t, f.primary.RequestLogs(), "rejected requests are not logged")
}

func TestFetchMemoryRequestOverrides(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, `{"query":"hello","user_id":"alice","project_id":"proj","limit":3,"min_similarity":0.9}`)
	require.Equal(t, http.StatusOK, rec.Code)

	logs := f.primary.RequestLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, 3, logs[0].Limit)
	assert.Equal(t, 0.9, logs[0].MinSimilarity)
}

func TestFetchMemoryZeroDefaultMinSimilarity(t *testing.T) {
	zero := 0.0
	f := newFixtureWithConfig(t, &Config{
		DefaultLimit:         10,
		MaxLimit:             50,
		DefaultMinSimilarity: &zero,
	})

	// An explicit 0.0 default must survive, not get coerced to 0.7.
	rec := f.post(t, `{"query":"hello","user_id":"alice","project_id":"proj"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	logs := f.primary.RequestLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, 0.0, logs[0].MinSimilarity)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.server.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestSynthesizeRendersTurns(t *testing.T) {
	out := &pipeline.ResultSet{
		Results: []retrieval.Result{{
			ID:         "1",
			Source:     retrieval.SourceConversations,
			Similarity: 0.9,
			CreatedAt:  time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
			Topic:      "auth bug",
			Turns: []conversation.Turn{
				{Role: conversation.RoleUser, Text: "what broke?"},
				{Role: conversation.RoleAssistant, Text: "token rotation"},
			},
		}},
	}

	memory := synthesize(out)
	assert.True(t, strings.HasPrefix(memory, redact.BlockStart))
	assert.True(t, strings.HasSuffix(memory, redact.BlockEnd))
	assert.Contains(t, memory, "[conversations 2024-03-10] auth bug")
	assert.Contains(t, memory, "User: what broke?")
	assert.Contains(t, memory, "Assistant: token rotation")
}
