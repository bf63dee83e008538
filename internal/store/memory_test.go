package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/semantixd/internal/tenant"
)

var (
	alice = tenant.Key{UserID: "alice", ProjectID: "proj"}
	bob   = tenant.Key{UserID: "bob", ProjectID: "proj"}
)

func strPtr(s string) *string { return &s }

func TestMemoryLogLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	log := &MemoryLog{
		UserID:    alice.UserID,
		ProjectID: alice.ProjectID,
		Task:      "fix auth bug",
		Agent:     "builder",
		RawData:   []byte(`{"content":"fixed token refresh","task":"fix auth bug"}`),
	}
	require.NoError(t, s.InsertMemoryLog(ctx, log))
	require.NotZero(t, log.ID)
	assert.False(t, log.CreatedAt.IsZero())

	got, err := s.GetMemoryLog(ctx, alice, log.ID)
	require.NoError(t, err)
	assert.Equal(t, "fix auth bug", got.Task)
	assert.Nil(t, got.Embedding)

	require.NoError(t, s.UpdateMemoryLogEmbedding(ctx, alice, log.ID, Vector{1, 2, 3}))
	got, err = s.GetMemoryLog(ctx, alice, log.ID)
	require.NoError(t, err)
	assert.Equal(t, Vector{1, 2, 3}, got.Embedding)

	require.NoError(t, s.DeleteMemoryLog(ctx, alice, log.ID))
	_, err = s.GetMemoryLog(ctx, alice, log.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTenantScopedReads(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	log := &MemoryLog{
		UserID:    alice.UserID,
		ProjectID: alice.ProjectID,
		RawData:   []byte(`{"content":"private"}`),
	}
	require.NoError(t, s.InsertMemoryLog(ctx, log))

	_, err := s.GetMemoryLog(ctx, bob, log.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteMemoryLog(ctx, bob, log.ID), ErrNotFound)
	assert.ErrorIs(t, s.UpdateMemoryLogEmbedding(ctx, bob, log.ID, Vector{1}), ErrNotFound)
}

func TestInsertValidation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.InsertMemoryLog(ctx, &MemoryLog{UserID: "", ProjectID: "p", RawData: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	err = s.InsertConversation(ctx, &Conversation{UserID: "u", ProjectID: "p"})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestRecentConversationsOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		conv := &Conversation{
			ConversationID: "conv",
			UserID:         alice.UserID,
			ProjectID:      alice.ProjectID,
			Model:          "gpt-4",
			CreatedAt:      base.Add(time.Duration(i) * time.Hour),
			RawData:        []byte(`[{"role":"user","text":"hi"}]`),
		}
		require.NoError(t, s.InsertConversation(ctx, conv))
	}

	recent, err := s.RecentConversations(ctx, alice, 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	for i := 1; i < len(recent); i++ {
		assert.True(t, !recent[i-1].CreatedAt.Before(recent[i].CreatedAt),
			"conversations must be newest first")
	}
	assert.Equal(t, base.Add(6*time.Hour), recent[0].CreatedAt)

	count, err := s.CountConversations(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestCountConversationsInSession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sid := "session-1"
		if i == 2 {
			sid = "session-2"
		}
		require.NoError(t, s.InsertConversation(ctx, &Conversation{
			ConversationID: "conv",
			UserID:         alice.UserID,
			ProjectID:      alice.ProjectID,
			SessionID:      strPtr(sid),
			RawData:        []byte(`[]`),
		}))
	}

	count, err := s.CountConversationsInSession(ctx, alice, "session-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = s.CountConversationsInSession(ctx, bob, "session-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCountConversationsInWindow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	jan := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertConversation(ctx, &Conversation{
		ConversationID: "conv",
		UserID:         alice.UserID,
		ProjectID:      alice.ProjectID,
		CreatedAt:      jan,
		RawData:        []byte(`[]`),
	}))

	count, err := s.CountConversationsInWindow(ctx, alice,
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, count, "window outside all records must count zero")

	count, err = s.CountConversationsInWindow(ctx, alice, jan, jan)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "window bounds are inclusive")
}

func TestCountMemoryLogsInWindow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	feb := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertMemoryLog(ctx, &MemoryLog{
		UserID:    alice.UserID,
		ProjectID: alice.ProjectID,
		Task:      "fix auth bug",
		CreatedAt: feb,
		RawData:   []byte(`{}`),
	}))

	count, err := s.CountMemoryLogsInWindow(ctx, alice,
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = s.CountMemoryLogsInWindow(ctx, bob,
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, count, "counts are tenant-scoped")
}

func TestAuditLogsAppend(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.InsertICMLog(ctx, &ICMLog{
		RequestID: "req-1",
		UserID:    alice.UserID,
		ProjectID: alice.ProjectID,
		ICMType:   ICMTypeIntent,
		Payload:   []byte(`{"intent":"recall"}`),
	}))
	require.NoError(t, s.InsertRetrievalLog(ctx, &RetrievalLog{
		RequestID: "req-1",
		UserID:    alice.UserID,
		ProjectID: alice.ProjectID,
		Target:    RetrievalTargetSkipped,
		Query:     "hello",
	}))
	require.NoError(t, s.InsertRequestLog(ctx, &RequestLog{
		RequestID:     "req-1",
		UserID:        alice.UserID,
		ProjectID:     alice.ProjectID,
		Query:         "hello",
		Limit:         10,
		MinSimilarity: 0.7,
		Outcome:       "short_circuited",
	}))

	assert.Len(t, s.ICMLogs(ICMTypeIntent), 1)
	assert.Empty(t, s.ICMLogs(ICMTypeRetrieval))

	logs := s.RetrievalLogs()
	require.Len(t, logs, 1)
	assert.JSONEq(t, `[]`, string(logs[0].Results), "empty results default to a JSON array")

	require.Len(t, s.RequestLogs(), 1)
}

func TestMentalNoteLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	note := &MentalNote{
		UserID:    alice.UserID,
		ProjectID: alice.ProjectID,
		SessionID: "session-1",
		StartTime: 1709290000000,
		RawData:   []byte(`{"content":"user prefers terse answers","note_type":"preference"}`),
	}
	require.NoError(t, s.InsertMentalNote(ctx, note))

	require.NoError(t, s.UpdateMentalNoteEmbedding(ctx, alice, note.ID, Vector{0.5}))
	got, err := s.GetMentalNote(ctx, alice, note.ID)
	require.NoError(t, err)
	assert.Equal(t, Vector{0.5}, got.Embedding)

	require.NoError(t, s.DeleteMentalNote(ctx, alice, note.ID))
	_, err = s.GetMentalNote(ctx, alice, note.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
