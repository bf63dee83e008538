package icm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicIntent(t *testing.T) {
	h := NewHeuristic()
	ctx := context.Background()

	tests := []struct {
		name     string
		text     string
		strategy Strategy
		seeded   bool
	}{
		{"greeting", "hello!", StrategyNone, false},
		{"thanks", "thanks", StrategyNone, false},
		{"memory cue", "do you remember the auth fix?", StrategyConversations, true},
		{"discussed cue", "we discussed the rollout plan", StrategyConversations, true},
		{"time expression", "show me the notes from yesterday", StrategyConversations, true},
		{"question", "how do I rotate the signing key?", StrategyHybrid, true},
		{"statement", "the deploy finished without issues", StrategyWorldView, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.ClassifyIntent(ctx, tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.strategy, result.RetrievalStrategy)
			if tt.seeded {
				require.Len(t, result.RequiredMemory, 1)
			} else {
				assert.Empty(t, result.RequiredMemory)
			}
			assert.GreaterOrEqual(t, result.Confidence, 0.0)
			assert.LessOrEqual(t, result.Confidence, 1.0)
			assert.NotNil(t, result.Fallback)
		})
	}
}

func TestHeuristicIntentDeterministic(t *testing.T) {
	h := NewHeuristic()
	ctx := context.Background()

	a, err := h.ClassifyIntent(ctx, "what did we decide about caching?")
	require.NoError(t, err)
	b, err := h.ClassifyIntent(ctx, "what did we decide about caching?")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHeuristicTimeYesterday(t *testing.T) {
	h := NewHeuristic()
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)

	result, err := h.ClassifyTime(context.Background(), "what happened yesterday?", now, 0)
	require.NoError(t, err)
	require.True(t, result.HasWindow())

	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), *result.StartTime)
	assert.Equal(t, time.Date(2024, 3, 9, 23, 59, 59, 0, time.UTC), *result.EndTime)
	assert.Equal(t, GranularityDay, result.Granularity)
	assert.Equal(t, "yesterday", result.TimeExpression)
}

func TestHeuristicTimeHonorsOffset(t *testing.T) {
	h := NewHeuristic()
	// 01:00 UTC is already March 10 local at UTC+2.
	now := time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)

	result, err := h.ClassifyTime(context.Background(), "yesterday", now, 120)
	require.NoError(t, err)
	require.True(t, result.HasWindow())

	// Local March 9 spans 22:00 March 8 to 21:59:59 March 9 in UTC.
	assert.Equal(t, time.Date(2024, 3, 8, 22, 0, 0, 0, time.UTC), *result.StartTime)
	assert.Equal(t, time.Date(2024, 3, 9, 21, 59, 59, 0, time.UTC), *result.EndTime)
}

func TestHeuristicTimeDaysAgo(t *testing.T) {
	h := NewHeuristic()
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)

	result, err := h.ClassifyTime(context.Background(), "the incident 3 days ago", now, 0)
	require.NoError(t, err)
	require.True(t, result.HasWindow())
	assert.Equal(t, time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC), *result.StartTime)
	assert.Equal(t, GranularityDay, result.Granularity)
}

func TestHeuristicTimeLastWeek(t *testing.T) {
	h := NewHeuristic()
	// March 10 2024 is a Sunday; its week starts Monday March 4.
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)

	result, err := h.ClassifyTime(context.Background(), "the meeting last week", now, 0)
	require.NoError(t, err)
	require.True(t, result.HasWindow())
	assert.Equal(t, time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC), *result.StartTime)
	assert.Equal(t, time.Date(2024, 3, 3, 23, 59, 59, 0, time.UTC), *result.EndTime)
	assert.Equal(t, GranularityWeek, result.Granularity)
}

func TestHeuristicTimeNoExpression(t *testing.T) {
	h := NewHeuristic()

	result, err := h.ClassifyTime(context.Background(), "tell me about the auth bug", time.Now(), 0)
	require.NoError(t, err)
	assert.False(t, result.HasWindow())
	assert.Nil(t, result.StartTime)
	assert.Nil(t, result.EndTime)
	assert.Equal(t, GranularityUnknown, result.Granularity)
	assert.Zero(t, result.ResolutionConfidence)
}
