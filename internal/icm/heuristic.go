package icm

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Heuristic is the deterministic offline classifier. Intent comes from
// keyword tables; time windows from a small set of relative expressions
// resolved against the reference instant and timezone offset.
type Heuristic struct{}

// NewHeuristic creates the offline classifier.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

var greetingPhrases = []string{
	"hi", "hello", "hey", "thanks", "thank you", "good morning",
	"good afternoon", "good evening", "bye", "goodbye", "ok", "okay",
}

var memoryCues = []string{
	"remember", "recall", "what did", "what was", "last time", "previously",
	"we discussed", "we talked", "did we", "did i", "have we", "you said",
	"earlier", "before", "again",
}

var questionWords = []string{
	"what", "how", "why", "when", "where", "who", "which",
	"can", "could", "should", "is", "are", "do", "does",
}

// ClassifyIntent maps user text to an intent via keyword tables.
func (h *Heuristic) ClassifyIntent(ctx context.Context, text string) (*IntentResult, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))

	result := &IntentResult{
		RequiredMemory: []string{},
		Entities:       []map[string]any{},
		Fallback:       &Fallback{Intent: "general", Route: "world_view"},
		Notes:          "heuristic classification",
	}

	if isGreeting(normalized) {
		result.Intent = "greeting"
		result.Route = "direct"
		result.RetrievalStrategy = StrategyNone
		result.Confidence = 0.9
		return result, nil
	}

	if containsAny(normalized, memoryCues) || timeExpressionPattern.MatchString(normalized) {
		result.Intent = "memory_recall"
		result.Route = "memory"
		result.RetrievalStrategy = StrategyConversations
		result.RequiredMemory = []string{strings.TrimSpace(text)}
		result.Confidence = 0.8
		return result, nil
	}

	if startsWithAny(normalized, questionWords) {
		result.Intent = "question"
		result.Route = "memory"
		result.RetrievalStrategy = StrategyHybrid
		result.RequiredMemory = []string{strings.TrimSpace(text)}
		result.Confidence = 0.6
		return result, nil
	}

	result.Intent = "statement"
	result.Route = "world_view"
	result.RetrievalStrategy = StrategyWorldView
	result.Confidence = 0.5
	return result, nil
}

func isGreeting(normalized string) bool {
	words := strings.Fields(normalized)
	if len(words) == 0 || len(words) > 4 {
		return false
	}
	trimmed := strings.TrimRight(normalized, ".!?")
	for _, phrase := range greetingPhrases {
		if trimmed == phrase || strings.HasPrefix(trimmed, phrase+" ") && len(words) <= 3 {
			return true
		}
	}
	return false
}

func containsAny(s string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(s, cue) {
			return true
		}
	}
	return false
}

func startsWithAny(s string, words []string) bool {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return false
	}
	first := strings.TrimRight(fields[0], ",?")
	for _, w := range words {
		if first == w {
			return true
		}
	}
	return false
}

// Relative time expressions the offline classifier resolves.
var (
	timeExpressionPattern = regexp.MustCompile(
		`\b(yesterday|today|this morning|this week|last week|last month|(\d+)\s+days?\s+ago|(last|past)\s+(\d+)\s+days?)\b`)
	daysAgoPattern   = regexp.MustCompile(`\b(\d+)\s+days?\s+ago\b`)
	lastNDaysPattern = regexp.MustCompile(`\b(?:last|past)\s+(\d+)\s+days?\b`)
)

// ClassifyTime resolves relative time expressions. Text without a known
// expression yields null bounds with unknown granularity.
func (h *Heuristic) ClassifyTime(ctx context.Context, text string, now time.Time, tzOffsetMinutes int) (*TimeResult, error) {
	normalized := strings.ToLower(text)
	offset := time.Duration(tzOffsetMinutes) * time.Minute
	local := now.UTC().Add(offset)

	result := &TimeResult{
		Granularity: GranularityUnknown,
		Notes:       "heuristic resolution",
	}

	// toUTC converts a local wall-clock instant back to UTC.
	toUTC := func(t time.Time) *time.Time {
		u := t.Add(-offset)
		return &u
	}
	window := func(expr string, start, end time.Time, granularity string) *TimeResult {
		result.TimeExpression = expr
		result.StartTime = toUTC(start)
		result.EndTime = toUTC(end)
		result.Granularity = granularity
		result.ResolutionConfidence = 0.9
		return result
	}

	today := dayStart(local)

	switch {
	case strings.Contains(normalized, "yesterday"):
		start := today.AddDate(0, 0, -1)
		return window("yesterday", start, today.Add(-time.Second), GranularityDay), nil

	case strings.Contains(normalized, "this morning"):
		return window("this morning", today, today.Add(12*time.Hour), GranularityHour), nil

	case strings.Contains(normalized, "today"):
		return window("today", today, local, GranularityDay), nil

	case strings.Contains(normalized, "last week"):
		thisWeek := weekStart(local)
		start := thisWeek.AddDate(0, 0, -7)
		return window("last week", start, thisWeek.Add(-time.Second), GranularityWeek), nil

	case strings.Contains(normalized, "this week"):
		return window("this week", weekStart(local), local, GranularityWeek), nil

	case strings.Contains(normalized, "last month"):
		thisMonth := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, time.UTC)
		start := thisMonth.AddDate(0, -1, 0)
		return window("last month", start, thisMonth.Add(-time.Second), GranularityMonth), nil

	case daysAgoPattern.MatchString(normalized):
		m := daysAgoPattern.FindStringSubmatch(normalized)
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 0 {
			return result, nil
		}
		start := today.AddDate(0, 0, -n)
		return window(m[0], start, start.AddDate(0, 0, 1).Add(-time.Second), GranularityDay), nil

	case lastNDaysPattern.MatchString(normalized):
		m := lastNDaysPattern.FindStringSubmatch(normalized)
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return result, nil
		}
		return window(m[0], today.AddDate(0, 0, -n), local, GranularityDay), nil
	}

	return result, nil
}

// dayStart truncates to local midnight. Inputs carry the wall-clock time in
// UTC location, so Truncate on 24h is not safe across DST; explicit date
// construction is.
func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// weekStart returns the Monday midnight at or before t.
func weekStart(t time.Time) time.Time {
	day := dayStart(t)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return day.AddDate(0, 0, -(weekday - 1))
}

var (
	_ IntentClassifier = (*Heuristic)(nil)
	_ TimeClassifier   = (*Heuristic)(nil)
)
