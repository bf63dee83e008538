// Package icm implements the intent and time classifiers that decide
// whether to retrieve, what to retrieve, and over what time window.
//
// Both classifiers are pure functions of their inputs. Two modes exist:
// "llm" prompts an external model for structured JSON, "heuristic" is a
// deterministic offline classifier with the same output schema. The mode is
// explicit configuration, never a silent fallback.
package icm

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors.
var (
	// ErrMalformedOutput indicates the classifier model returned JSON that
	// does not match the schema.
	ErrMalformedOutput = errors.New("malformed classifier output")

	// ErrClassifierUnavailable indicates the classifier call failed.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
)

// Strategy selects the retrieval backend and gating.
type Strategy string

// Retrieval strategies.
const (
	StrategyNone          Strategy = "none"
	StrategyConversations Strategy = "conversations"
	StrategyHybrid        Strategy = "hybrid"
	StrategyWorldView     Strategy = "world_view"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyNone, StrategyConversations, StrategyHybrid, StrategyWorldView:
		return true
	}
	return false
}

// Fallback names the intent and route used when the primary classification
// cannot be acted on.
type Fallback struct {
	Intent string `json:"intent"`
	Route  string `json:"route"`
}

// IntentResult is the intent classification output. All fields are present
// in the serialized form; slices may be empty.
type IntentResult struct {
	Intent            string           `json:"intent"`
	Confidence        float64          `json:"confidence"`
	Route             string           `json:"route"`
	RequiredMemory    []string         `json:"required_memory"`
	RetrievalStrategy Strategy         `json:"retrieval_strategy"`
	Entities          []map[string]any `json:"entities"`
	Fallback          *Fallback        `json:"fallback"`
	Notes             string           `json:"notes"`
}

// Time granularities.
const (
	GranularityMinute  = "minute"
	GranularityHour    = "hour"
	GranularityDay     = "day"
	GranularityWeek    = "week"
	GranularityMonth   = "month"
	GranularityUnknown = "unknown"
)

// TimeResult is the time classification output. Start and end are UTC; both
// nil when the text carries no time expression.
type TimeResult struct {
	TimeExpression       string     `json:"time_expression"`
	StartTime            *time.Time `json:"start_time"`
	EndTime              *time.Time `json:"end_time"`
	ResolutionConfidence float64    `json:"resolution_confidence"`
	Granularity          string     `json:"granularity"`
	Notes                string     `json:"notes"`
}

// HasWindow reports whether both bounds resolved.
func (t *TimeResult) HasWindow() bool {
	return t != nil && t.StartTime != nil && t.EndTime != nil
}

// IntentClassifier maps user text to an intent result.
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, text string) (*IntentResult, error)
}

// TimeClassifier resolves time expressions in user text against a reference
// instant and timezone offset (minutes east of UTC).
type TimeClassifier interface {
	ClassifyTime(ctx context.Context, text string, now time.Time, tzOffsetMinutes int) (*TimeResult, error)
}
