package icm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semantixd/internal/config"
)

const intentPromptTemplate = `You classify a user message for a conversational memory service.
Respond with a single JSON object, no prose, matching exactly:
{
  "intent": string,
  "confidence": number in [0,1],
  "route": string,
  "required_memory": string[],
  "retrieval_strategy": "none" | "conversations" | "hybrid" | "world_view",
  "entities": object[],
  "fallback": {"intent": string, "route": string},
  "notes": string
}
"required_memory" holds short natural-language statements of what past
information is needed to answer; empty when nothing is needed.

User message:
%s`

const timePromptTemplate = `You resolve time expressions in a user message.
Reference instant (UTC): %s
User timezone offset from UTC in minutes: %d
Respond with a single JSON object, no prose, matching exactly:
{
  "time_expression": string,
  "start_time": ISO8601 string or null,
  "end_time": ISO8601 string or null,
  "resolution_confidence": number in [0,1],
  "granularity": "minute"|"hour"|"day"|"week"|"month"|"unknown",
  "notes": string
}
Start and end must be UTC. Use null bounds when the message has no time
expression.

User message:
%s`

// LLMClassifier prompts an external model for structured classification.
type LLMClassifier struct {
	model   llms.Model
	timeout time.Duration
	logger  *zap.Logger
}

// NewLLMClassifier builds a classifier backed by an OpenAI-compatible model.
func NewLLMClassifier(cfg config.ICMConfig, logger *zap.Logger) (*LLMClassifier, error) {
	model, err := openai.New(
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey.Value()),
	)
	if err != nil {
		return nil, fmt.Errorf("creating classifier model: %w", err)
	}
	return NewLLMClassifierWithModel(model, cfg.Timeout, logger), nil
}

// NewLLMClassifierWithModel wraps an existing model; tests inject fakes here.
func NewLLMClassifierWithModel(model llms.Model, timeout time.Duration, logger *zap.Logger) *LLMClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &LLMClassifier{model: model, timeout: timeout, logger: logger}
}

// ClassifyIntent prompts the model and validates the returned JSON.
func (c *LLMClassifier) ClassifyIntent(ctx context.Context, text string) (*IntentResult, error) {
	output, err := c.generate(ctx, fmt.Sprintf(intentPromptTemplate, text))
	if err != nil {
		return nil, err
	}

	var result IntentResult
	if err := json.Unmarshal(extractJSON(output), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if !result.RetrievalStrategy.Valid() {
		return nil, fmt.Errorf("%w: unknown retrieval_strategy %q", ErrMalformedOutput, result.RetrievalStrategy)
	}
	result.Confidence = clamp01(result.Confidence)
	if result.RequiredMemory == nil {
		result.RequiredMemory = []string{}
	}
	if result.Entities == nil {
		result.Entities = []map[string]any{}
	}
	return &result, nil
}

// rawTimeResult decodes the model output before bound parsing; models vary
// in ISO8601 strictness.
type rawTimeResult struct {
	TimeExpression       string  `json:"time_expression"`
	StartTime            *string `json:"start_time"`
	EndTime              *string `json:"end_time"`
	ResolutionConfidence float64 `json:"resolution_confidence"`
	Granularity          string  `json:"granularity"`
	Notes                string  `json:"notes"`
}

// ClassifyTime prompts the model with the reference instant and offset.
func (c *LLMClassifier) ClassifyTime(ctx context.Context, text string, now time.Time, tzOffsetMinutes int) (*TimeResult, error) {
	prompt := fmt.Sprintf(timePromptTemplate, now.UTC().Format(time.RFC3339), tzOffsetMinutes, text)
	output, err := c.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var raw rawTimeResult
	if err := json.Unmarshal(extractJSON(output), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	result := &TimeResult{
		TimeExpression:       raw.TimeExpression,
		ResolutionConfidence: clamp01(raw.ResolutionConfidence),
		Granularity:          normalizeGranularity(raw.Granularity),
		Notes:                raw.Notes,
	}
	if result.StartTime, err = parseBound(raw.StartTime); err != nil {
		return nil, err
	}
	if result.EndTime, err = parseBound(raw.EndTime); err != nil {
		return nil, err
	}
	// A half-open answer is treated as unresolved.
	if (result.StartTime == nil) != (result.EndTime == nil) {
		result.StartTime = nil
		result.EndTime = nil
		result.Granularity = GranularityUnknown
	}
	return result, nil
}

func (c *LLMClassifier) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	output, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt,
		llms.WithTemperature(0),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	return output, nil
}

// extractJSON pulls the outermost JSON object out of model output that may
// carry code fences or prose around it.
func extractJSON(output string) []byte {
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start < 0 || end <= start {
		return []byte(output)
	}
	return []byte(output[start : end+1])
}

var boundLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseBound(s *string) (*time.Time, error) {
	if s == nil || *s == "" || strings.EqualFold(*s, "null") {
		return nil, nil
	}
	for _, layout := range boundLayouts {
		if t, err := time.Parse(layout, *s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: unparseable time bound %q", ErrMalformedOutput, *s)
}

func normalizeGranularity(g string) string {
	switch strings.ToLower(g) {
	case GranularityMinute, GranularityHour, GranularityDay, GranularityWeek, GranularityMonth:
		return strings.ToLower(g)
	default:
		return GranularityUnknown
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

var (
	_ IntentClassifier = (*LLMClassifier)(nil)
	_ TimeClassifier   = (*LLMClassifier)(nil)
)
