// Package worldview builds the bounded recent-context payload for a tenant:
// the N most recent conversations plus an optional short-term-memory
// summary.
package worldview

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semantixd/internal/compression"
	"github.com/fyrsmithlabs/semantixd/internal/conversation"
	"github.com/fyrsmithlabs/semantixd/internal/logging"
	"github.com/fyrsmithlabs/semantixd/internal/store"
	"github.com/fyrsmithlabs/semantixd/internal/tenant"
)

const (
	snippetMaxChars = 200
	summaryMaxChars = 240
)

// RecentConversation is one entry of the world-view payload.
type RecentConversation struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SessionID      *string   `json:"session_id"`
	Model          string    `json:"model"`
	CreatedAt      time.Time `json:"created_at"`
	Snippet        string    `json:"snippet"`
	Summary        string    `json:"summary"`
}

// View is the world-view payload.
type View struct {
	ConversationCount   int                  `json:"conversation_count"`
	IsFirstConversation bool                 `json:"is_first_conversation"`
	RecentConversations []RecentConversation `json:"recent_conversations"`
	ShortTermMemory     *string              `json:"short_term_memory"`
	IsCached            bool                 `json:"is_cached"`
	GeneratedAt         time.Time            `json:"generated_at"`
}

// Summarizer produces the short-term-memory text from redacted recent
// conversation content.
type Summarizer interface {
	Summarize(ctx context.Context, content string, maxWords int) (string, error)
}

// Options for one Build call.
type Options struct {
	// Summarize requests short_term_memory generation.
	Summarize bool
}

// Builder assembles world views from the primary store.
type Builder struct {
	store       store.Store
	compressor  compression.Compressor
	summarizer  Summarizer
	recentLimit int
	maxWords    int
	logger      *logging.Logger
}

// Config tunes the builder.
type Config struct {
	// RecentLimit caps recent_conversations.
	RecentLimit int
	// SummaryMaxWords bounds the LLM summary.
	SummaryMaxWords int
}

// NewBuilder creates a Builder. The summarizer may be nil; short-term
// memory then falls back to compressor-produced semantic units.
func NewBuilder(st store.Store, compressor compression.Compressor, summarizer Summarizer, cfg Config, logger *logging.Logger) *Builder {
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 5
	}
	if cfg.SummaryMaxWords <= 0 {
		cfg.SummaryMaxWords = 120
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Builder{
		store:       st,
		compressor:  compressor,
		summarizer:  summarizer,
		recentLimit: cfg.RecentLimit,
		maxWords:    cfg.SummaryMaxWords,
		logger:      logger,
	}
}

// Build assembles the world view for a tenant.
func (b *Builder) Build(ctx context.Context, key tenant.Key, opts Options) (*View, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	count, err := b.store.CountConversations(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("counting conversations: %w", err)
	}

	convs, err := b.store.RecentConversations(ctx, key, b.recentLimit)
	if err != nil {
		return nil, fmt.Errorf("listing recent conversations: %w", err)
	}

	view := &View{
		ConversationCount:   count,
		IsFirstConversation: count == 0,
		RecentConversations: make([]RecentConversation, 0, len(convs)),
		GeneratedAt:         time.Now().UTC(),
	}

	var redactedTexts []string
	for _, conv := range convs {
		entry, text := b.describe(ctx, conv)
		view.RecentConversations = append(view.RecentConversations, entry)
		if text != "" {
			redactedTexts = append(redactedTexts, text)
		}
	}

	if opts.Summarize && len(redactedTexts) > 0 {
		if memory := b.shortTermMemory(ctx, redactedTexts); memory != "" {
			view.ShortTermMemory = &memory
		}
	}
	return view, nil
}

// describe builds one payload entry and returns the redacted full text used
// for summarization.
func (b *Builder) describe(ctx context.Context, conv store.Conversation) (RecentConversation, string) {
	entry := RecentConversation{
		ID:             conv.ID,
		ConversationID: conv.ConversationID,
		SessionID:      conv.SessionID,
		Model:          conv.Model,
		CreatedAt:      conv.CreatedAt,
	}

	turns, err := conversation.ParseTurns(conv.RawData)
	if err != nil {
		return entry, ""
	}
	turns = conversation.Redact(turns)
	if len(turns) == 0 {
		return entry, ""
	}

	entry.Snippet = clip(turns[0].Text, snippetMaxChars)

	var full strings.Builder
	for _, pair := range conversation.Pairs(turns) {
		full.WriteString(pair.Text())
		full.WriteString("\n")
	}
	text := strings.TrimSpace(full.String())

	if b.compressor != nil {
		if unit, err := b.compressor.Compress(ctx, text); err == nil && unit != "" {
			entry.Summary = clip(unit, summaryMaxChars)
		}
	}
	if entry.Summary == "" {
		entry.Summary = clip(text, summaryMaxChars)
	}
	return entry, text
}

// shortTermMemory prefers the LLM summarizer and degrades to compressor
// bullets. Summarizer input is already redacted.
func (b *Builder) shortTermMemory(ctx context.Context, texts []string) string {
	combined := strings.Join(texts, "\n---\n")

	if b.summarizer != nil {
		summary, err := b.summarizer.Summarize(ctx, combined, b.maxWords)
		if err == nil && strings.TrimSpace(summary) != "" {
			return strings.TrimSpace(summary)
		}
		if err != nil {
			b.logger.Warn(ctx, "world-view summarizer failed, using compressor",
				zap.Error(err))
		}
	}

	if b.compressor == nil {
		return ""
	}
	var bullets []string
	for _, text := range texts {
		unit, err := b.compressor.Compress(ctx, text)
		if err != nil || unit == "" {
			continue
		}
		bullets = append(bullets, "- "+unit)
	}
	return strings.Join(bullets, "\n")
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n])
}

// LLMSummarizer prompts a model for the short-term-memory summary.
type LLMSummarizer struct {
	model llms.Model
}

// NewLLMSummarizer wraps a langchaingo model.
func NewLLMSummarizer(model llms.Model) *LLMSummarizer {
	return &LLMSummarizer{model: model}
}

const summaryPromptTemplate = `Summarize the following recent conversations into a short-term memory
for an AI assistant. Use at most %d words. Keep concrete facts, decisions,
and open follow-ups.

%s`

// Summarize implements Summarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, content string, maxWords int) (string, error) {
	prompt := fmt.Sprintf(summaryPromptTemplate, maxWords, content)
	output, err := llms.GenerateFromSinglePrompt(ctx, s.model, prompt, llms.WithTemperature(0))
	if err != nil {
		return "", fmt.Errorf("summarizing world view: %w", err)
	}
	return strings.TrimSpace(output), nil
}

var _ Summarizer = (*LLMSummarizer)(nil)
