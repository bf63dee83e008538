// Package retrieval executes the chosen retrieval strategy: vector
// similarity over per-tenant collections, optional time gating, and the
// world-view short path.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/semantixd/internal/conversation"
	"github.com/fyrsmithlabs/semantixd/internal/embeddings"
	"github.com/fyrsmithlabs/semantixd/internal/icm"
	"github.com/fyrsmithlabs/semantixd/internal/logging"
	"github.com/fyrsmithlabs/semantixd/internal/store"
	"github.com/fyrsmithlabs/semantixd/internal/tenant"
	"github.com/fyrsmithlabs/semantixd/internal/vectorstore"
)

// Result sources.
const (
	SourceConversations = "conversations"
	SourceMemory        = "memory"
	SourceWorldView     = "world_view"
)

// Embedder is the slice of the embedding service the engine needs.
type Embedder interface {
	Embed(ctx context.Context, text, model string) (*embeddings.Result, error)
}

// Request carries one retrieval invocation.
type Request struct {
	Tenant         tenant.Key
	RequiredMemory []string
	Strategy       icm.Strategy
	Limit          int
	MinSimilarity  float64

	// WindowStart/WindowEnd gate retrieval to an inclusive created_at
	// window when both are set.
	WindowStart *time.Time
	WindowEnd   *time.Time

	// TimeText triggers late time resolution when the window is unset.
	TimeText        string
	Now             time.Time
	TZOffsetMinutes int

	// Model overrides the deployment embedding model; usually empty.
	Model string
}

// Result is one normalized retrieval hit.
type Result struct {
	ID             string              `json:"id"`
	Source         string              `json:"source"`
	Similarity     float32             `json:"similarity"`
	ConversationID string              `json:"conversation_id,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	Model          string              `json:"model,omitempty"`
	UserID         string              `json:"user_id"`
	ProjectID      string              `json:"project_id"`
	Turns          []conversation.Turn `json:"turns,omitempty"`
	Topic          string              `json:"topic,omitempty"`
	RequiredItem   string              `json:"required_item,omitempty"`
}

// Engine runs retrieval against the vector store and primary store.
type Engine struct {
	embedder       Embedder
	vectors        vectorstore.Store
	primary        store.Store
	timeClassifier icm.TimeClassifier
	fanout         int
	defaultLimit   int
	worldViewLimit int
	logger         *logging.Logger
}

// Config tunes the engine.
type Config struct {
	// Fanout bounds concurrent per-item embed+query work.
	Fanout int

	// DefaultLimit applies when a request omits its limit.
	DefaultLimit int

	// WorldViewLimit caps the world-view recent-conversation fetch.
	WorldViewLimit int
}

// NewEngine creates a retrieval engine.
func NewEngine(embedder Embedder, vectors vectorstore.Store, primary store.Store, timeClassifier icm.TimeClassifier, cfg Config, logger *logging.Logger) *Engine {
	if cfg.Fanout <= 0 {
		cfg.Fanout = 10
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 5
	}
	if cfg.WorldViewLimit <= 0 {
		cfg.WorldViewLimit = 5
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		embedder:       embedder,
		vectors:        vectors,
		primary:        primary,
		timeClassifier: timeClassifier,
		fanout:         cfg.Fanout,
		defaultLimit:   cfg.DefaultLimit,
		worldViewLimit: cfg.WorldViewLimit,
		logger:         logger,
	}
}

// Retrieve executes the strategy. The empty result is a valid outcome, not
// an error.
func (e *Engine) Retrieve(ctx context.Context, req Request) ([]Result, error) {
	if err := req.Tenant.Validate(); err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		// Internal callers may omit the limit; the HTTP surface validates
		// its own before reaching here.
		req.Limit = e.defaultLimit
	}

	if req.Strategy == icm.StrategyNone || len(req.RequiredMemory) == 0 {
		return []Result{}, nil
	}

	if req.Strategy == icm.StrategyWorldView {
		return e.worldView(ctx, req)
	}

	// Late time resolution when the caller passed raw time text.
	if (req.WindowStart == nil || req.WindowEnd == nil) && req.TimeText != "" && e.timeClassifier != nil {
		timeResult, err := e.timeClassifier.ClassifyTime(ctx, req.TimeText, req.Now, req.TZOffsetMinutes)
		if err != nil {
			e.logger.Warn(ctx, "late time resolution failed", zap.Error(err))
		} else if timeResult.HasWindow() {
			start := timeResult.StartTime.UTC()
			end := timeResult.EndTime.UTC()
			req.WindowStart = &start
			req.WindowEnd = &end
		}
	}

	// Hard time gate: an empty window means no vector search at all, and
	// no embedding call gets charged. The gate counts every source the
	// strategy queries.
	if req.WindowStart != nil && req.WindowEnd != nil {
		count, err := e.primary.CountConversationsInWindow(ctx, req.Tenant, *req.WindowStart, *req.WindowEnd)
		if err != nil {
			return nil, fmt.Errorf("time gate: %w", err)
		}
		if count == 0 && req.Strategy == icm.StrategyHybrid {
			count, err = e.primary.CountMemoryLogsInWindow(ctx, req.Tenant, *req.WindowStart, *req.WindowEnd)
			if err != nil {
				return nil, fmt.Errorf("time gate: %w", err)
			}
		}
		if count == 0 {
			return []Result{}, nil
		}
	}

	results, err := e.fanOut(ctx, req)
	if err != nil {
		return nil, err
	}

	sortResults(results)
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

// worldView returns the most recent conversations with similarity pinned to
// 1.0. No embedding calls. The fetch never exceeds the configured
// world-view recent bound, even when the caller's limit is larger.
func (e *Engine) worldView(ctx context.Context, req Request) ([]Result, error) {
	n := req.Limit
	if n > e.worldViewLimit {
		n = e.worldViewLimit
	}
	convs, err := e.primary.RecentConversations(ctx, req.Tenant, n)
	if err != nil {
		return nil, fmt.Errorf("world-view retrieval: %w", err)
	}

	results := make([]Result, 0, len(convs))
	for _, conv := range convs {
		result := Result{
			ID:             strconv.FormatInt(conv.ID, 10),
			Source:         SourceWorldView,
			Similarity:     1.0,
			ConversationID: conv.ConversationID,
			CreatedAt:      conv.CreatedAt,
			Model:          conv.Model,
			UserID:         conv.UserID,
			ProjectID:      conv.ProjectID,
		}
		if turns, err := conversation.ParseTurns(conv.RawData); err == nil {
			result.Turns = conversation.Redact(turns)
			if len(result.Turns) > 0 {
				result.Topic = clip(result.Turns[0].Text, 80)
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// fanOut embeds each required item and queries the tenant's collections,
// bounded by the configured concurrency.
func (e *Engine) fanOut(ctx context.Context, req Request) ([]Result, error) {
	collections, err := e.collections(req)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results []Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.fanout)

	for _, item := range req.RequiredMemory {
		item := item
		g.Go(func() error {
			hits, err := e.queryItem(gctx, req, collections, item)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, hits...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// collections resolves the collections a strategy queries: conversations
// always, memory logs additionally under hybrid. Mental notes are ingested
// but not reachable from this path.
func (e *Engine) collections(req Request) (map[string]string, error) {
	out := make(map[string]string, 2)

	name, err := tenant.CollectionName(req.Tenant, tenant.KindConversation)
	if err != nil {
		return nil, err
	}
	out[SourceConversations] = name

	if req.Strategy == icm.StrategyHybrid {
		name, err := tenant.CollectionName(req.Tenant, tenant.KindMemory)
		if err != nil {
			return nil, err
		}
		out[SourceMemory] = name
	}
	return out, nil
}

func (e *Engine) queryItem(ctx context.Context, req Request, collections map[string]string, item string) ([]Result, error) {
	embedded, err := e.embedder.Embed(ctx, item, req.Model)
	if err != nil {
		return nil, fmt.Errorf("embedding required memory: %w", err)
	}

	var results []Result
	for source, collection := range collections {
		var hits []vectorstore.QueryResult
		if req.WindowStart != nil && req.WindowEnd != nil {
			hits, err = e.vectors.QueryByTime(ctx, collection, embedded.Vector, req.Limit,
				*req.WindowStart, *req.WindowEnd, nil)
		} else {
			hits, err = e.vectors.Query(ctx, collection, embedded.Vector, req.Limit, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("querying %s: %w", source, err)
		}

		for _, hit := range hits {
			if float64(hit.Similarity) < req.MinSimilarity {
				continue
			}
			results = append(results, e.normalize(req, source, item, hit))
		}
	}
	return results, nil
}

// normalize shapes one vector hit into a Result. Turns are redacted again
// here; records written before ingestion redacted may still carry markers.
func (e *Engine) normalize(req Request, source, item string, hit vectorstore.QueryResult) Result {
	result := Result{
		ID:           hit.ID,
		Source:       source,
		Similarity:   hit.Similarity,
		UserID:       req.Tenant.UserID,
		ProjectID:    req.Tenant.ProjectID,
		RequiredItem: item,
	}

	switch source {
	case SourceConversations:
		if doc, err := conversation.DecodeDocument(hit.Document); err == nil {
			result.ConversationID = doc.ConversationID
			result.CreatedAt = doc.CreatedAt
			result.Model = doc.Model
			result.Turns = conversation.Redact(doc.Turns)
			if len(result.Turns) > 0 {
				result.Topic = clip(result.Turns[0].Text, 80)
			}
		}
	case SourceMemory:
		if doc, err := conversation.DecodeMemoryDocument(hit.Document); err == nil {
			result.CreatedAt = doc.CreatedAt
			result.Topic = doc.Task
		}
	}

	if result.CreatedAt.IsZero() {
		if raw, ok := hit.Metadata["created_at"].(string); ok {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				result.CreatedAt = ts
			}
		}
	}
	return result
}

// sortResults orders by similarity descending; ties go to the newer record,
// then lexicographic id.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].ID < results[j].ID
	})
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
