// Package pipeline orchestrates a memory query: classification, session
// state, identity and world-view fetch, retrieval, and audit logging.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/semantixd/internal/icm"
	"github.com/fyrsmithlabs/semantixd/internal/identity"
	"github.com/fyrsmithlabs/semantixd/internal/logging"
	"github.com/fyrsmithlabs/semantixd/internal/redact"
	"github.com/fyrsmithlabs/semantixd/internal/retrieval"
	"github.com/fyrsmithlabs/semantixd/internal/store"
	"github.com/fyrsmithlabs/semantixd/internal/tenant"
	"github.com/fyrsmithlabs/semantixd/internal/worldview"
)

// noMemoriesPhrase inside a required-memory item, together with the block
// marker, means a prior reply already answered "nothing found"; retrieval
// would chase its own tail.
const noMemoriesPhrase = "No relevant memories found"

// Outcome states a pipeline run can end in.
type Outcome string

const (
	// OutcomeShortCircuited: intent was none or the sentinel was hit;
	// world view and identity only.
	OutcomeShortCircuited Outcome = "short_circuited"
	// OutcomeSkippedNoRequired: nothing to retrieve after derivation.
	OutcomeSkippedNoRequired Outcome = "skipped_no_required"
	// OutcomeRan: retrieval executed.
	OutcomeRan Outcome = "ran"
	// OutcomeDegraded: retrieval executed but some stage fell back.
	OutcomeDegraded Outcome = "degraded"
)

// SessionState is the conversation count within the query's session.
type SessionState struct {
	SessionID           *string `json:"session_id"`
	ConversationCount   int     `json:"conversation_count"`
	IsFirstConversation bool    `json:"is_first_conversation"`
}

// Query is one pipeline invocation.
type Query struct {
	Query           string
	Tenant          tenant.Key
	SessionID       *string
	Limit           int
	MinSimilarity   float64
	Model           string
	Now             time.Time
	TZOffsetMinutes int
}

// ResultSet is the pipeline output. Identity and WorldView are nil when
// their providers failed; that is degradation, not an error.
type ResultSet struct {
	RequestID      string             `json:"request_id"`
	Outcome        Outcome            `json:"outcome"`
	DegradedReason string             `json:"degraded_reason,omitempty"`
	Intent         *icm.IntentResult  `json:"intent"`
	Time           *icm.TimeResult    `json:"time"`
	Session        SessionState       `json:"session"`
	Identity       *identity.Profile  `json:"identity"`
	WorldView      *worldview.View    `json:"world_view"`
	Results        []retrieval.Result `json:"results"`
}

// Pipeline wires the classifiers, stores, and engine together.
type Pipeline struct {
	intent    icm.IntentClassifier
	time      icm.TimeClassifier
	primary   store.Store
	identity  identity.Provider
	worldView *worldview.Builder
	engine    *retrieval.Engine
	logger    *logging.Logger
}

// New creates a Pipeline.
func New(
	intentClassifier icm.IntentClassifier,
	timeClassifier icm.TimeClassifier,
	primary store.Store,
	identityProvider identity.Provider,
	worldViewBuilder *worldview.Builder,
	engine *retrieval.Engine,
	logger *logging.Logger,
) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		intent:    intentClassifier,
		time:      timeClassifier,
		primary:   primary,
		identity:  identityProvider,
		worldView: worldViewBuilder,
		engine:    engine,
		logger:    logger,
	}
}

// Run executes the pipeline. Classifier, identity, and world-view failures
// degrade; retrieval failure aborts.
func (p *Pipeline) Run(ctx context.Context, q Query) (*ResultSet, error) {
	if err := q.Tenant.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(q.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if q.Now.IsZero() {
		q.Now = time.Now().UTC()
	}

	requestID := uuid.NewString()
	ctx = logging.WithRequestID(ctx, requestID)
	ctx = tenant.NewContext(ctx, q.Tenant)

	out := &ResultSet{
		RequestID: requestID,
		Results:   []retrieval.Result{},
	}
	var degraded []string

	// Intent classification; failure falls back to world view.
	intentResult, err := p.intent.ClassifyIntent(ctx, q.Query)
	if err != nil {
		p.logger.Warn(ctx, "intent classification failed", zap.Error(err))
		degraded = append(degraded, "intent_classifier")
		intentResult = &icm.IntentResult{
			Intent:            "unknown",
			Route:             "world_view",
			RetrievalStrategy: icm.StrategyWorldView,
			RequiredMemory:    []string{},
			Entities:          []map[string]any{},
		}
	}
	out.Intent = intentResult

	// Time classification always runs, even when unused.
	timeResult, err := p.time.ClassifyTime(ctx, q.Query, q.Now, q.TZOffsetMinutes)
	if err != nil {
		p.logger.Warn(ctx, "time classification failed", zap.Error(err))
		degraded = append(degraded, "time_classifier")
		timeResult = &icm.TimeResult{Granularity: icm.GranularityUnknown}
	}
	out.Time = timeResult

	out.Session = p.sessionState(ctx, q)

	// Derive effective strategy and required memory.
	originalStrategy := intentResult.RetrievalStrategy
	effectiveStrategy := originalStrategy
	if effectiveStrategy == icm.StrategyNone {
		effectiveStrategy = icm.StrategyWorldView
	}
	required := intentResult.RequiredMemory
	if len(required) == 0 {
		required = []string{q.Query}
	}
	sentinelHit := false
	for _, item := range required {
		if strings.Contains(item, redact.BlockStart) && strings.Contains(item, noMemoriesPhrase) {
			sentinelHit = true
			break
		}
	}

	// Identity and world view in parallel. World view summarizes only when
	// retrieval is actually going to happen.
	summarize := !sentinelHit && originalStrategy != icm.StrategyNone
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		profile, err := p.identity.Profile(gctx, q.Tenant)
		if err != nil {
			p.logger.Warn(gctx, "identity provider failed", zap.Error(err))
			return nil
		}
		out.Identity = profile
		return nil
	})
	g.Go(func() error {
		view, err := p.worldView.Build(gctx, q.Tenant, worldview.Options{Summarize: summarize})
		if err != nil {
			p.logger.Warn(gctx, "world-view build failed", zap.Error(err))
			return nil
		}
		out.WorldView = view
		return nil
	})
	_ = g.Wait()
	if out.Identity == nil {
		degraded = append(degraded, "identity")
	}
	if out.WorldView == nil {
		degraded = append(degraded, "world_view")
	}

	if out.WorldView != nil {
		p.logICM(ctx, requestID, q, store.ICMTypeWorldView, out.WorldView, nil)
	}
	if out.Identity != nil {
		p.logICM(ctx, requestID, q, store.ICMTypeIdentity, out.Identity, nil)
	}

	// Short-circuit before any retrieval work.
	if originalStrategy == icm.StrategyNone || sentinelHit {
		p.logRetrievalSkipped(ctx, requestID, q)
		out.Outcome = OutcomeShortCircuited
		out.DegradedReason = strings.Join(degraded, ",")
		return out, nil
	}

	p.logICM(ctx, requestID, q, store.ICMTypeSession, out.Session, nil)
	p.logICM(ctx, requestID, q, store.ICMTypeIntent, intentResult, nil)
	p.logICM(ctx, requestID, q, store.ICMTypeTime, timeResult, nil)

	if len(required) == 0 {
		p.logRetrievalSkipped(ctx, requestID, q)
		out.Outcome = OutcomeSkippedNoRequired
		out.DegradedReason = strings.Join(degraded, ",")
		return out, nil
	}

	req := retrieval.Request{
		Tenant:          q.Tenant,
		RequiredMemory:  required,
		Strategy:        effectiveStrategy,
		Limit:           q.Limit,
		MinSimilarity:   q.MinSimilarity,
		Now:             q.Now,
		TZOffsetMinutes: q.TZOffsetMinutes,
		Model:           q.Model,
	}
	if timeResult.HasWindow() {
		req.WindowStart = timeResult.StartTime
		req.WindowEnd = timeResult.EndTime
	}

	results, err := p.engine.Retrieve(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}
	out.Results = results

	count := len(results)
	p.logRetrievalICM(ctx, requestID, q, effectiveStrategy, required, req, count)
	p.logRetrievalRan(ctx, requestID, q, results)

	if len(degraded) > 0 {
		out.Outcome = OutcomeDegraded
		out.DegradedReason = strings.Join(degraded, ",")
	} else {
		out.Outcome = OutcomeRan
	}
	return out, nil
}

func (p *Pipeline) sessionState(ctx context.Context, q Query) SessionState {
	state := SessionState{SessionID: q.SessionID}
	if q.SessionID == nil {
		return state
	}
	count, err := p.primary.CountConversationsInSession(ctx, q.Tenant, *q.SessionID)
	if err != nil {
		p.logger.Warn(ctx, "session state lookup failed", zap.Error(err))
		return state
	}
	state.ConversationCount = count
	state.IsFirstConversation = count == 0
	return state
}

// logICM persists one ICM log row; audit failures are logged, never raised.
func (p *Pipeline) logICM(ctx context.Context, requestID string, q Query, icmType string, payload any, resultsCount *int) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn(ctx, "marshaling icm payload failed",
			zap.String("icm_type", icmType), zap.Error(err))
		return
	}
	log := &store.ICMLog{
		RequestID:    requestID,
		UserID:       q.Tenant.UserID,
		ProjectID:    q.Tenant.ProjectID,
		ICMType:      icmType,
		Payload:      data,
		ResultsCount: resultsCount,
	}
	if err := p.primary.InsertICMLog(ctx, log); err != nil {
		p.logger.Warn(ctx, "persisting icm log failed",
			zap.String("icm_type", icmType), zap.Error(err))
	}
}

// logRetrievalICM persists the retrieval-stage ICM row with its query
// parameters and resolved window.
func (p *Pipeline) logRetrievalICM(ctx context.Context, requestID string, q Query, strategy icm.Strategy, required []string, req retrieval.Request, count int) {
	payload, err := json.Marshal(map[string]any{
		"strategy":        strategy,
		"required_memory": required,
	})
	if err != nil {
		p.logger.Warn(ctx, "marshaling retrieval icm payload failed", zap.Error(err))
		return
	}
	limit := q.Limit
	minSim := q.MinSimilarity
	log := &store.ICMLog{
		RequestID:     requestID,
		UserID:        q.Tenant.UserID,
		ProjectID:     q.Tenant.ProjectID,
		ICMType:       store.ICMTypeRetrieval,
		Payload:       payload,
		ResultsCount:  &count,
		Limit:         &limit,
		MinSimilarity: &minSim,
		WindowStart:   req.WindowStart,
		WindowEnd:     req.WindowEnd,
	}
	if err := p.primary.InsertICMLog(ctx, log); err != nil {
		p.logger.Warn(ctx, "persisting retrieval icm log failed", zap.Error(err))
	}
}

func (p *Pipeline) logRetrievalSkipped(ctx context.Context, requestID string, q Query) {
	err := p.primary.InsertRetrievalLog(ctx, &store.RetrievalLog{
		RequestID: requestID,
		UserID:    q.Tenant.UserID,
		ProjectID: q.Tenant.ProjectID,
		Target:    store.RetrievalTargetSkipped,
		Query:     q.Query,
	})
	if err != nil {
		p.logger.Warn(ctx, "persisting retrieval log failed", zap.Error(err))
	}
}

func (p *Pipeline) logRetrievalRan(ctx context.Context, requestID string, q Query, results []retrieval.Result) {
	data, err := json.Marshal(results)
	if err != nil {
		p.logger.Warn(ctx, "marshaling retrieval results failed", zap.Error(err))
		data = []byte("[]")
	}
	err = p.primary.InsertRetrievalLog(ctx, &store.RetrievalLog{
		RequestID:    requestID,
		UserID:       q.Tenant.UserID,
		ProjectID:    q.Tenant.ProjectID,
		Target:       store.RetrievalTargetVector,
		Query:        q.Query,
		Results:      data,
		ResultsCount: len(results),
	})
	if err != nil {
		p.logger.Warn(ctx, "persisting retrieval log failed", zap.Error(err))
	}
}
