// Package http provides the HTTP API for semantixd.
package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semantixd/internal/embeddings"
	"github.com/fyrsmithlabs/semantixd/internal/logging"
	"github.com/fyrsmithlabs/semantixd/internal/pipeline"
	"github.com/fyrsmithlabs/semantixd/internal/store"
	"github.com/fyrsmithlabs/semantixd/internal/tenant"
)

// noMemoriesFallback is the literal returned when nothing qualifies.
const noMemoriesFallback = "No relevant memories found."

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// DefaultLimit and MaxLimit bound the per-request result limit.
	DefaultLimit int
	MaxLimit     int

	// DefaultMinSimilarity applies when the request omits min_similarity.
	// Nil means 0.7; an explicit 0.0 disables the threshold.
	DefaultMinSimilarity *float64
}

// Server provides HTTP endpoints for semantixd.
type Server struct {
	echo       *echo.Echo
	pipeline   *pipeline.Pipeline
	embeddings *embeddings.Service
	primary    store.Store
	logger     *logging.Logger
	config     *Config
}

// NewServer creates a new HTTP server.
func NewServer(p *pipeline.Pipeline, embedService *embeddings.Service, primary store.Store, logger *logging.Logger, cfg *Config) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9090}
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 50
	}
	if cfg.DefaultMinSimilarity == nil {
		v := 0.7
		cfg.DefaultMinSimilarity = &v
	} else if *cfg.DefaultMinSimilarity < 0 || *cfg.DefaultMinSimilarity > 1 {
		return nil, fmt.Errorf("default min_similarity must be in [0, 1]")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Underlying().Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:       e,
		pipeline:   p,
		embeddings: embedService,
		primary:    primary,
		logger:     logger,
		config:     cfg,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/fetch-memory", s.handleFetchMemory)
}

// FetchMemoryRequest is the request body for POST /fetch-memory.
type FetchMemoryRequest struct {
	Query         string   `json:"query"`
	UserID        string   `json:"user_id"`
	ProjectID     string   `json:"project_id"`
	SessionID     *string  `json:"session_id,omitempty"`
	Limit         *int     `json:"limit,omitempty"`
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
	Model         string   `json:"model,omitempty"`
}

// FetchMemoryResponse is the response body for POST /fetch-memory.
type FetchMemoryResponse struct {
	Memory string `json:"memory"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Provider *embeddings.Health     `json:"provider,omitempty"`
	Cache    *embeddings.CacheStats `json:"cache,omitempty"`
}

// handleHealth reports process health plus provider and cache state.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.embeddings != nil {
		health := s.embeddings.HealthCheck(c.Request().Context())
		resp.Provider = &health
		stats := s.embeddings.CacheStats()
		resp.Cache = &stats
		if health.Status == embeddings.StatusUnavailable {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// handleFetchMemory runs the memory pipeline and synthesizes the memory text.
func (s *Server) handleFetchMemory(c echo.Context) error {
	var req FetchMemoryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	q, err := s.buildQuery(req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	start := time.Now()
	out, err := s.pipeline.Run(ctx, q)
	duration := time.Since(start)

	if err != nil {
		s.logRequest(ctx, c.Response().Header().Get(echo.HeaderXRequestID), q, "error", duration)
		s.logger.Error(ctx, "pipeline failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "memory pipeline failed")
	}

	s.logRequest(ctx, out.RequestID, q, string(out.Outcome), duration)

	return c.JSON(http.StatusOK, FetchMemoryResponse{Memory: synthesize(out)})
}

// buildQuery validates and normalizes the request into a pipeline query.
func (s *Server) buildQuery(req FetchMemoryRequest) (pipeline.Query, error) {
	if strings.TrimSpace(req.Query) == "" {
		return pipeline.Query{}, fmt.Errorf("query is required")
	}
	key := tenant.Key{UserID: req.UserID, ProjectID: req.ProjectID}
	if err := key.Validate(); err != nil {
		return pipeline.Query{}, fmt.Errorf("user_id and project_id are required")
	}

	limit := s.config.DefaultLimit
	if req.Limit != nil {
		limit = *req.Limit
		if limit <= 0 {
			return pipeline.Query{}, fmt.Errorf("limit must be positive")
		}
		if limit > s.config.MaxLimit {
			return pipeline.Query{}, fmt.Errorf("limit exceeds maximum of %d", s.config.MaxLimit)
		}
	}

	minSimilarity := *s.config.DefaultMinSimilarity
	if req.MinSimilarity != nil {
		minSimilarity = *req.MinSimilarity
		if minSimilarity < 0 || minSimilarity > 1 {
			return pipeline.Query{}, fmt.Errorf("min_similarity must be in [0, 1]")
		}
	}

	return pipeline.Query{
		Query:         req.Query,
		Tenant:        key,
		SessionID:     req.SessionID,
		Limit:         limit,
		MinSimilarity: minSimilarity,
		Model:         req.Model,
	}, nil
}

// logRequest writes the per-call request log row; failures are logged only.
func (s *Server) logRequest(ctx context.Context, requestID string, q pipeline.Query, outcome string, duration time.Duration) {
	if s.primary == nil {
		return
	}
	err := s.primary.InsertRequestLog(ctx, &store.RequestLog{
		RequestID:     requestID,
		UserID:        q.Tenant.UserID,
		ProjectID:     q.Tenant.ProjectID,
		Query:         q.Query,
		SessionID:     q.SessionID,
		Limit:         q.Limit,
		MinSimilarity: q.MinSimilarity,
		Outcome:       outcome,
		DurationMS:    duration.Milliseconds(),
	})
	if err != nil {
		s.logger.Warn(ctx, "persisting request log failed", zap.Error(err))
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Underlying().Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Underlying().Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
