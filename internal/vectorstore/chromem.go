package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("semantixd.vectorstore.chromem")

// collectionNamePattern validates names produced by the v1 naming scheme.
var collectionNamePattern = regexp.MustCompile(`^semantix_(memory|mental_note|conversation)_[0-9a-f]{16}$`)

// ChromemConfig holds configuration for the chromem-go embedded store.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means in-memory,
	// which tests rely on.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Dimension is the embedding dimension enforced on every upsert.
	Dimension int
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements Store using chromem-go, an embeddable pure-Go
// vector database with optional persistence.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
}

// NewChromemStore creates a ChromemStore. With a non-empty Path the store
// persists to disk; otherwise it is in-memory.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		db  *chromem.DB
		err error
	)
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, pathErr := expandPath(config.Path)
		if pathErr != nil {
			return nil, fmt.Errorf("expanding path: %w", pathErr)
		}
		if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, mkErr)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.Int("dimension", config.Dimension),
	)

	return &ChromemStore{db: db, config: config, logger: logger}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// noEmbedding is passed where chromem requires an embedding function.
// Callers always supply precomputed vectors, so invoking it is a bug.
func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("vector store does not embed; vectors are precomputed")
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	col := s.db.GetCollection(name, noEmbedding)
	if col == nil {
		return nil, ErrCollectionNotFound
	}
	return col, nil
}

// Upsert writes a record, replacing any existing record with the same id.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, rec Record) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("record_id", rec.ID),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	if len(rec.Embedding) != s.config.Dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(rec.Embedding), s.config.Dimension)
	}

	col, err := s.db.GetOrCreateCollection(collection, nil, noEmbedding)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("getting/creating collection %s: %w", collection, err)
	}

	// Replace-then-add keeps the operation idempotent by id.
	_ = col.Delete(ctx, nil, nil, rec.ID)

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Document,
		Metadata:  metadataToString(rec.Metadata),
		Embedding: rec.Embedding,
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding document: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query returns the top-k records by similarity, descending.
func (s *ChromemStore) Query(ctx context.Context, collection string, queryVector []float32, k int, where map[string]any) ([]QueryResult, error) {
	return s.query(ctx, collection, queryVector, k, where, nil)
}

// QueryByTime is Query with an inclusive window on metadata created_at.
func (s *ChromemStore) QueryByTime(ctx context.Context, collection string, queryVector []float32, k int, start, end time.Time, where map[string]any) ([]QueryResult, error) {
	window := &timeWindow{start: start, end: end}
	return s.query(ctx, collection, queryVector, k, where, window)
}

type timeWindow struct {
	start, end time.Time
}

func (w *timeWindow) contains(meta map[string]any) bool {
	raw, ok := meta["created_at"].(string)
	if !ok {
		return false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return !ts.Before(w.start) && !ts.After(w.end)
}

func (s *ChromemStore) query(ctx context.Context, collection string, queryVector []float32, k int, where map[string]any, window *timeWindow) ([]QueryResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(queryVector) != s.config.Dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(queryVector), s.config.Dimension)
	}

	col, err := s.collection(collection)
	if err != nil {
		if errors.Is(err, ErrCollectionNotFound) {
			// A tenant who has never ingested anything has no collection.
			return []QueryResult{}, nil
		}
		return nil, err
	}

	count := col.Count()
	if count == 0 {
		return []QueryResult{}, nil
	}

	// A time window is filtered after the fact, so over-fetch to keep k
	// results available inside the window.
	fetch := k
	if window != nil {
		fetch = count
	}
	if fetch > count {
		fetch = count
	}

	results, err := col.QueryEmbedding(ctx, queryVector, fetch, metadataToString(where), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	out := make([]QueryResult, 0, len(results))
	for _, r := range results {
		meta := metadataFromString(r.Metadata)
		if window != nil && !window.contains(meta) {
			continue
		}
		out = append(out, QueryResult{
			ID:         r.ID,
			Document:   r.Content,
			Similarity: clampSimilarity(r.Similarity),
			Metadata:   meta,
		})
		if len(out) == k {
			break
		}
	}

	// chromem returns descending similarity; re-sort because the windowed
	// path filters after the fact.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })

	span.SetAttributes(attribute.Int("results_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// Get returns a record by id.
func (s *ChromemStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}

	return &Record{
		ID:        doc.ID,
		Embedding: doc.Embedding,
		Document:  doc.Content,
		Metadata:  metadataFromString(doc.Metadata),
	}, nil
}

// Delete removes a record by id.
func (s *ChromemStore) Delete(ctx context.Context, collection, id string) error {
	col, err := s.collection(collection)
	if err != nil {
		if errors.Is(err, ErrCollectionNotFound) {
			return nil
		}
		return err
	}
	return col.Delete(ctx, nil, nil, id)
}

// Count returns the number of records in a collection.
func (s *ChromemStore) Count(ctx context.Context, collection string) (int, error) {
	col, err := s.collection(collection)
	if err != nil {
		if errors.Is(err, ErrCollectionNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return col.Count(), nil
}

// ListCollections returns all collection names.
func (s *ChromemStore) ListCollections(ctx context.Context) ([]string, error) {
	collections := s.db.ListCollections()
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close closes the store. chromem persists incrementally, so this is a no-op.
func (s *ChromemStore) Close() error {
	return nil
}

// ValidateCollectionName checks a name against the v1 naming scheme. All
// collections in a deployment must use the same scheme; a mismatch at
// startup means mixed naming versions.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// ValidateNaming checks every existing collection against the naming scheme.
// Called at startup; failure indicates collections created by a different
// naming version.
func ValidateNaming(ctx context.Context, store Store) error {
	names, err := store.ListCollections(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := ValidateCollectionName(name); err != nil {
			return fmt.Errorf("collection %q does not match naming version v1: %w", name, err)
		}
	}
	return nil
}

// clampSimilarity maps the backend score into [0, 1].
func clampSimilarity(s float32) float32 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func metadataToString(metadata map[string]any) map[string]string {
	if metadata == nil {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			out[k] = val
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

func metadataFromString(metadata map[string]string) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

var _ Store = (*ChromemStore)(nil)
