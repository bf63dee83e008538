// Package vectorstore defines the interface for per-tenant vector storage.
//
// Collections are named by the deterministic function in the tenant package;
// a tenant's records never share a collection with another tenant's, so
// isolation holds by construction. Records additionally carry user_id and
// project_id metadata, so a misrouted query can still be filtered.
package vectorstore

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrRecordNotFound is returned when a record id does not exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDimensionMismatch indicates an embedding whose dimension differs
	// from the deployment dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Record is a stored vector with its denormalized source document.
type Record struct {
	// ID is stable per source record; derived from the primary-store id so
	// re-ingest is idempotent.
	ID string

	// Embedding is the dense vector.
	Embedding []float32

	// Document is the JSON encoding of the source record.
	Document string

	// Metadata is a flat map carrying at least user_id, project_id,
	// source_kind and created_at (RFC3339).
	Metadata map[string]any
}

// QueryResult is one similarity search hit.
type QueryResult struct {
	ID       string
	Document string

	// Similarity is in [0, 1], monotone with semantic similarity.
	Similarity float32

	Metadata map[string]any
}

// Store is the vector storage interface.
//
// A `where` argument is a conjunction of equality predicates on metadata
// keys; nil means no extra filtering.
type Store interface {
	// Upsert writes a record, replacing any existing record with the same id.
	Upsert(ctx context.Context, collection string, rec Record) error

	// Query returns the top-k records by similarity, descending.
	Query(ctx context.Context, collection string, queryVector []float32, k int, where map[string]any) ([]QueryResult, error)

	// QueryByTime is Query with an inclusive window on metadata created_at.
	QueryByTime(ctx context.Context, collection string, queryVector []float32, k int, start, end time.Time, where map[string]any) ([]QueryResult, error)

	// Get returns a record by id, or ErrRecordNotFound.
	Get(ctx context.Context, collection, id string) (*Record, error)

	// Delete removes a record by id. Missing records are not an error.
	Delete(ctx context.Context, collection, id string) error

	// Count returns the number of records in a collection. A missing
	// collection counts as zero.
	Count(ctx context.Context, collection string) (int, error)

	// ListCollections returns all collection names.
	ListCollections(ctx context.Context) ([]string, error)

	// Close releases resources.
	Close() error
}
