// Package vectorstore defines the provider contract for vector storage
// backends and ships two implementations: a Qdrant gRPC adapter and an
// embedded chromem-go adapter.
//
// A Provider owns collection lifecycle, vector insertion, deletion, and
// similarity search for one backend. Providers are created through the
// Registry, which merges per-provider defaults with space-supplied
// configuration and validates required fields before any connection is made.
//
// Score semantics: every adapter converts the backend's raw score through the
// metric normalizer, so SearchResult.Score is always higher-is-better and
// comparable to a caller threshold regardless of the configured distance
// metric. The metric-native magnitude is preserved in SearchResult.Distance
// for diagnostics.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates provider configuration that failed validation.
	// The wrapped message lists every violated field.
	ErrInvalidConfig = errors.New("invalid provider configuration")

	// ErrMissingConfig indicates that no configuration was supplied at all.
	// A provider never starts with inferred connection details.
	ErrMissingConfig = errors.New("provider configuration required")

	// ErrNotImplemented indicates an unregistered provider type.
	ErrNotImplemented = errors.New("provider type not implemented")

	// ErrNotInitialized indicates use of a provider before Initialize.
	ErrNotInitialized = errors.New("provider not initialized")

	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector backend")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// collection's fixed dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidFilter indicates a delete filter with no usable predicate.
	ErrInvalidFilter = errors.New("invalid delete filter")
)

// Config is the raw provider configuration as stored per space.
//
// Keys are provider-specific; each adapter documents its required and
// optional fields. The Registry merges these values over the provider's
// hard-coded defaults, with the space values winning.
type Config map[string]any

// VectorDocument is the unit stored in the vector backend.
type VectorDocument struct {
	// ID is the vector identifier, "<documentID>_chunk_<index>" for chunked
	// documents. Re-inserting the same ID overwrites rather than duplicates.
	ID string

	// Vector is the embedding, with length equal to the collection dimension.
	Vector []float32

	// Content is the chunk text stored alongside the vector.
	Content string

	// Metadata holds flexible per-chunk fields (filename, chunk_index, ...).
	Metadata map[string]any
}

// CollectionSchema declares a collection before first use.
//
// Dimension is fixed for the collection's lifetime and must match the space's
// configured embedding dimension.
type CollectionSchema struct {
	Name        string
	Dimension   int
	Description string
}

// CollectionStats reports the size and shape of a collection.
type CollectionStats struct {
	// Count is the number of vectors stored.
	Count int64

	// Dimension is the fixed vector dimension.
	Dimension int
}

// SearchOptions tunes a similarity search.
type SearchOptions struct {
	// TopK is the maximum number of results. Must be positive.
	TopK int

	// ScoreThreshold drops results whose normalized score is below it.
	// Applied to the normalized score, never to the raw backend value.
	ScoreThreshold float64
}

// SearchResult is one similarity search hit.
type SearchResult struct {
	// ID is the vector identifier as inserted.
	ID string

	// Content is the stored chunk text.
	Content string

	// Score is the normalized similarity, higher-is-better.
	Score float64

	// Distance is the metric-native magnitude, kept for diagnostics.
	Distance float64

	// Metadata is the stored per-chunk metadata.
	Metadata map[string]any
}

// Provider is the contract every vector-store backend adapter satisfies.
//
// Lifecycle: a zero provider is constructed by its registry constructor,
// configured once via Initialize, used, and torn down via Cleanup. Cleanup is
// safe to call multiple times. All other methods return ErrNotInitialized
// before Initialize succeeds.
type Provider interface {
	// Initialize validates the merged configuration and connects to the
	// backend. Validation failures wrap ErrInvalidConfig and list every
	// violated field at once.
	Initialize(ctx context.Context, cfg Config) error

	// HasCollection reports whether a collection exists.
	HasCollection(ctx context.Context, name string) (bool, error)

	// CreateCollection creates a collection with a fixed schema. Creating an
	// existing collection is a logged no-op, not an error. After return the
	// collection is queryable.
	CreateCollection(ctx context.Context, schema CollectionSchema) error

	// DeleteCollection drops a collection and all its vectors. Deleting an
	// absent collection is a no-op.
	DeleteCollection(ctx context.Context, name string) error

	// ListCollections returns all collection names in the backend.
	ListCollections(ctx context.Context) ([]string, error)

	// Insert upserts documents into a collection. Empty input is a no-op.
	// A failed batch surfaces as one aggregate error; the adapter never
	// silently drops a subset.
	Insert(ctx context.Context, collection string, docs []VectorDocument) error

	// Delete removes vectors matching a structured filter. Matching nothing
	// is not an error.
	Delete(ctx context.Context, collection string, filter DeleteFilter) error

	// Search returns results whose normalized score meets the threshold,
	// ordered by descending score.
	Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]SearchResult, error)

	// CollectionStats returns vector count and dimension, or
	// ErrCollectionNotFound.
	CollectionStats(ctx context.Context, name string) (*CollectionStats, error)

	// Cleanup releases connections and handles. Safe to call repeatedly.
	Cleanup() error
}
