package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func chromemDefaults() Config {
	return Config{
		"path":     "",
		"compress": false,
		"metric":   string(MetricCosine),
	}
}

// validateChromemConfig reports every violated field at once. Chromem
// computes cosine similarity only, so any other metric is rejected.
func validateChromemConfig(cfg Config) []string {
	var violations []string

	if _, v := stringField(cfg, "path"); v != "" {
		violations = append(violations, v)
	}
	if _, v := boolField(cfg, "compress"); v != "" {
		violations = append(violations, v)
	}

	metricName, v := stringField(cfg, "metric")
	if v != "" {
		violations = append(violations, v)
	} else if metricName != "" {
		if m, err := ParseMetric(metricName); err != nil || m != MetricCosine {
			violations = append(violations, fmt.Sprintf("metric: chromem supports only %q, got %q", MetricCosine, metricName))
		}
	}

	return violations
}

// chromemProvider implements Provider on an embedded chromem-go database.
// With an empty path the store is purely in-memory, which is what the tests
// use; with a path set it persists to disk.
type chromemProvider struct {
	db     *chromem.DB
	logger *zap.Logger

	mu   sync.RWMutex
	dims map[string]int
}

func newChromemProvider(logger *zap.Logger) Provider {
	return &chromemProvider{logger: logger, dims: make(map[string]int)}
}

// noEmbedFunc is passed wherever chromem demands an embedding function.
// All vectors arrive precomputed; chromem must never embed on its own
// (passing nil makes it fall back to a default OpenAI embedder).
func noEmbedFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embeddings must be precomputed")
}

func (p *chromemProvider) Initialize(ctx context.Context, cfg Config) error {
	if violations := validateChromemConfig(cfg); len(violations) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(violations, "; "))
	}

	path, _ := stringField(cfg, "path")
	compress, _ := boolField(cfg, "compress")

	if path == "" {
		p.db = chromem.NewDB()
		p.logger.Info("chromem provider initialized in-memory")
		return nil
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("%w: expanding path %s: %v", ErrInvalidConfig, path, err)
		}
		path = filepath.Join(home, path[2:])
	}

	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return fmt.Errorf("%w: opening chromem db at %s: %v", ErrConnectionFailed, path, err)
	}
	p.db = db
	p.logger.Info("chromem provider initialized",
		zap.String("path", path),
		zap.Bool("compress", compress),
	)
	return nil
}

func (p *chromemProvider) ready() error {
	if p.db == nil {
		return ErrNotInitialized
	}
	return nil
}

func (p *chromemProvider) HasCollection(ctx context.Context, name string) (bool, error) {
	if err := p.ready(); err != nil {
		return false, err
	}
	return p.db.GetCollection(name, noEmbedFunc) != nil, nil
}

// CreateCollection records the declared dimension and materializes the
// collection. Creating an existing collection is a logged no-op.
func (p *chromemProvider) CreateCollection(ctx context.Context, schema CollectionSchema) error {
	if err := p.ready(); err != nil {
		return err
	}
	if schema.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, schema.Dimension)
	}

	if p.db.GetCollection(schema.Name, noEmbedFunc) != nil {
		p.logger.Info("collection already exists, skipping create",
			zap.String("collection", schema.Name),
		)
		return nil
	}

	metadata := map[string]string{"dimension": strconv.Itoa(schema.Dimension)}
	if schema.Description != "" {
		metadata["description"] = schema.Description
	}
	if _, err := p.db.GetOrCreateCollection(schema.Name, metadata, noEmbedFunc); err != nil {
		return fmt.Errorf("creating collection %s: %w", schema.Name, err)
	}

	p.mu.Lock()
	p.dims[schema.Name] = schema.Dimension
	p.mu.Unlock()

	p.logger.Info("collection created",
		zap.String("collection", schema.Name),
		zap.Int("dimension", schema.Dimension),
	)
	return nil
}

// DeleteCollection drops a collection; deleting an absent one is a no-op.
func (p *chromemProvider) DeleteCollection(ctx context.Context, name string) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := p.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	p.mu.Lock()
	delete(p.dims, name)
	p.mu.Unlock()
	return nil
}

func (p *chromemProvider) ListCollections(ctx context.Context) ([]string, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	collections := p.db.ListCollections()
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Insert adds documents with their precomputed embeddings. The batch is
// validated as a whole before anything is written.
func (p *chromemProvider) Insert(ctx context.Context, collection string, docs []VectorDocument) error {
	if err := p.ready(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	col := p.db.GetCollection(collection, noEmbedFunc)
	if col == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	var invalid error
	for i, doc := range docs {
		if doc.ID == "" {
			invalid = multierr.Append(invalid, fmt.Errorf("document %d: missing ID", i))
		}
		if len(doc.Vector) == 0 {
			invalid = multierr.Append(invalid, fmt.Errorf("document %s: empty vector", doc.ID))
		}
		if len(doc.Vector) != len(docs[0].Vector) {
			invalid = multierr.Append(invalid, fmt.Errorf("%w: document %s has dimension %d, batch has %d", ErrDimensionMismatch, doc.ID, len(doc.Vector), len(docs[0].Vector)))
		}
	}
	if invalid != nil {
		return invalid
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		metadata := make(map[string]string, len(doc.Metadata))
		for k, v := range doc.Metadata {
			metadata[k] = fmt.Sprintf("%v", v)
		}
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Metadata:  metadata,
			Embedding: doc.Vector,
			Content:   doc.Content,
		}
	}

	// Concurrency of 1: embeddings are precomputed, nothing to parallelize.
	if err := col.AddDocuments(ctx, chromemDocs, 1); err != nil {
		return fmt.Errorf("adding %d documents to collection %s: %w", len(docs), collection, err)
	}

	p.mu.Lock()
	if p.dims[collection] == 0 {
		p.dims[collection] = len(docs[0].Vector)
	}
	p.mu.Unlock()

	return nil
}

// Delete removes documents matching the structured filter.
func (p *chromemProvider) Delete(ctx context.Context, collection string, filter DeleteFilter) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := filter.Validate(); err != nil {
		return err
	}

	col := p.db.GetCollection(collection, noEmbedFunc)
	if col == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	if filter.DocumentID != "" {
		where := map[string]string{"document_id": filter.DocumentID}
		if err := col.Delete(ctx, where, nil); err != nil {
			return fmt.Errorf("deleting document %s from collection %s: %w", filter.DocumentID, collection, err)
		}
		return nil
	}

	if err := col.Delete(ctx, nil, nil, filter.VectorIDs...); err != nil {
		return fmt.Errorf("deleting %d vectors from collection %s: %w", len(filter.VectorIDs), collection, err)
	}
	return nil
}

// Search runs a cosine similarity query. Chromem requires nResults to not
// exceed the stored document count, so topK is clamped. Raw similarity is
// normalized before the threshold cut.
func (p *chromemProvider) Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]SearchResult, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", opts.TopK)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrDimensionMismatch)
	}

	col := p.db.GetCollection(collection, noEmbedFunc)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	count := col.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}
	n := opts.TopK
	if n > count {
		n = count
	}

	matches, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("searching collection %s: %w", collection, err)
	}

	results := make([]SearchResult, 0, len(matches))
	for _, match := range matches {
		norm := Normalize(float64(match.Similarity), MetricCosine)
		if norm.Score < opts.ScoreThreshold {
			continue
		}

		metadata := make(map[string]any, len(match.Metadata))
		for k, v := range match.Metadata {
			metadata[k] = v
		}
		results = append(results, SearchResult{
			ID:       match.ID,
			Content:  match.Content,
			Score:    norm.Score,
			Distance: norm.Distance,
			Metadata: metadata,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func (p *chromemProvider) CollectionStats(ctx context.Context, name string) (*CollectionStats, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	col := p.db.GetCollection(name, noEmbedFunc)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	p.mu.RLock()
	dim := p.dims[name]
	p.mu.RUnlock()

	return &CollectionStats{
		Count:     int64(col.Count()),
		Dimension: dim,
	}, nil
}

// Cleanup releases the database handle. Safe to call multiple times.
func (p *chromemProvider) Cleanup() error {
	p.db = nil
	return nil
}

var _ Provider = (*chromemProvider)(nil)
