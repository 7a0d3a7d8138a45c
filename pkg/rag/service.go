package rag

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/spacechat/ragcore/pkg/chunker"
	"github.com/spacechat/ragcore/pkg/collections"
	"github.com/spacechat/ragcore/pkg/embeddings"
	"github.com/spacechat/ragcore/pkg/space"
	"github.com/spacechat/ragcore/pkg/vectorstore"
)

// Options tunes the pipeline. Zero values take the defaults.
type Options struct {
	// ChunkSize is the sliding window width in runes.
	ChunkSize int

	// ChunkOverlap is how many runes consecutive chunks share. nil takes
	// the default; a pointer to zero requests non-overlapping chunks.
	ChunkOverlap *int

	// TopK is the default result count for queries that do not set one.
	TopK int

	// ScoreThreshold is the default normalized-score cut for queries.
	ScoreThreshold float64

	// QueueSize bounds how many ingestions may wait behind the running one.
	QueueSize int
}

// ApplyDefaults fills unset options.
func (o *Options) ApplyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 500
	}
	if o.ChunkOverlap == nil {
		overlap := 100
		o.ChunkOverlap = &overlap
	} else if *o.ChunkOverlap < 0 {
		zero := 0
		o.ChunkOverlap = &zero
	}
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 16
	}
}

// Service is the ingestion and retrieval facade.
//
// Ingestion runs serially through an executor; queries run concurrently
// against cached providers. Each space resolves to its own provider,
// collection, and metric.
type Service struct {
	opts     Options
	spaces   space.ConfigStore
	embedder embeddings.Embedder
	cache    *providerCache
	executor *SerialExecutor
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewService builds a Service. logger may be nil.
func NewService(registry *vectorstore.Registry, spaces space.ConfigStore, embedder embeddings.Embedder, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.ApplyDefaults()
	return &Service{
		opts:     opts,
		spaces:   spaces,
		embedder: embedder,
		cache:    newProviderCache(registry, spaces, logger),
		executor: NewSerialExecutor(opts.QueueSize),
		logger:   logger,
	}
}

// IngestDocument chunks, embeds, and stores a document in its space's
// collection. Ingestions are serialized: concurrent calls queue and run one
// at a time in arrival order. Vector IDs are "<documentID>_chunk_<index>",
// so re-ingesting a document overwrites its previous chunks in place.
func (s *Service) IngestDocument(ctx context.Context, spaceID string, doc Document) (*IngestResult, error) {
	if doc.ID == "" {
		return nil, ErrMissingDocumentID
	}
	if doc.Content == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, doc.ID)
	}

	var result *IngestResult
	err := s.executor.Submit(ctx, func(ctx context.Context) error {
		r, err := s.ingest(ctx, spaceID, doc)
		result = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) ingest(ctx context.Context, spaceID string, doc Document) (*IngestResult, error) {
	sp, err := s.spaces.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, fmt.Errorf("resolving space %s: %w", spaceID, err)
	}
	if err := sp.Validate(); err != nil {
		return nil, err
	}

	chunks, err := chunker.Split(doc.Content, s.opts.ChunkSize, *s.opts.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("chunking document %s: %w", doc.ID, err)
	}
	if len(chunks) == 0 {
		return &IngestResult{DocumentID: doc.ID}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding document %s: %w", doc.ID, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedding document %s: got %d vectors for %d chunks", doc.ID, len(vectors), len(chunks))
	}
	for i, v := range vectors {
		if len(v) != sp.EmbeddingDim {
			return nil, fmt.Errorf("%w: chunk %d has dimension %d, space %s expects %d",
				vectorstore.ErrDimensionMismatch, i, len(v), spaceID, sp.EmbeddingDim)
		}
	}

	provider, metric, err := s.cache.get(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	if metric.AssumesUnitVectors() {
		embeddings.NormalizeL2Batch(vectors)
	}

	collection := collections.ForSpace(spaceID)
	if err := provider.CreateCollection(ctx, vectorstore.CollectionSchema{
		Name:      collection,
		Dimension: sp.EmbeddingDim,
	}); err != nil {
		return nil, fmt.Errorf("ensuring collection %s: %w", collection, err)
	}

	docs := make([]vectorstore.VectorDocument, len(chunks))
	for i, c := range chunks {
		docs[i] = vectorstore.VectorDocument{
			ID:       fmt.Sprintf("%s_chunk_%d", doc.ID, c.Index),
			Vector:   vectors[i],
			Content:  c.Content,
			Metadata: chunkMetadata(doc, c.Index, len(chunks)),
		}
	}
	if err := provider.Insert(ctx, collection, docs); err != nil {
		return nil, fmt.Errorf("inserting document %s: %w", doc.ID, err)
	}

	s.logger.Info("document ingested",
		zap.String("space", spaceID),
		zap.String("document", doc.ID),
		zap.String("collection", collection),
		zap.Int("chunks", len(chunks)),
	)
	return &IngestResult{
		DocumentID: doc.ID,
		Collection: collection,
		ChunkCount: len(chunks),
	}, nil
}

func chunkMetadata(doc Document, index, total int) map[string]any {
	metadata := map[string]any{
		"document_id":  doc.ID,
		"chunk_index":  index,
		"total_chunks": total,
	}
	if doc.Metadata.Filename != "" {
		metadata["filename"] = doc.Metadata.Filename
	}
	if doc.Metadata.FileType != "" {
		metadata["file_type"] = doc.Metadata.FileType
	}
	if !doc.Metadata.UploadedAt.IsZero() {
		metadata["uploaded_at"] = doc.Metadata.UploadedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	if doc.Metadata.Size > 0 {
		metadata["size"] = doc.Metadata.Size
	}
	for k, v := range doc.Metadata.Extra {
		// "id" and "content" are written by the store itself.
		if k == "id" || k == "content" {
			continue
		}
		if _, reserved := metadata[k]; !reserved {
			metadata[k] = v
		}
	}
	return metadata
}

// Query embeds the query text and retrieves the closest chunks from the
// space's collection, ranked by normalized score. Queries run concurrently;
// they do not pass through the ingestion executor.
func (s *Service) Query(ctx context.Context, spaceID, query string, opts QueryOptions) ([]Source, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if opts.TopK <= 0 {
		opts.TopK = s.opts.TopK
	}
	if opts.ScoreThreshold == 0 {
		opts.ScoreThreshold = s.opts.ScoreThreshold
	}

	sp, err := s.spaces.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, fmt.Errorf("resolving space %s: %w", spaceID, err)
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vector) != sp.EmbeddingDim {
		return nil, fmt.Errorf("%w: query has dimension %d, space %s expects %d",
			vectorstore.ErrDimensionMismatch, len(vector), spaceID, sp.EmbeddingDim)
	}

	provider, metric, err := s.cache.get(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	if metric.AssumesUnitVectors() {
		embeddings.NormalizeL2(vector)
	}

	collection := collections.ForSpace(spaceID)
	results, err := provider.Search(ctx, collection, vector, vectorstore.SearchOptions{
		TopK:           opts.TopK,
		ScoreThreshold: opts.ScoreThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("querying space %s: %w", spaceID, err)
	}

	sources := make([]Source, len(results))
	for i, r := range results {
		source := Source{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Score,
			Distance: r.Distance,
			Metadata: r.Metadata,
		}
		if docID, ok := r.Metadata["document_id"].(string); ok {
			source.DocumentID = docID
		}
		sources[i] = source
	}
	return sources, nil
}

// DeleteDocument removes every chunk of a document from a space.
func (s *Service) DeleteDocument(ctx context.Context, spaceID, documentID string) error {
	if documentID == "" {
		return ErrMissingDocumentID
	}

	provider, _, err := s.cache.get(ctx, spaceID)
	if err != nil {
		return err
	}

	collection := collections.ForSpace(spaceID)
	if err := provider.Delete(ctx, collection, vectorstore.ByDocument(documentID)); err != nil {
		return fmt.Errorf("deleting document %s from space %s: %w", documentID, spaceID, err)
	}

	s.logger.Info("document deleted",
		zap.String("space", spaceID),
		zap.String("document", documentID),
	)
	return nil
}

// DeleteDocumentFromSpaces removes a document from every named space.
// Failures do not stop the sweep; all of them come back in one aggregate
// error so a partially failed cleanup is visible per space.
func (s *Service) DeleteDocumentFromSpaces(ctx context.Context, spaceIDs []string, documentID string) error {
	var errs error
	for _, spaceID := range spaceIDs {
		if err := s.DeleteDocument(ctx, spaceID, documentID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("space %s: %w", spaceID, err))
		}
	}
	return errs
}

// ClearSpace drops the space's collection and evicts its cached provider, so
// the next operation against the space starts from a fresh connection and an
// absent collection.
func (s *Service) ClearSpace(ctx context.Context, spaceID string) error {
	provider, _, err := s.cache.get(ctx, spaceID)
	if err != nil {
		return err
	}

	collection := collections.ForSpace(spaceID)
	if err := provider.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("clearing space %s: %w", spaceID, err)
	}
	if err := s.cache.evict(spaceID); err != nil {
		return fmt.Errorf("evicting provider for space %s: %w", spaceID, err)
	}

	s.logger.Info("space cleared", zap.String("space", spaceID))
	return nil
}

// SpaceStats returns chunk count and dimension for a space's collection.
func (s *Service) SpaceStats(ctx context.Context, spaceID string) (*vectorstore.CollectionStats, error) {
	provider, _, err := s.cache.get(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	stats, err := provider.CollectionStats(ctx, collections.ForSpace(spaceID))
	if err != nil {
		return nil, fmt.Errorf("stats for space %s: %w", spaceID, err)
	}
	return stats, nil
}

// ListCollections lists every collection visible to a space's provider.
func (s *Service) ListCollections(ctx context.Context, spaceID string) ([]string, error) {
	provider, _, err := s.cache.get(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	return provider.ListCollections(ctx)
}

// Close drains queued ingestions and cleans up every cached provider.
// Safe to call multiple times.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.executor.Close()
	return s.cache.close()
}
