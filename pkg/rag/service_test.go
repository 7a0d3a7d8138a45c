package rag

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spacechat/ragcore/pkg/collections"
	"github.com/spacechat/ragcore/pkg/space"
	"github.com/spacechat/ragcore/pkg/vectorstore"
)

// fakeEmbedder returns fixed vectors per text, falling back to a marker
// vector for anything unregistered. Deterministic so similarity ordering in
// tests is exact.
type fakeEmbedder struct {
	dim     int
	vectors map[string][]float32
	fail    error
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	return &fakeEmbedder{dim: dim, vectors: make(map[string][]float32)}
}

func (f *fakeEmbedder) set(text string, vector []float32) {
	f.vectors[text] = vector
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = f.EmbedOne(text)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return f.EmbedOne(text), nil
}

func (f *fakeEmbedder) EmbedOne(text string) []float32 {
	if v, ok := f.vectors[text]; ok {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	v := make([]float32, f.dim)
	v[0] = 1
	return v
}

func newTestService(t *testing.T, embedder *fakeEmbedder) (*Service, *space.MemoryStore) {
	t.Helper()
	spaces := space.NewMemoryStore()
	require.NoError(t, spaces.Put(&space.Space{
		ID:             "team-alpha",
		VectorProvider: vectorstore.ProviderChromem,
		VectorConfig:   vectorstore.Config{},
		EmbeddingModel: "test/fixed-embedder",
		EmbeddingDim:   embedder.dim,
	}))

	svc := NewService(vectorstore.NewRegistry(), spaces, embedder, Options{
		ChunkSize:    50,
		ChunkOverlap: intPtr(10),
	}, zap.NewNop())
	t.Cleanup(func() { _ = svc.Close() })
	return svc, spaces
}

func intPtr(v int) *int { return &v }

func TestService_IngestAndQuery(t *testing.T) {
	ctx := context.Background()
	embedder := newFakeEmbedder(3)
	embedder.set("the sky is blue", []float32{1, 0, 0})
	embedder.set("grass is green", []float32{0, 1, 0})
	embedder.set("what color is the sky", []float32{0.9, 0.1, 0})
	svc, _ := newTestService(t, embedder)

	result, err := svc.IngestDocument(ctx, "team-alpha", Document{
		ID:      "doc-sky",
		Content: "the sky is blue",
		Metadata: DocumentMetadata{
			Filename: "sky.txt",
			FileType: "text/plain",
			Size:     15,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-sky", result.DocumentID)
	assert.Equal(t, collections.ForSpace("team-alpha"), result.Collection)
	assert.Equal(t, 1, result.ChunkCount)

	_, err = svc.IngestDocument(ctx, "team-alpha", Document{
		ID:      "doc-grass",
		Content: "grass is green",
	})
	require.NoError(t, err)

	sources, err := svc.Query(ctx, "team-alpha", "what color is the sky", QueryOptions{TopK: 2})
	require.NoError(t, err)
	require.Len(t, sources, 2)

	assert.Equal(t, "doc-sky_chunk_0", sources[0].ID)
	assert.Equal(t, "doc-sky", sources[0].DocumentID)
	assert.Equal(t, "the sky is blue", sources[0].Content)
	assert.Greater(t, sources[0].Score, sources[1].Score)
	assert.Equal(t, "sky.txt", sources[0].Metadata["filename"])
}

func TestService_QueryThreshold(t *testing.T) {
	ctx := context.Background()
	embedder := newFakeEmbedder(2)
	embedder.set("close", []float32{1, 0})
	embedder.set("far", []float32{0, 1})
	embedder.set("nearby", []float32{1, 0})
	svc, _ := newTestService(t, embedder)

	for _, content := range []string{"close", "far"} {
		_, err := svc.IngestDocument(ctx, "team-alpha", Document{ID: "doc-" + content, Content: content})
		require.NoError(t, err)
	}

	// Orthogonal chunks normalize to 0.5; the threshold keeps the match only.
	sources, err := svc.Query(ctx, "team-alpha", "nearby", QueryOptions{TopK: 10, ScoreThreshold: 0.9})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "doc-close_chunk_0", sources[0].ID)
}

func TestService_MultiChunkDocument(t *testing.T) {
	ctx := context.Background()
	embedder := newFakeEmbedder(2)
	svc, _ := newTestService(t, embedder)

	// 120 runes with chunk size 50 and overlap 10 gives step 40: three
	// chunks, the last one short.
	content := ""
	for i := 0; i < 120; i++ {
		content += "a"
	}
	result, err := svc.IngestDocument(ctx, "team-alpha", Document{ID: "doc-long", Content: content})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ChunkCount)

	sources, err := svc.Query(ctx, "team-alpha", "anything", QueryOptions{TopK: 10})
	require.NoError(t, err)
	require.Len(t, sources, 3)
	ids := make(map[string]bool)
	for _, src := range sources {
		ids[src.ID] = true
		assert.Equal(t, "doc-long", src.DocumentID)
	}
	assert.True(t, ids["doc-long_chunk_0"])
	assert.True(t, ids["doc-long_chunk_1"])
	assert.True(t, ids["doc-long_chunk_2"])
}

func TestOptions_OverlapDefaults(t *testing.T) {
	var def Options
	def.ApplyDefaults()
	require.NotNil(t, def.ChunkOverlap)
	assert.Equal(t, 100, *def.ChunkOverlap)

	zero := Options{ChunkOverlap: intPtr(0)}
	zero.ApplyDefaults()
	require.NotNil(t, zero.ChunkOverlap)
	assert.Equal(t, 0, *zero.ChunkOverlap)

	negative := Options{ChunkOverlap: intPtr(-3)}
	negative.ApplyDefaults()
	require.NotNil(t, negative.ChunkOverlap)
	assert.Equal(t, 0, *negative.ChunkOverlap)
}

func TestService_ZeroOverlapChunking(t *testing.T) {
	ctx := context.Background()
	embedder := newFakeEmbedder(2)
	spaces := space.NewMemoryStore()
	require.NoError(t, spaces.Put(&space.Space{
		ID:             "team-alpha",
		VectorProvider: vectorstore.ProviderChromem,
		VectorConfig:   vectorstore.Config{},
		EmbeddingModel: "test/fixed-embedder",
		EmbeddingDim:   embedder.dim,
	}))
	svc := NewService(vectorstore.NewRegistry(), spaces, embedder, Options{
		ChunkSize:    50,
		ChunkOverlap: intPtr(0),
	}, zap.NewNop())
	t.Cleanup(func() { _ = svc.Close() })

	// 100 runes with chunk size 50 and no overlap is exactly two chunks;
	// the coerced default overlap would produce three.
	content := ""
	for i := 0; i < 100; i++ {
		content += "a"
	}
	result, err := svc.IngestDocument(ctx, "team-alpha", Document{ID: "doc-flat", Content: content})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ChunkCount)
}

// Extra metadata must never displace the chunk's own identity or text.
func TestService_ExtraMetadataCannotMaskChunkFields(t *testing.T) {
	ctx := context.Background()
	embedder := newFakeEmbedder(2)
	embedder.set("genuine chunk text", []float32{1, 0})
	svc, _ := newTestService(t, embedder)

	_, err := svc.IngestDocument(ctx, "team-alpha", Document{
		ID:      "doc-safe",
		Content: "genuine chunk text",
		Metadata: DocumentMetadata{
			Extra: map[string]string{
				"id":      "spoofed-id",
				"content": "spoofed text",
				"author":  "alice",
			},
		},
	})
	require.NoError(t, err)

	sources, err := svc.Query(ctx, "team-alpha", "genuine chunk text", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, sources, 1)

	assert.Equal(t, "doc-safe_chunk_0", sources[0].ID)
	assert.Equal(t, "genuine chunk text", sources[0].Content)
	assert.Equal(t, "doc-safe", sources[0].DocumentID)
	assert.NotContains(t, sources[0].Metadata, "id")
	assert.NotContains(t, sources[0].Metadata, "content")
	assert.Equal(t, "alice", sources[0].Metadata["author"])
}

func TestService_IngestValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, newFakeEmbedder(2))

	_, err := svc.IngestDocument(ctx, "team-alpha", Document{Content: "text"})
	require.ErrorIs(t, err, ErrMissingDocumentID)

	_, err = svc.IngestDocument(ctx, "team-alpha", Document{ID: "doc-1"})
	require.ErrorIs(t, err, ErrEmptyDocument)
}

func TestService_IngestUnknownSpace(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, newFakeEmbedder(2))

	_, err := svc.IngestDocument(ctx, "nope", Document{ID: "doc-1", Content: "text"})
	require.ErrorIs(t, err, space.ErrSpaceNotFound)
}

func TestService_IngestDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	embedder := newFakeEmbedder(2)
	svc, spaces := newTestService(t, embedder)

	require.NoError(t, spaces.Put(&space.Space{
		ID:             "team-wide",
		VectorProvider: vectorstore.ProviderChromem,
		VectorConfig:   vectorstore.Config{},
		EmbeddingModel: "test/fixed-embedder",
		EmbeddingDim:   4,
	}))

	_, err := svc.IngestDocument(ctx, "team-wide", Document{ID: "doc-1", Content: "text"})
	require.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)

	_, err = svc.Query(ctx, "team-wide", "question", QueryOptions{})
	require.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

// driftStore returns a mutable space record, bypassing MemoryStore's
// write-time validation, to model configuration drifting after the provider
// has been cached.
type driftStore struct {
	mu sync.Mutex
	sp space.Space
}

func (d *driftStore) GetSpace(ctx context.Context, id string) (*space.Space, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id != d.sp.ID {
		return nil, space.ErrSpaceNotFound
	}
	copied := d.sp
	return &copied, nil
}

func (d *driftStore) setModel(model string) {
	d.mu.Lock()
	d.sp.EmbeddingModel = model
	d.mu.Unlock()
}

// A space whose model no longer supports its dimension is rejected on every
// operation, including ones served by an already-cached provider.
func TestService_SpaceDriftRevalidatedOnEveryCall(t *testing.T) {
	ctx := context.Background()
	embedder := newFakeEmbedder(512)
	store := &driftStore{sp: space.Space{
		ID:             "team-alpha",
		VectorProvider: vectorstore.ProviderChromem,
		VectorConfig:   vectorstore.Config{},
		EmbeddingModel: "text-embedding-3-small",
		EmbeddingDim:   512,
	}}

	svc := NewService(vectorstore.NewRegistry(), store, embedder, Options{
		ChunkSize:    50,
		ChunkOverlap: intPtr(10),
	}, zap.NewNop())
	t.Cleanup(func() { _ = svc.Close() })

	// Warm the provider cache with a valid record.
	_, err := svc.IngestDocument(ctx, "team-alpha", Document{ID: "doc-1", Content: "warm up"})
	require.NoError(t, err)

	// Drift to a model that only supports dimension 384 while the space
	// still declares 512.
	store.setModel("BAAI/bge-small-en-v1.5")

	_, err = svc.Query(ctx, "team-alpha", "anything", QueryOptions{})
	require.ErrorIs(t, err, space.ErrInvalidSpace)

	err = svc.DeleteDocument(ctx, "team-alpha", "doc-1")
	require.ErrorIs(t, err, space.ErrInvalidSpace)

	_, err = svc.IngestDocument(ctx, "team-alpha", Document{ID: "doc-2", Content: "rejected"})
	require.ErrorIs(t, err, space.ErrInvalidSpace)

	// Restoring a coherent record brings the space back without rebuilds.
	store.setModel("text-embedding-3-small")
	_, err = svc.Query(ctx, "team-alpha", "anything", QueryOptions{})
	require.NoError(t, err)
}

func TestService_EmptyQuery(t *testing.T) {
	svc, _ := newTestService(t, newFakeEmbedder(2))
	_, err := svc.Query(context.Background(), "team-alpha", "", QueryOptions{})
	require.ErrorIs(t, err, ErrEmptyQuery)
}

func TestService_DeleteDocument(t *testing.T) {
	ctx := context.Background()
	embedder := newFakeEmbedder(2)
	embedder.set("keep", []float32{1, 0})
	embedder.set("drop", []float32{0, 1})
	svc, _ := newTestService(t, embedder)

	for _, content := range []string{"keep", "drop"} {
		_, err := svc.IngestDocument(ctx, "team-alpha", Document{ID: "doc-" + content, Content: content})
		require.NoError(t, err)
	}

	require.NoError(t, svc.DeleteDocument(ctx, "team-alpha", "doc-drop"))

	stats, err := svc.SpaceStats(ctx, "team-alpha")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Count)

	sources, err := svc.Query(ctx, "team-alpha", "keep", QueryOptions{TopK: 10})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "doc-keep", sources[0].DocumentID)
}

func TestService_DeleteDocumentFromSpaces(t *testing.T) {
	ctx := context.Background()
	embedder := newFakeEmbedder(2)
	svc, spaces := newTestService(t, embedder)

	require.NoError(t, spaces.Put(&space.Space{
		ID:             "team-beta",
		VectorProvider: vectorstore.ProviderChromem,
		VectorConfig:   vectorstore.Config{},
		EmbeddingModel: "test/fixed-embedder",
		EmbeddingDim:   2,
	}))

	for _, spaceID := range []string{"team-alpha", "team-beta"} {
		_, err := svc.IngestDocument(ctx, spaceID, Document{ID: "doc-shared", Content: "shared"})
		require.NoError(t, err)
	}

	// One space fails to resolve; the other deletions still happen and the
	// failure is reported per space.
	err := svc.DeleteDocumentFromSpaces(ctx, []string{"team-alpha", "missing", "team-beta"}, "doc-shared")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")

	for _, spaceID := range []string{"team-alpha", "team-beta"} {
		stats, err := svc.SpaceStats(ctx, spaceID)
		require.NoError(t, err)
		assert.EqualValues(t, 0, stats.Count, "space %s", spaceID)
	}
}

func TestService_ReingestOverwritesChunks(t *testing.T) {
	ctx := context.Background()
	embedder := newFakeEmbedder(2)
	svc, _ := newTestService(t, embedder)

	for i := 0; i < 2; i++ {
		_, err := svc.IngestDocument(ctx, "team-alpha", Document{ID: "doc-1", Content: "same id twice"})
		require.NoError(t, err)
	}

	stats, err := svc.SpaceStats(ctx, "team-alpha")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Count, "same vector IDs overwrite, not duplicate")
}

func TestService_ClearSpace(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, newFakeEmbedder(2))

	_, err := svc.IngestDocument(ctx, "team-alpha", Document{ID: "doc-1", Content: "text"})
	require.NoError(t, err)

	require.NoError(t, svc.ClearSpace(ctx, "team-alpha"))

	// The collection is gone and the provider was rebuilt on next use.
	_, err = svc.SpaceStats(ctx, "team-alpha")
	require.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)

	// Ingesting again recreates the collection.
	_, err = svc.IngestDocument(ctx, "team-alpha", Document{ID: "doc-2", Content: "text"})
	require.NoError(t, err)
}

func TestService_QueryDefaults(t *testing.T) {
	ctx := context.Background()
	embedder := newFakeEmbedder(2)
	svc, _ := newTestService(t, embedder)

	// Ingest more documents than the default TopK of 5.
	for i := 0; i < 8; i++ {
		_, err := svc.IngestDocument(ctx, "team-alpha", Document{
			ID:      fmt.Sprintf("doc-%d", i),
			Content: fmt.Sprintf("document number %d", i),
		})
		require.NoError(t, err)
	}

	sources, err := svc.Query(ctx, "team-alpha", "anything", QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, sources, 5)
}

func TestService_CloseIdempotent(t *testing.T) {
	svc, _ := newTestService(t, newFakeEmbedder(2))
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	_, err := svc.IngestDocument(context.Background(), "team-alpha", Document{ID: "doc-1", Content: "text"})
	require.ErrorIs(t, err, ErrServiceClosed)
}
