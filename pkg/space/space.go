// Package space holds per-space vector store and embedding configuration.
//
// A space is the tenancy unit: each space owns one collection in its
// configured backend, one embedding model, and one embedding dimension. The
// ConfigStore abstraction is where space settings come from; the in-memory
// implementation backs tests and single-process deployments.
package space

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spacechat/ragcore/pkg/vectorstore"
)

var (
	// ErrSpaceNotFound indicates the space has no stored configuration.
	ErrSpaceNotFound = errors.New("space not found")

	// ErrInvalidSpace indicates incomplete or inconsistent space settings.
	ErrInvalidSpace = errors.New("invalid space configuration")
)

// Space is the stored configuration for one tenancy unit.
type Space struct {
	// ID is the external space identifier, sanitized into the collection name.
	ID string

	// VectorProvider selects the backend type for this space.
	VectorProvider vectorstore.ProviderType

	// VectorConfig is the backend connection configuration. A space with no
	// configuration cannot be served; providers never fall back to inferred
	// connection details.
	VectorConfig vectorstore.Config

	// EmbeddingModel names the model whose vectors populate the collection.
	EmbeddingModel string

	// EmbeddingDim is the vector dimension, fixed at space creation.
	EmbeddingDim int
}

// Validate checks that the space carries everything needed to build a
// provider and embed against it.
func (s *Space) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing space ID", ErrInvalidSpace)
	}
	if s.VectorProvider == "" {
		return fmt.Errorf("%w: space %s has no vector provider", ErrInvalidSpace, s.ID)
	}
	if s.VectorConfig == nil {
		return fmt.Errorf("%w: space %s has no vector store configuration", ErrInvalidSpace, s.ID)
	}
	if s.EmbeddingModel == "" {
		return fmt.Errorf("%w: space %s has no embedding model", ErrInvalidSpace, s.ID)
	}
	if err := ValidateDimension(s.EmbeddingModel, s.EmbeddingDim); err != nil {
		return fmt.Errorf("space %s: %w", s.ID, err)
	}
	return nil
}

// ConfigStore resolves space configuration by ID.
type ConfigStore interface {
	GetSpace(ctx context.Context, id string) (*Space, error)
}

// MemoryStore is an in-memory ConfigStore.
type MemoryStore struct {
	mu     sync.RWMutex
	spaces map[string]*Space
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{spaces: make(map[string]*Space)}
}

// Put validates and stores a space, replacing any existing entry.
func (m *MemoryStore) Put(s *Space) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *s
	m.spaces[s.ID] = &copied
	return nil
}

// GetSpace returns the stored configuration for a space.
func (m *MemoryStore) GetSpace(ctx context.Context, id string) (*Space, error) {
	m.mu.RLock()
	s, ok := m.spaces[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSpaceNotFound, id)
	}
	copied := *s
	return &copied, nil
}

// Delete removes a space's configuration. Unknown IDs are a no-op.
func (m *MemoryStore) Delete(id string) {
	m.mu.Lock()
	delete(m.spaces, id)
	m.mu.Unlock()
}

var _ ConfigStore = (*MemoryStore)(nil)
