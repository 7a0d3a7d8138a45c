package space

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownModel indicates a model absent from the catalog.
var ErrUnknownModel = errors.New("unknown embedding model")

// Model describes an embedding model and the vector dimensions it can emit.
// OpenAI's v3 models accept a dimensions parameter, so they list several.
type Model struct {
	ID         string
	Dimensions []int
}

// Supports reports whether the model can emit vectors of the given dimension.
func (m Model) Supports(dim int) bool {
	for _, d := range m.Dimensions {
		if d == dim {
			return true
		}
	}
	return false
}

// catalog of known embedding models. Dimension validation at ingest time
// catches a misconfigured space before vectors of the wrong width reach a
// collection.
var catalog = map[string]Model{
	"text-embedding-3-small": {
		ID:         "text-embedding-3-small",
		Dimensions: []int{512, 1536},
	},
	"text-embedding-3-large": {
		ID:         "text-embedding-3-large",
		Dimensions: []int{256, 1024, 3072},
	},
	"text-embedding-ada-002": {
		ID:         "text-embedding-ada-002",
		Dimensions: []int{1536},
	},
	"BAAI/bge-small-en-v1.5": {
		ID:         "BAAI/bge-small-en-v1.5",
		Dimensions: []int{384},
	},
	"nomic-ai/nomic-embed-text-v1.5": {
		ID:         "nomic-ai/nomic-embed-text-v1.5",
		Dimensions: []int{768},
	},
}

// LookupModel returns the catalog entry for a model ID.
func LookupModel(id string) (Model, error) {
	m, ok := catalog[id]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	return m, nil
}

// KnownModels returns the catalog model IDs, sorted.
func KnownModels() []string {
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateDimension checks that a model/dimension pair is coherent.
// Unknown models pass with any positive dimension so self-hosted models do
// not need catalog entries.
func ValidateDimension(modelID string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidSpace, dim)
	}
	m, ok := catalog[modelID]
	if !ok {
		return nil
	}
	if !m.Supports(dim) {
		return fmt.Errorf("%w: model %s supports dimensions %v, got %d", ErrInvalidSpace, modelID, m.Dimensions, dim)
	}
	return nil
}
