package vectorstore

import (
	"fmt"
	"strings"
)

// IndexType selects the vector index family for a collection.
//
// A single enum value is enough to reconstruct the full build-parameter set:
// each type carries documented defaults, so spaces only store the type.
type IndexType string

const (
	// IndexHNSW is a graph index tuned for recall (m=16, ef_construct=128).
	IndexHNSW IndexType = "hnsw"

	// IndexHNSWSQ is HNSW with int8 scalar quantization for memory-bound
	// deployments. Graph parameters match IndexHNSW.
	IndexHNSWSQ IndexType = "hnsw_sq"

	// IndexHNSWPQ is HNSW with product quantization (16x compression).
	// Trades recall for the smallest footprint.
	IndexHNSWPQ IndexType = "hnsw_pq"

	// IndexFlat disables approximate indexing; every search is exact.
	// Only sensible for small collections.
	IndexFlat IndexType = "flat"
)

// IndexParams is the full build-parameter set derived from an IndexType.
type IndexParams struct {
	// M is the HNSW graph out-degree. Zero for flat.
	M uint64

	// EfConstruct is the HNSW build-time breadth. Zero for flat.
	EfConstruct uint64

	// ScalarQuantization enables int8 scalar quantization.
	ScalarQuantization bool

	// ProductQuantization enables product quantization.
	ProductQuantization bool

	// Exact forces brute-force search, bypassing any index.
	Exact bool
}

// ParseIndexType validates an index type name from configuration. Matching
// is case-insensitive, consistent with ParseMetric.
func ParseIndexType(s string) (IndexType, error) {
	switch t := IndexType(strings.ToLower(s)); t {
	case IndexHNSW, IndexHNSWSQ, IndexHNSWPQ, IndexFlat:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown index type %q", ErrInvalidConfig, s)
	}
}

// Params expands the index type into its build parameters.
func (t IndexType) Params() IndexParams {
	switch t {
	case IndexHNSWSQ:
		return IndexParams{M: 16, EfConstruct: 128, ScalarQuantization: true}
	case IndexHNSWPQ:
		return IndexParams{M: 16, EfConstruct: 128, ProductQuantization: true}
	case IndexFlat:
		return IndexParams{Exact: true}
	default:
		// hnsw and anything unrecognized fall back to plain HNSW defaults.
		return IndexParams{M: 16, EfConstruct: 128}
	}
}

// SearchBreadth derives the runtime search breadth (hnsw_ef) from the
// requested result count. Breadth widens proportionally to topK so recall
// does not collapse for large result sets, with a floor for small ones.
func SearchBreadth(topK int) uint64 {
	const floor = 128
	ef := uint64(topK) * 4
	if ef < floor {
		return floor
	}
	return ef
}
