package vectorstore

import (
	"fmt"
	"strings"
)

// Metric identifies a distance/similarity metric family.
//
// Each metric has a native direction (higher-is-better or lower-is-better)
// and a native range. Normalize maps all of them onto one convention.
type Metric string

const (
	// MetricCosine is cosine similarity, native range [-1, 1], higher better.
	MetricCosine Metric = "cosine"

	// MetricDot is inner product. On L2-normalized vectors it equals cosine
	// similarity, so its normalized score matches MetricCosine exactly.
	MetricDot Metric = "dot"

	// MetricEuclid is L2 distance, native range [0, inf), lower better.
	MetricEuclid Metric = "euclid"

	// MetricManhattan is L1 distance, native range [0, inf), lower better.
	MetricManhattan Metric = "manhattan"

	// MetricHamming counts differing components, lower better.
	MetricHamming Metric = "hamming"

	// MetricJaccard is Jaccard distance, native range [0, 1], lower better.
	MetricJaccard Metric = "jaccard"
)

// Normalized is a backend score converted to the canonical convention.
type Normalized struct {
	// Score is the similarity in higher-is-better direction, roughly [0, 1].
	Score float64

	// Distance is the metric-native magnitude.
	Distance float64
}

// ParseMetric validates a metric name from configuration. Matching is
// case-insensitive, consistent with the tolerant config field readers.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(s)); m {
	case MetricCosine, MetricDot, MetricEuclid, MetricManhattan, MetricHamming, MetricJaccard:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown metric %q", ErrInvalidConfig, s)
	}
}

// Valid reports whether the metric is a known family.
func (m Metric) Valid() bool {
	_, err := ParseMetric(string(m))
	return err == nil
}

// AssumesUnitVectors reports whether the metric's score interpretation
// depends on L2-normalized inputs. Vectors must be normalized before
// insertion for these metrics so inner product and cosine stay numerically
// interchangeable.
func (m Metric) AssumesUnitVectors() bool {
	return m == MetricCosine || m == MetricDot
}

// Normalize converts a backend-native raw score for metric m into the
// canonical {Score, Distance} pair.
//
// Similarity metrics (cosine, dot) map [-1, 1] onto [0, 1] via (raw+1)/2.
// Unbounded distances (euclid, manhattan, hamming) map onto (0, 1] via
// 1/(1+d). Jaccard distance maps onto [0, 1] via 1-d. Threshold filtering
// is always applied to the returned Score, never to raw.
func Normalize(raw float64, m Metric) Normalized {
	switch m {
	case MetricCosine:
		return Normalized{Score: (raw + 1) / 2, Distance: 1 - raw}
	case MetricDot:
		// Equal to cosine on unit vectors; raw kept as the native magnitude.
		return Normalized{Score: (raw + 1) / 2, Distance: raw}
	case MetricEuclid, MetricManhattan, MetricHamming:
		return Normalized{Score: 1 / (1 + raw), Distance: raw}
	case MetricJaccard:
		return Normalized{Score: 1 - raw, Distance: raw}
	default:
		// Unknown metric: pass through so results stay visible rather than
		// silently dropped by threshold filtering.
		return Normalized{Score: raw, Distance: raw}
	}
}
