package index

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/xxxsen/docqa/internal/model"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

type Metric string

const (
	MetricCosine Metric = "cosine"
	// MetricInnerProduct expects unit length embeddings, which makes its
	// scores comparable with cosine scores.
	MetricInnerProduct Metric = "ip"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", MetricCosine:
		return MetricCosine, nil
	case MetricInnerProduct:
		return MetricInnerProduct, nil
	default:
		return "", fmt.Errorf("unsupported index metric %q: %w", s, appErr.ErrInvalid)
	}
}

// Index is an append-only store of embedded fragments searchable by vector
// similarity. Insert is all-or-nothing per batch.
type Index interface {
	Insert(ctx context.Context, entries []model.Entry) error
	Search(ctx context.Context, vector []float32, topK int) ([]model.Hit, error)
	HasSource(ctx context.Context, sourceID string) (bool, error)
	Count(ctx context.Context) (int, error)
}

type fragmentKey struct {
	sourceID   string
	chunkIndex int
}

// validateBatch checks a batch on its own and returns its vector dimension.
func validateBatch(entries []model.Entry) (int, error) {
	dim := len(entries[0].Vector)
	if dim == 0 {
		return 0, fmt.Errorf("empty vector for %s#%d: %w", entries[0].Fragment.SourceID, entries[0].Fragment.ChunkIndex, appErr.ErrDimensionMismatch)
	}
	seen := make(map[fragmentKey]struct{}, len(entries))
	for _, e := range entries {
		if len(e.Vector) != dim {
			return 0, fmt.Errorf("batch mixes dimensions %d and %d: %w", dim, len(e.Vector), appErr.ErrDimensionMismatch)
		}
		if e.Fragment.Content == "" {
			return 0, fmt.Errorf("empty content for %s#%d: %w", e.Fragment.SourceID, e.Fragment.ChunkIndex, appErr.ErrInvalid)
		}
		key := fragmentKey{sourceID: e.Fragment.SourceID, chunkIndex: e.Fragment.ChunkIndex}
		if _, ok := seen[key]; ok {
			return 0, fmt.Errorf("duplicate fragment %s#%d in batch: %w", key.sourceID, key.chunkIndex, appErr.ErrConflict)
		}
		seen[key] = struct{}{}
	}
	return dim, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
