package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/ai"
	"github.com/xxxsen/docqa/internal/index"
	"github.com/xxxsen/docqa/internal/model"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

type Retriever struct {
	embedder ai.IEmbedder
	index    index.Index
}

func New(embedder ai.IEmbedder, idx index.Index) *Retriever {
	return &Retriever{embedder: embedder, index: idx}
}

// Retrieve embeds text, fetches the topK nearest fragments and marks those
// scoring at least threshold as relevant.
func (r *Retriever) Retrieve(ctx context.Context, text string, topK int, threshold float64) (*model.RetrievalResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty query: %w", appErr.ErrInvalidQuery)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive: %w", appErr.ErrInvalidQuery)
	}
	vec, err := r.embedder.Embed(ctx, text, ai.TaskRetrievalQuery)
	if err != nil {
		return nil, ai.WrapEmbeddingError(err)
	}
	candidates, err := r.index.Search(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	res := &model.RetrievalResult{
		Candidates: candidates,
		Relevant:   FilterRelevant(candidates, threshold),
	}
	logutil.GetLogger(ctx).Debug("retrieval done",
		zap.Int("candidates", len(res.Candidates)),
		zap.Int("relevant", len(res.Relevant)),
		zap.Float64("threshold", threshold),
	)
	return res, nil
}

// FilterRelevant keeps hits with score >= threshold, preserving order.
func FilterRelevant(hits []model.Hit, threshold float64) []model.Hit {
	out := make([]model.Hit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	return out
}
