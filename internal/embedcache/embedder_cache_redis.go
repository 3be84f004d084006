package embedcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/ai"
)

// WrapRedisCacheToEmbedder shares embeddings between processes. Redis
// failures are logged and fall through to the wrapped embedder.
func WrapRedisCacheToEmbedder(e ai.IEmbedder, client redis.UniversalClient, ttl time.Duration) ai.IEmbedder {
	if e == nil || client == nil {
		return e
	}
	return &redisEmbedder{next: e, client: client, ttl: ttl}
}

type redisEmbedder struct {
	next   ai.IEmbedder
	client redis.UniversalClient
	ttl    time.Duration
}

func (r *redisEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	vecs, err := r.EmbedBatch(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (r *redisEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	logger := logutil.GetLogger(ctx)
	model := r.next.ModelName()
	out, missIdx, missTexts := splitMisses(model, taskType, texts, func(key string) ([]float32, bool) {
		raw, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				logger.Warn("read embedding cache failed", zap.Error(err))
			}
			return nil, false
		}
		var vec []float32
		if err := json.Unmarshal(raw, &vec); err != nil || len(vec) == 0 {
			return nil, false
		}
		return vec, true
	})
	if len(missIdx) == 0 {
		return out, nil
	}
	vecs, err := r.next.EmbedBatch(ctx, missTexts, taskType)
	if err != nil {
		return nil, err
	}
	for i, idx := range missIdx {
		out[idx] = vecs[i]
		raw, err := json.Marshal(vecs[i])
		if err != nil {
			continue
		}
		if err := r.client.Set(ctx, buildCacheKey(model, taskType, missTexts[i]), raw, r.ttl).Err(); err != nil {
			logger.Warn("write embedding cache failed", zap.Error(err))
		}
	}
	return out, nil
}

func (r *redisEmbedder) ModelName() string {
	return r.next.ModelName()
}
