package embedcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
	texts []string
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	c.calls++
	c.texts = append(c.texts, texts...)
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		out = append(out, []float32{float32(len(text)), 0.25})
	}
	return out, nil
}

func (c *countingEmbedder) ModelName() string { return "test-model" }

func TestLruCacheServesRepeatedTexts(t *testing.T) {
	next := &countingEmbedder{}
	e := WrapLruCacheToEmbedder(next, 16, time.Minute)

	first, err := e.EmbedBatch(context.Background(), []string{"a", "bb"}, "Q")
	require.NoError(t, err)
	second, err := e.EmbedBatch(context.Background(), []string{"bb", "ccc", "a"}, "Q")
	require.NoError(t, err)

	require.Equal(t, 2, next.calls)
	require.Equal(t, []string{"a", "bb", "ccc"}, next.texts)
	require.Equal(t, first[1], second[0])
	require.Equal(t, []float32{3, 0.25}, second[1])

	// returned vectors are copies
	second[0][0] = 99
	again, err := e.Embed(context.Background(), "bb", "Q")
	require.NoError(t, err)
	require.Equal(t, float32(2), again[0])
}

func TestLruCacheSeparatesTaskTypes(t *testing.T) {
	next := &countingEmbedder{}
	e := WrapLruCacheToEmbedder(next, 16, time.Minute)
	_, err := e.Embed(context.Background(), "a", "Q")
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "a", "D")
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)
}

func TestLruCacheDisabled(t *testing.T) {
	next := &countingEmbedder{}
	require.Same(t, next, WrapLruCacheToEmbedder(next, 0, time.Minute))
}

func TestRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	next := &countingEmbedder{}
	e := WrapRedisCacheToEmbedder(next, client, time.Hour)
	_, err = e.EmbedBatch(context.Background(), []string{"x", "yy"}, "D")
	require.NoError(t, err)
	require.Len(t, mr.Keys(), 2)

	vecs, err := e.EmbedBatch(context.Background(), []string{"yy", "x"}, "D")
	require.NoError(t, err)
	require.Equal(t, 1, next.calls)
	require.Equal(t, []float32{2, 0.25}, vecs[0])
	require.Equal(t, []float32{1, 0.25}, vecs[1])
}

func TestRedisCacheFallsThroughWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	next := &countingEmbedder{}
	vec, err := WrapRedisCacheToEmbedder(next, client, time.Hour).Embed(context.Background(), "abc", "D")
	require.NoError(t, err)
	require.Equal(t, float32(3), vec[0])
}

func TestCacheDoesNotStoreFailures(t *testing.T) {
	next := &countingEmbedder{err: errors.New("down")}
	e := WrapLruCacheToEmbedder(next, 4, time.Minute)
	_, err := e.Embed(context.Background(), "a", "Q")
	require.Error(t, err)
	next.err = nil
	_, err = e.Embed(context.Background(), "a", "Q")
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)
}
