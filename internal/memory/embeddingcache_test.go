package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	dim   int
	calls int
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	return unitVec(1, e.dim), nil
}
func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls += len(texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = unitVec(1, e.dim)
	}
	return out, nil
}
func (e *countingEmbedder) Dimension() int    { return e.dim }
func (e *countingEmbedder) ModelName() string { return "counting" }

func newTestEmbeddingCache(t *testing.T, inner Embedder) *EmbeddingCache {
	t.Helper()
	c, err := NewEmbeddingCache(inner, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEmbeddingCacheHitsOnRepeatedText(t *testing.T) {
	inner := &countingEmbedder{dim: 8}
	c := newTestEmbeddingCache(t, inner)

	_, err := c.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "hello world")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestEmbeddingCacheBatchOnlyGeneratesMisses(t *testing.T) {
	inner := &countingEmbedder{dim: 8}
	c := newTestEmbeddingCache(t, inner)

	_, err := c.Embed(context.Background(), "a")
	require.NoError(t, err)

	results, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.NotNil(t, r)
	}
	assert.Equal(t, 3, inner.calls) // 1 for "a" initially + 2 for "b","c" in batch
}
