package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	dim int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return unitVec(1, f.dim), nil
}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = unitVec(1, f.dim)
	}
	return out, nil
}
func (f *fakeEmbedder) Dimension() int   { return f.dim }
func (f *fakeEmbedder) ModelName() string { return "fake" }

func newTestRecall(t *testing.T) (*Recall, *HotStore, *Archive) {
	t.Helper()
	hot := newTestHotStore(t)
	dir := t.TempDir()
	arc, err := NewArchive(dir)
	require.NoError(t, err)
	cache := NewSearchCache(time.Minute, 128)
	return NewRecall(hot, arc, &fakeEmbedder{dim: 16}, cache), hot, arc
}

func TestRecallLongTermScope(t *testing.T) {
	r, hot, _ := newTestRecall(t)
	ctx := context.Background()
	require.NoError(t, hot.Upsert(ctx, Memory{ID: "m1", Text: "long term fact", UserID: "u1"}, unitVec(1, 16)))

	results, err := r.Search(ctx, SearchRequest{Query: "fact", UserID: "u1", Scope: ScopeLongTerm, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].ID)
}

func TestRecallSessionScopeRequiresSessionID(t *testing.T) {
	r, hot, _ := newTestRecall(t)
	ctx := context.Background()
	require.NoError(t, hot.Upsert(ctx, Memory{ID: "m1", Text: "session fact", UserID: "u1", RunID: "s1"}, unitVec(1, 16)))

	results, err := r.Search(ctx, SearchRequest{Query: "fact", UserID: "u1", Scope: ScopeSession, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, results, 0)

	results, err = r.Search(ctx, SearchRequest{Query: "fact", UserID: "u1", Scope: ScopeSession, Limit: 10, SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestRecallCachesResults(t *testing.T) {
	r, hot, _ := newTestRecall(t)
	ctx := context.Background()
	require.NoError(t, hot.Upsert(ctx, Memory{ID: "m1", Text: "fact", UserID: "u1"}, unitVec(1, 16)))

	first, err := r.Search(ctx, SearchRequest{Query: "fact", UserID: "u1", Scope: ScopeLongTerm, Limit: 10})
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, hot.Delete(ctx, "m1"))
	r.cache.InvalidateAll() // simulate lifecycle invalidation on mutation

	second, err := r.Search(ctx, SearchRequest{Query: "fact", UserID: "u1", Scope: ScopeLongTerm, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, second, 0)
}

func TestRecallReturnsErrorWithoutEmbedder(t *testing.T) {
	hot := newTestHotStore(t)
	dir := t.TempDir()
	arc, err := NewArchive(dir)
	require.NoError(t, err)
	cache := NewSearchCache(time.Minute, 128)
	r := NewRecall(hot, arc, nil, cache)

	_, err = r.Search(context.Background(), SearchRequest{Query: "fact", UserID: "u1", Scope: ScopeLongTerm, Limit: 10})
	assert.ErrorIs(t, err, ErrEmbedderUnavailable)
}

func TestRecallDeepScopeIncludesArchive(t *testing.T) {
	r, _, arc := newTestRecall(t)
	ctx := context.Background()
	require.NoError(t, arc.Append([]Memory{{ID: "a1", Text: "archived long term fact"}}))

	results, err := r.Search(ctx, SearchRequest{Query: "archived fact", UserID: "u1", Scope: ScopeLongTerm, Limit: 10, Deep: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a1", results[0].ID)
}
