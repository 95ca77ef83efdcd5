package memory

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := NewArchive(t.TempDir())
	require.NoError(t, err)
	return a
}

func TestArchiveAppendAndSearchRoundTrip(t *testing.T) {
	a := newTestArchive(t)
	m := Memory{ID: "a1", Text: "Project Titan ran in 2023.", UserID: "u1", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, a.Append([]Memory{m}))

	results, err := a.Search("Titan project", 10)
	require.NoError(t, err)
	if assert.Len(t, results, 1) {
		assert.Equal(t, "a1", results[0].ID)
		assert.Equal(t, SourceArchive, results[0].SourceTier)
	}
}

func TestArchiveSearchEmptyQuery(t *testing.T) {
	a := newTestArchive(t)
	results, err := a.Search("", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestArchiveSearchRanksByDistinctTokenCount(t *testing.T) {
	a := newTestArchive(t)
	now := time.Now()
	require.NoError(t, a.Append([]Memory{
		{ID: "one", Text: "likes tea", UserID: "u1", CreatedAt: now, UpdatedAt: now},
		{ID: "two", Text: "likes green tea daily", UserID: "u1", CreatedAt: now, UpdatedAt: now},
	}))
	results, err := a.Search("green tea daily", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "two", results[0].ID)
	assert.Equal(t, "one", results[1].ID)
}

func TestArchiveLineCountCachedByFingerprint(t *testing.T) {
	a := newTestArchive(t)
	now := time.Now()
	count, err := a.LineCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, a.Append([]Memory{{ID: "x", Text: "hello", UserID: "u1", CreatedAt: now, UpdatedAt: now}}))
	count, err = a.LineCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Second call hits the cache and still reflects the single line.
	count, err = a.LineCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestArchiveSearchSkipsMalformedLines(t *testing.T) {
	a := newTestArchive(t)
	require.NoError(t, a.Append([]Memory{{ID: "ok", Text: "keyword match", UserID: "u1", CreatedAt: time.Now(), UpdatedAt: time.Now()}}))
	// Append a hand-written malformed line directly to the journal.
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	results, err := a.Search("keyword", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestCountLinesCountsTrailingLineWithoutNewline(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/no_trailing_newline.jsonl"
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"a1"}`), 0644))

	count, err := countLines(path)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
