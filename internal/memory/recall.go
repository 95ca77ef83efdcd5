package memory

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Recall performs semantic search across the hot store and, optionally,
// the archive, with result caching keyed by a normalized fingerprint.
type Recall struct {
	hot      *HotStore
	archive  *Archive
	embedder Embedder
	cache    *SearchCache
}

// NewRecall wires a Recall over hot, archive and embedder, with results
// memoized in cache.
func NewRecall(hot *HotStore, archive *Archive, embedder Embedder, cache *SearchCache) *Recall {
	return &Recall{hot: hot, archive: archive, embedder: embedder, cache: cache}
}

// SearchRequest parameterizes one Recall.Search call.
type SearchRequest struct {
	Query     string
	UserID    string
	Scope     Scope
	Limit     int
	Deep      bool
	SessionID string
	// Threshold is the minimum cosine similarity a hot-store match must
	// clear (search_threshold, default 0.5). Zero drops only matches with
	// negative similarity.
	Threshold float64
}

// Search returns the deduplicated union of matching memories per scope,
// reading through SearchCache first.
func (r *Recall) Search(ctx context.Context, req SearchRequest) ([]Memory, error) {
	key := Fingerprint(req.Query, req.Limit, req.UserID, req.Scope, req.Deep, req.SessionID)
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}
	if r.embedder == nil {
		return nil, ErrEmbedderUnavailable
	}

	queryVector, err := r.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	type namedResult struct {
		source string
		memos  []Memory
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []namedResult
	)

	run := func(source string, fn func() ([]Memory, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			memos, err := fn()
			if err != nil {
				log.Warn().Err(err).Str("source", source).Msg("recall sub-search failed")
				memos = nil
			}
			mu.Lock()
			results = append(results, namedResult{source: source, memos: memos})
			mu.Unlock()
		}()
	}

	if req.Scope == ScopeLongTerm || req.Scope == ScopeAll {
		empty := ""
		run("long_term", func() ([]Memory, error) {
			return r.hot.Search(ctx, queryVector, SearchOptions{UserID: req.UserID, RunID: &empty, Limit: req.Limit, Threshold: req.Threshold})
		})
	}
	if (req.Scope == ScopeSession || req.Scope == ScopeAll) && req.SessionID != "" {
		session := req.SessionID
		run("session", func() ([]Memory, error) {
			return r.hot.Search(ctx, queryVector, SearchOptions{UserID: req.UserID, RunID: &session, Limit: req.Limit, Threshold: req.Threshold})
		})
	}
	if req.Deep && (req.Scope == ScopeLongTerm || req.Scope == ScopeAll) {
		run("archive", func() ([]Memory, error) {
			return r.archive.Search(req.Query, req.Limit)
		})
	}

	wg.Wait()

	bySource := make(map[string][]Memory, len(results))
	for _, res := range results {
		bySource[res.source] = res.memos
	}

	var sourceOrder []string
	switch req.Scope {
	case ScopeAll:
		sourceOrder = []string{"long_term", "session", "archive"}
	case ScopeLongTerm:
		sourceOrder = []string{"long_term", "archive"}
	case ScopeSession:
		sourceOrder = []string{"session"}
	}

	seen := make(map[string]bool)
	var merged []Memory
	for _, source := range sourceOrder {
		for _, m := range bySource[source] {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			merged = append(merged, m)
		}
	}

	if len(merged) > 0 {
		r.cache.Set(key, merged)
	}
	return merged, nil
}
