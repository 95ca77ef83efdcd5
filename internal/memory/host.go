package memory

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
)

// Host implements the six tool-facing operations a conversational host
// calls directly: memory_search, memory_store, memory_get, memory_list,
// memory_forget, memory_stats.
type Host struct {
	cfg            Config
	hot            *HotStore
	archive        *Archive
	recall         *Recall
	ingestor       *Ingestor
	wq             *WriteQueue
	currentSession string
}

// NewHost wires a Host over its collaborators.
func NewHost(cfg Config, hot *HotStore, archive *Archive, recall *Recall, ingestor *Ingestor, wq *WriteQueue) *Host {
	return &Host{cfg: cfg, hot: hot, archive: archive, recall: recall, ingestor: ingestor, wq: wq}
}

// SetCurrentSession records the session id used for long_term=false
// memory_store calls.
func (h *Host) SetCurrentSession(sessionID string) { h.currentSession = sessionID }

// SearchOutput is memory_search's response.
type SearchOutput struct {
	Preview string   `json:"preview"`
	Results []Memory `json:"results"`
}

// MemorySearch resolves §6's memory_search operation.
func (h *Host) MemorySearch(ctx context.Context, query string, limit int, userID string, scope Scope, deep bool) (SearchOutput, error) {
	userID = h.resolveUserID(userID)
	if limit <= 0 {
		limit = h.cfg.TopK
	}
	if scope == "" {
		scope = ScopeAll
	}

	results, err := h.recall.Search(ctx, SearchRequest{
		Query: query, UserID: userID, Scope: scope, Limit: limit, Deep: deep, SessionID: h.currentSession,
		Threshold: h.cfg.SearchThreshold,
	})
	if err != nil {
		return SearchOutput{}, err
	}
	return SearchOutput{Preview: previewMemories(results), Results: results}, nil
}

// StoreOutput is memory_store's response.
type StoreOutput struct {
	StoredCount int                `json:"stored_count"`
	Results     []ExtractionResult `json:"results"`
}

// MemoryStore resolves §6's memory_store operation: text is run through
// the Ingestor's fact-extraction pipeline as a single observed message.
func (h *Host) MemoryStore(ctx context.Context, text, userID string, longTerm bool) (StoreOutput, error) {
	userID = h.resolveUserID(userID)
	runID := ""
	if !longTerm {
		runID = h.currentSession
	}

	results, err := h.ingestor.Ingest(ctx, []CaptureMessage{{Role: "user", Text: text}}, IngestOptions{UserID: userID, RunID: runID})
	if err != nil {
		return StoreOutput{}, err
	}
	return StoreOutput{StoredCount: len(results), Results: results}, nil
}

// MemoryGet resolves §6's memory_get operation. An empty or missing
// memory is reported as ErrNotFound (the stricter of the two source
// variants per the design notes).
func (h *Host) MemoryGet(ctx context.Context, id string) (Memory, error) {
	m, err := h.hot.Get(ctx, id)
	if err != nil {
		return Memory{}, err
	}
	if strings.TrimSpace(m.Text) == "" {
		return Memory{}, ErrNotFound
	}
	return m, nil
}

// MemoryList resolves §6's memory_list operation.
func (h *Host) MemoryList(ctx context.Context, userID string, scope Scope, limit int) ([]Memory, error) {
	userID = h.resolveUserID(userID)
	filter := ListFilter{UserID: userID}
	switch scope {
	case ScopeLongTerm:
		empty := ""
		filter.RunID = &empty
	case ScopeSession:
		session := h.currentSession
		filter.RunID = &session
	}

	list, err := h.hot.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// ForgetOutput is memory_forget's response. Deleted is set for a single
// deletion, Disambiguation for a candidate list, and BulkDeleted/
// BulkFailed for a delete-all request.
type ForgetOutput struct {
	Deleted        *Memory
	Disambiguation []Memory
	BulkDeleted    int
	BulkFailed     int
}

// MemoryForget resolves §6's memory_forget disambiguation policy.
func (h *Host) MemoryForget(ctx context.Context, id, query, userID string, scope Scope, limit int, deleteAll bool) (ForgetOutput, error) {
	userID = h.resolveUserID(userID)

	if id != "" {
		m, err := h.hot.Get(ctx, id)
		if err != nil {
			return ForgetOutput{}, err
		}
		if err := h.deleteOne(ctx, id); err != nil {
			return ForgetOutput{}, err
		}
		return ForgetOutput{Deleted: &m}, nil
	}

	if limit <= 0 {
		limit = h.cfg.TopK
	}
	if limit > 50 {
		limit = 50
	}
	if limit < 1 {
		limit = 1
	}
	if scope == "" {
		scope = ScopeAll
	}

	candidates, err := h.recall.Search(ctx, SearchRequest{Query: query, UserID: userID, Scope: scope, Limit: limit, SessionID: h.currentSession, Threshold: h.cfg.SearchThreshold})
	if err != nil {
		return ForgetOutput{}, err
	}

	var exact []Memory
	for _, m := range candidates {
		if strings.EqualFold(strings.TrimSpace(m.Text), strings.TrimSpace(query)) {
			exact = append(exact, m)
		}
	}
	if len(exact) > 0 {
		candidates = exact
	}

	if deleteAll {
		var deleted, failed int
		for _, m := range candidates {
			if err := h.deleteOne(ctx, m.ID); err != nil {
				failed++
				continue
			}
			deleted++
		}
		return ForgetOutput{BulkDeleted: deleted, BulkFailed: failed}, nil
	}

	if len(candidates) == 1 {
		if err := h.deleteOne(ctx, candidates[0].ID); err != nil {
			return ForgetOutput{}, err
		}
		return ForgetOutput{Deleted: &candidates[0]}, nil
	}

	return ForgetOutput{Disambiguation: candidates}, nil
}

func (h *Host) deleteOne(ctx context.Context, id string) error {
	err := h.wq.Enqueue(ctx, func(ctx context.Context) error { return h.hot.Delete(ctx, id) })
	if err != nil {
		return err
	}
	h.recall.cache.InvalidateAll()
	return nil
}

// MemoryStats resolves §6's memory_stats operation, returning a
// formatted text block suitable for direct display.
func (h *Host) MemoryStats(ctx context.Context) (string, error) {
	stats, err := CollectStats(ctx, h.hot, h.archive, h.wq, h.resolveUserID(""))
	if err != nil {
		return "", err
	}
	return formatStats(stats), nil
}

func formatStats(s Stats) string {
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "total memories:\t%d\n", s.TotalMemories)
	fmt.Fprintf(tw, "hot size bytes:\t%d\n", s.HotSizeBytes)
	fmt.Fprintf(tw, "archive size bytes:\t%d\n", s.ArchiveSizeBytes)
	fmt.Fprintf(tw, "write queue total writes:\t%d\n", s.WriteQueue.TotalWrites)
	fmt.Fprintf(tw, "write queue max depth:\t%d\n", s.WriteQueue.QueueMax)
	fmt.Fprintf(tw, "write queue current depth:\t%d\n", s.WriteQueue.CurrentQueue)
	fmt.Fprintf(tw, "last updated:\t%s\n", s.LastUpdated.Format("2006-01-02T15:04:05Z"))
	if err := tw.Flush(); err != nil {
		log.Warn().Err(err).Msg("failed to format stats")
	}
	return sb.String()
}

func (h *Host) resolveUserID(userID string) string {
	if userID != "" {
		return userID
	}
	return h.cfg.UserID
}

func previewMemories(memories []Memory) string {
	if len(memories) == 0 {
		return "no matching memories"
	}
	var sb strings.Builder
	for i, m := range memories {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, m.Text)
	}
	return strings.TrimRight(sb.String(), "\n")
}
