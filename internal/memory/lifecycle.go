package memory

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// TurnContext carries the host-supplied fields a before_turn/after_turn
// event needs: the active session and the model the host is about to
// call, for ContextBuilder's budget lookup.
type TurnContext struct {
	SessionID string
	ModelID   string
}

// HostMessage is one message in an after_turn batch, pre-extraction of
// block-structured content.
type HostMessage struct {
	Role string
	Text string
}

// Lifecycle wires every subsystem together and exposes the host event
// handlers (before_turn, after_turn) plus start/stop.
type Lifecycle struct {
	cfg Config

	hot            *HotStore
	archive        *Archive
	wq             *WriteQueue
	cache          *SearchCache
	embedder       Embedder
	embeddingCache *EmbeddingCache
	recall         *Recall
	contextBuilder *ContextBuilder
	ingestor       *Ingestor
	batcher        *CaptureBatcher
	reflection     *Reflection
	host           *Host

	mu             sync.Mutex
	started        bool
	stopped        bool
	currentSession string
	tickDone       chan struct{}
	tickCancel     context.CancelFunc

	// DeliveryHook, if set, is called for every due action the tick loop
	// pops from Reflection. Returning an error re-arms the action via
	// mark_failed. Outbound delivery channels are left to integration.
	DeliveryHook func(*PendingAction) error
}

// NewLifecycle constructs every subsystem from cfg and its two external
// collaborators (embedder and lm may be nil; a nil embedder disables
// recall/ingest, a nil LanguageModel disables extraction and reflection).
func NewLifecycle(cfg Config, embedder Embedder, lm LanguageModel) (*Lifecycle, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", ErrConfig, err)
	}

	hot, err := NewHotStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	archive, err := NewArchive(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	wq := NewWriteQueue(cfg.WriteQueueDelay)
	cache := NewSearchCache(cfg.SearchCacheTTL, cfg.SearchCacheMaxEntries)

	// Recall and Ingestor share one cache-wrapped Embedder so re-ingesting
	// an unchanged fact, or recalling with a repeated query, never re-calls
	// the embedding model. A nil embedder (no provider configured) is left
	// nil rather than wrapped, so the downstream nil-embedder guards still
	// see ErrEmbedderUnavailable instead of a cache miss on every call.
	var embeddingCache *EmbeddingCache
	embed := embedder
	if embedder != nil {
		ec, err := NewEmbeddingCache(embedder, cfg.DataDir)
		if err != nil {
			hot.Close()
			return nil, err
		}
		embeddingCache = ec
		embed = ec
	}

	recall := NewRecall(hot, archive, embed, cache)
	contextBuilder := NewContextBuilder(cfg)
	ingestor := NewIngestor(embed, lm, hot, wq, cache)
	reflection := NewReflection(cfg.DataDir, lm, cfg.ActionTTL, cfg.MaxPendingActions)
	host := NewHost(cfg, hot, archive, recall, ingestor, wq)

	l := &Lifecycle{
		cfg: cfg, hot: hot, archive: archive, wq: wq, cache: cache, embedder: embedder, embeddingCache: embeddingCache,
		recall: recall, contextBuilder: contextBuilder, ingestor: ingestor, reflection: reflection, host: host,
	}
	l.batcher = NewCaptureBatcher(cfg.CaptureBatchWindow, cfg.CaptureBatchMaxMessages, cfg.UserID, ingestor, l.onExtracted)
	return l, nil
}

// Host exposes the tool-facing operations.
func (l *Lifecycle) Host() *Host { return l.host }

// Start runs one startup prune pass, writes the initial status snapshot
// and arms the tick timer. The data directory is created by NewLifecycle.
// Idempotent.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = true
	l.stopped = false
	l.mu.Unlock()

	pruned, err := Prune(ctx, l.hot, l.archive, l.wq, l.cache, l.cfg.UserID, l.cfg.MaxMemoryCount)
	if err != nil {
		log.Warn().Err(err).Msg("startup prune pass failed")
	} else if pruned > 0 {
		log.Info().Int("pruned", pruned).Msg("startup prune pass complete")
	}

	l.writeStatus(ctx)

	tickCtx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.tickCancel = cancel
	l.tickDone = make(chan struct{})
	l.mu.Unlock()
	go l.runTicker(tickCtx)

	return nil
}

func (l *Lifecycle) runTicker(ctx context.Context) {
	defer close(l.tickDone)
	ticker := time.NewTicker(l.cfg.ReflectionTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if action := l.reflection.Poll(); action != nil {
				if err := l.deliver(action); err != nil {
					l.reflection.MarkFailed(action.ID)
				}
			}
			l.writeStatus(context.Background())
		}
	}
}

// deliver is the outbound proactive-message delivery hook. The shape of
// real delivery channels is left to integration; this hands the action
// to DeliveryHook when one is set and otherwise reports success.
func (l *Lifecycle) deliver(action *PendingAction) error {
	if l.DeliveryHook != nil {
		return l.DeliveryHook(action)
	}
	return nil
}

func (l *Lifecycle) onExtracted(sessionID string, messages []CaptureMessage, results []ExtractionResult) {
	if len(results) == 0 || l.reflection == nil {
		return
	}
	var recalled []Memory
	for _, r := range results {
		recalled = append(recalled, Memory{ID: r.ID, Text: r.Text})
	}
	l.reflection.Observe(context.Background(), messages, recalled)
}

// BeforeTurn handles the host's before_turn event: recall, context
// build and a due-action poll, composed into one injection string.
func (l *Lifecycle) BeforeTurn(ctx context.Context, prompt string, turn TurnContext) string {
	if !l.cfg.AutoRecall || len(prompt) < 5 {
		return ""
	}

	l.mu.Lock()
	l.currentSession = turn.SessionID
	l.host.SetCurrentSession(turn.SessionID)
	l.mu.Unlock()

	results, err := l.recall.Search(ctx, SearchRequest{
		Query: prompt, UserID: l.cfg.UserID, Scope: ScopeAll, Limit: l.cfg.TopK, SessionID: turn.SessionID,
		Threshold: l.cfg.SearchThreshold,
	})
	if err != nil {
		log.Warn().Err(err).Msg("recall failed during before_turn, proceeding without injection")
		return ""
	}

	built := l.contextBuilder.Build(results, BuildOptions{ModelID: turn.ModelID})
	text := built.Text

	if action := l.reflection.Poll(); action != nil {
		text += fmt.Sprintf("\n<proactive-insight>\n系统提示: %s\n</proactive-insight>", action.Message)
	}
	return text
}

// AfterTurn handles the host's after_turn event: filters to user/
// assistant roles, extracts text, and schedules a capture batch.
func (l *Lifecycle) AfterTurn(messages []HostMessage, success bool, turn TurnContext) {
	if !l.cfg.AutoCapture || !success || len(messages) == 0 {
		return
	}

	var filtered []CaptureMessage
	for _, m := range messages {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		if m.Text == "" {
			continue
		}
		filtered = append(filtered, CaptureMessage{Role: m.Role, Text: m.Text})
	}
	if len(filtered) == 0 {
		return
	}
	if len(filtered) > 10 {
		filtered = filtered[len(filtered)-10:]
	}
	l.batcher.Schedule(turn.SessionID, filtered)
}

// Stop clears the tick timer, flushes all capture buffers, waits for the
// write queue to drain and writes a final status snapshot. Idempotent.
func (l *Lifecycle) Stop(ctx context.Context) {
	l.mu.Lock()
	if l.stopped || !l.started {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	cancel := l.tickCancel
	done := l.tickDone
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	l.batcher.FlushAll()
	l.wq.Drain()
	l.writeStatus(ctx)

	if l.embeddingCache != nil {
		if err := l.embeddingCache.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close embedding cache")
		}
	}
}

func (l *Lifecycle) writeStatus(ctx context.Context) {
	stats, err := CollectStats(ctx, l.hot, l.archive, l.wq, l.cfg.UserID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to collect stats for status snapshot")
		return
	}
	if err := WriteStatusSnapshot(l.cfg.DataDir, stats); err != nil {
		log.Warn().Err(err).Msg("failed to write status snapshot")
	}
}
