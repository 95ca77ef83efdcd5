package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// extractionInstructions is the fixed "custom instructions" prompt
// prepended to every transcript sent for fact extraction.
const extractionInstructions = `You extract durable facts about the user from a conversation transcript.

Rules:
- Write each fact in the third person ("The user prefers ..." not "I prefer ...").
- Each fact must be self-contained and understandable without the transcript.
- Never include passwords, API keys, tokens or other credentials.
- Omit facts that are only true for the current turn (ephemeral requests, small talk).

Respond with a JSON object: {"facts": ["fact one", "fact two", ...]}. Use an empty array if there are no durable facts.`

// Ingestor turns a compacted message batch into HotStore mutations via
// LLM-based fact extraction, neighbour search and a merge-vs-add policy.
type Ingestor struct {
	embedder Embedder
	lm       LanguageModel
	hot      *HotStore
	wq       *WriteQueue
	cache    *SearchCache
}

// NewIngestor wires an Ingestor over its dependencies. cache is
// invalidated on every write this Ingestor performs.
func NewIngestor(embedder Embedder, lm LanguageModel, hot *HotStore, wq *WriteQueue, cache *SearchCache) *Ingestor {
	return &Ingestor{embedder: embedder, lm: lm, hot: hot, wq: wq, cache: cache}
}

// IngestOptions scopes one Ingest call.
type IngestOptions struct {
	UserID string
	RunID  string // empty means long-term
}

type extractionPayload struct {
	Facts []string `json:"facts"`
}

// Ingest extracts candidate facts from messages, classifies each against
// the nearest existing memory and applies the resulting ADD/UPDATE/NOOP
// mutation. A LanguageModel failure aborts the whole batch; any
// candidate already committed before the failure remains.
func (i *Ingestor) Ingest(ctx context.Context, messages []CaptureMessage, opts IngestOptions) ([]ExtractionResult, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	if i.lm == nil || i.embedder == nil {
		return nil, ErrEmbedderUnavailable
	}

	transcript := buildTranscript(messages)
	raw, err := i.lm.Generate(ctx, []ChatMessage{
		{Role: "system", Content: extractionInstructions},
		{Role: "user", Content: transcript},
	}, GenerateOptions{JSONMode: true, Temperature: 0.2, MaxTokens: 800})
	if err != nil {
		return nil, fmt.Errorf("fact extraction: %w", err)
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		log.Warn().Err(err).Msg("fact extraction returned unparsable JSON")
		return nil, nil
	}
	if len(payload.Facts) == 0 {
		return nil, nil
	}

	var results []ExtractionResult
	for _, fact := range payload.Facts {
		fact = strings.TrimSpace(fact)
		if fact == "" {
			continue
		}
		res, err := i.classifyAndApply(ctx, fact, opts)
		if err != nil {
			log.Warn().Err(err).Str("fact", fact).Msg("failed to apply extracted fact")
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

func (i *Ingestor) classifyAndApply(ctx context.Context, fact string, opts IngestOptions) (ExtractionResult, error) {
	vector, err := i.embedder.Embed(ctx, fact)
	if err != nil {
		return ExtractionResult{}, err
	}

	neighbours, err := i.hot.Search(ctx, vector, SearchOptions{UserID: opts.UserID, Limit: 10, Threshold: 0.5})
	if err != nil {
		return ExtractionResult{}, err
	}

	if len(neighbours) > 0 {
		top := neighbours[0]
		sim := *top.Score
		candidateTokens := SignificantTokens(fact)
		neighbourTokens := SignificantTokens(top.Text)
		refined := len([]rune(fact)) > len([]rune(top.Text)) && TokenOverlapRatio(candidateTokens, neighbourTokens) >= 0.7

		if sim >= 0.9 && refined {
			return i.applyUpdate(ctx, top, fact, vector)
		}
		if sim >= 0.92 {
			return ExtractionResult{ID: top.ID, Text: fact, Event: EventNoop}, nil
		}
	}

	return i.applyAdd(ctx, fact, vector, opts)
}

func (i *Ingestor) applyAdd(ctx context.Context, fact string, vector []float32, opts IngestOptions) (ExtractionResult, error) {
	now := time.Now().UTC()
	m := Memory{
		ID:        uuid.NewString(),
		Text:      fact,
		UserID:    opts.UserID,
		RunID:     opts.RunID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := i.enqueueUpsert(ctx, m, vector); err != nil {
		return ExtractionResult{}, err
	}
	return ExtractionResult{ID: m.ID, Text: fact, Event: EventAdd}, nil
}

func (i *Ingestor) applyUpdate(ctx context.Context, neighbour Memory, fact string, vector []float32) (ExtractionResult, error) {
	neighbour.Text = fact
	if err := i.enqueueUpsert(ctx, neighbour, vector); err != nil {
		return ExtractionResult{}, err
	}
	return ExtractionResult{ID: neighbour.ID, Text: fact, Event: EventUpdate}, nil
}

func (i *Ingestor) enqueueUpsert(ctx context.Context, m Memory, vector []float32) error {
	err := i.wq.Enqueue(ctx, func(ctx context.Context) error {
		return i.hot.Upsert(ctx, m, vector)
	})
	if err == nil {
		i.cache.InvalidateAll()
	}
	return err
}

func buildTranscript(messages []CaptureMessage) string {
	var sb strings.Builder
	for i, m := range messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Text)
	}
	return sb.String()
}

// Prune trims userID's hot memories to cfg.MaxMemoryCount, archiving the
// oldest overflow and deleting it from HotStore only after the archive
// write succeeds. Per-item deletion failures are counted, not fatal.
func Prune(ctx context.Context, hot *HotStore, archive *Archive, wq *WriteQueue, cache *SearchCache, userID string, maxMemoryCount int) (int, error) {
	all, err := hot.List(ctx, ListFilter{UserID: userID})
	if err != nil {
		return 0, err
	}
	if len(all) <= maxMemoryCount {
		return 0, nil
	}

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	overflow := all[:len(all)-maxMemoryCount]

	if err := wq.Enqueue(ctx, func(ctx context.Context) error { return archive.Append(overflow) }); err != nil {
		return 0, fmt.Errorf("prune: archive append failed, hot store left untouched: %w", err)
	}

	pruned := 0
	for _, m := range overflow {
		err := wq.Enqueue(ctx, func(ctx context.Context) error {
			return hot.Delete(ctx, m.ID)
		})
		if err != nil {
			log.Warn().Err(err).Str("id", m.ID).Msg("failed to delete pruned memory from hot store")
			continue
		}
		pruned++
	}
	if pruned > 0 {
		cache.InvalidateAll()
	}
	return pruned, nil
}
