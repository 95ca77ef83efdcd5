// Package memory implements the long-term memory subsystem embedded in a
// conversational AI host: a hot vector store with a serialized write
// path, an LLM-driven ingestion pipeline, scope-aware recall with a
// token-budgeted context builder, and a durable reflection scheduler for
// proactive actions.
package memory

import "time"

// SourceTier identifies which backing tier produced a Memory.
type SourceTier string

const (
	SourceHot     SourceTier = "hot"
	SourceArchive SourceTier = "archive"
)

// Memory is a single durable, self-contained statement about a user or
// session. Identity is ID; equality elsewhere is by ID.
type Memory struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	UserID     string            `json:"user_id"`
	RunID      string            `json:"run_id,omitempty"`
	Score      *float64          `json:"score,omitempty"`
	Categories []string          `json:"categories,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	SourceTier SourceTier        `json:"source_tier,omitempty"`
}

// HotRecord pairs a Memory with its embedding. Exclusively owned by
// HotStore; callers receive copies.
type HotRecord struct {
	Memory Memory
	Vector []float32
}

// PendingAction is a scheduled proactive notification awaiting delivery.
type PendingAction struct {
	ID                string    `json:"id"`
	Message           string    `json:"message"`
	CreatedAt         time.Time `json:"created_at"`
	TriggerAt         time.Time `json:"trigger_at"`
	Fired             bool      `json:"fired"`
	DeliveryAttempts  int       `json:"delivery_attempts"`
}

// CaptureMessage is one observed conversation turn.
type CaptureMessage struct {
	Role string
	Text string
}

// CaptureBuffer is the transient per-session accumulation of observed
// messages awaiting a debounced flush.
type CaptureBuffer struct {
	SessionID string
	Messages  []CaptureMessage
}

// SearchCacheEntry is one Recall result set keyed by a search fingerprint.
type SearchCacheEntry struct {
	Key       string
	ExpiresAt time.Time
	Results   []Memory
}

// ExtractionEvent classifies what the Ingestor did with a candidate fact.
type ExtractionEvent string

const (
	EventAdd    ExtractionEvent = "ADD"
	EventUpdate ExtractionEvent = "UPDATE"
	EventNoop   ExtractionEvent = "NOOP"
)

// ExtractionResult is one row of an Ingestor.Ingest response.
type ExtractionResult struct {
	ID    string          `json:"id"`
	Text  string          `json:"text"`
	Event ExtractionEvent `json:"event"`
}

// Scope constrains which partition of memories a search considers.
type Scope string

const (
	ScopeSession  Scope = "session"
	ScopeLongTerm Scope = "long-term"
	ScopeAll      Scope = "all"
)

// Stats is the aggregated counters snapshot described in §4.K.
type Stats struct {
	TotalMemories    int            `json:"total_memories"`
	HotSizeBytes     int64          `json:"hot_size_bytes"`
	ArchiveSizeBytes int64          `json:"archive_size_bytes"`
	WriteQueue       WriteQueueStat `json:"write_queue"`
	LastUpdated      time.Time      `json:"last_updated"`
}

// WriteQueueStat mirrors the counters WriteQueue tracks.
type WriteQueueStat struct {
	TotalWrites   int64 `json:"total_writes"`
	QueueMax      int64 `json:"queue_max"`
	CurrentQueue  int64 `json:"current_queue"`
}
