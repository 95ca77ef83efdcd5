package memory

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
)

const globalBufferKey = "__global__"

// flusher is the narrow slice of Ingestor that CaptureBatcher depends on.
type flusher interface {
	Ingest(ctx context.Context, messages []CaptureMessage, opts IngestOptions) ([]ExtractionResult, error)
}

// CaptureBatcher debounces observed conversation turns per session and
// hands a compacted batch to an Ingestor once the window elapses.
type CaptureBatcher struct {
	mu         sync.Mutex
	buffers    map[string]*CaptureBuffer
	timers     map[string]*time.Timer
	inFlight   sync.WaitGroup
	window     time.Duration
	maxMessages int
	ingestor   flusher
	userID     string
	onExtract  func(sessionID string, messages []CaptureMessage, results []ExtractionResult)
}

// NewCaptureBatcher wires a CaptureBatcher over ingestor. onExtract, if
// non-nil, is invoked after every successful non-empty flush with the
// compacted batch that produced results (the lifecycle coordinator uses
// this to trigger Reflection.observe with the conversation in view).
func NewCaptureBatcher(window time.Duration, maxMessages int, userID string, ingestor flusher, onExtract func(string, []CaptureMessage, []ExtractionResult)) *CaptureBatcher {
	return &CaptureBatcher{
		buffers:     make(map[string]*CaptureBuffer),
		timers:      make(map[string]*time.Timer),
		window:      window,
		maxMessages: maxMessages,
		ingestor:    ingestor,
		userID:      userID,
		onExtract:   onExtract,
	}
}

// Schedule appends messages to sessionID's buffer (or the global buffer
// when sessionID is empty), truncates to maxMessages if needed, and
// (re)arms the debounce timer.
func (b *CaptureBatcher) Schedule(sessionID string, messages []CaptureMessage) {
	key := sessionID
	if key == "" {
		key = globalBufferKey
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.buffers[key]
	if !ok {
		buf = &CaptureBuffer{SessionID: sessionID}
		b.buffers[key] = buf
	}
	buf.Messages = append(buf.Messages, messages...)
	if len(buf.Messages) > b.maxMessages {
		buf.Messages = buf.Messages[len(buf.Messages)-b.maxMessages:]
	}

	if t, ok := b.timers[key]; ok {
		t.Stop()
	}
	b.timers[key] = time.AfterFunc(b.window, func() { b.Flush(key) })
}

// Flush detaches key's buffer, compacts it and hands it to the Ingestor.
// Safe to call directly (as the debounce callback does) or externally.
func (b *CaptureBatcher) Flush(key string) {
	b.mu.Lock()
	buf, ok := b.buffers[key]
	if ok {
		delete(b.buffers, key)
	}
	if t, ok := b.timers[key]; ok {
		t.Stop()
		delete(b.timers, key)
	}
	b.mu.Unlock()

	if !ok || len(buf.Messages) == 0 {
		return
	}

	compacted := compactMessages(buf.Messages)
	if len(compacted) > b.maxMessages {
		compacted = compacted[len(compacted)-b.maxMessages:]
	}
	if len(compacted) == 0 {
		return
	}

	b.inFlight.Add(1)
	go func() {
		defer b.inFlight.Done()
		results, err := b.ingestor.Ingest(context.Background(), compacted, IngestOptions{UserID: b.userID, RunID: buf.SessionID})
		if err != nil {
			log.Warn().Err(err).Str("session_id", buf.SessionID).Msg("capture batch ingest failed, discarding")
			return
		}
		if len(results) > 0 && b.onExtract != nil {
			b.onExtract(buf.SessionID, compacted, results)
		}
	}()
}

// FlushAll flushes every buffered session and awaits all in-flight
// ingests. Called on shutdown.
func (b *CaptureBatcher) FlushAll() {
	b.mu.Lock()
	keys := make([]string, 0, len(b.buffers))
	for k := range b.buffers {
		keys = append(keys, k)
	}
	b.mu.Unlock()

	for _, k := range keys {
		b.Flush(k)
	}
	b.inFlight.Wait()
}

// compactMessages collapses adjacent duplicates (same role and text) and
// drops empty-text entries, preserving observation order. Duplicates are
// compared by content fingerprint rather than direct string equality, so
// the same dedup key can later be reused for cross-session duplicate
// detection without re-hashing.
func compactMessages(messages []CaptureMessage) []CaptureMessage {
	var out []CaptureMessage
	var lastKey string
	for _, m := range messages {
		if m.Text == "" {
			continue
		}
		key := messageFingerprint(m)
		if len(out) > 0 && key == lastKey {
			continue
		}
		out = append(out, m)
		lastKey = key
	}
	return out
}

func messageFingerprint(m CaptureMessage) string {
	sum := blake2b.Sum256([]byte(m.Role + "\x00" + m.Text))
	return hex.EncodeToString(sum[:])
}
