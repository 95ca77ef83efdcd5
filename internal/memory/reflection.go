package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
)

const reflectionInstructions = `Given a recent conversation turn and the memories it recalled, decide whether a proactive follow-up is warranted (e.g. a reminder the user asked for, or a commitment that needs a nudge later).

Respond with a JSON object: {"should_act": bool, "message"?: string, "delay_minutes"?: number}. Omit message and delay_minutes when should_act is false.`

type reflectionDecision struct {
	ShouldAct    bool    `json:"should_act"`
	Message      string  `json:"message"`
	DelayMinutes float64 `json:"delay_minutes"`
}

// Reflection is the durable scheduler for proactive actions. State is a
// single JSON file, written through on every mutation.
type Reflection struct {
	mu                sync.Mutex
	path              string
	lm                LanguageModel
	actionTTL         time.Duration
	maxPendingActions int
	actions           []PendingAction
}

// NewReflection loads (or initializes empty) the action list at
// dataDir/mem0-actions.json. A missing or corrupt file yields an empty
// list rather than an error.
func NewReflection(dataDir string, lm LanguageModel, actionTTL time.Duration, maxPendingActions int) *Reflection {
	r := &Reflection{
		path:              filepath.Join(dataDir, "mem0-actions.json"),
		lm:                lm,
		actionTTL:         actionTTL,
		maxPendingActions: maxPendingActions,
	}
	r.actions = r.load()
	return r
}

func (r *Reflection) load() []PendingAction {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil
	}
	var actions []PendingAction
	if err := json.Unmarshal(data, &actions); err != nil {
		log.Warn().Err(err).Str("path", r.path).Msg("corrupt reflection state, starting empty")
		return nil
	}
	return actions
}

func (r *Reflection) persistLocked() {
	data, err := json.MarshalIndent(r.actions, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal reflection state")
		return
	}
	if err := writeFileAtomic(r.path, data); err != nil {
		log.Warn().Err(err).Str("path", r.path).Msg("failed to persist reflection state")
	}
}

// Observe builds a reflection prompt from messages and recentMemories
// and, on a should_act decision, schedules a PendingAction. Called after
// a successful non-empty ingest. Returns silently if no LanguageModel is
// configured.
func (r *Reflection) Observe(ctx context.Context, messages []CaptureMessage, recentMemories []Memory) {
	if r.lm == nil {
		return
	}

	r.mu.Lock()
	unfired := 0
	for _, a := range r.actions {
		if !a.Fired {
			unfired++
		}
	}
	r.mu.Unlock()
	if unfired >= r.maxPendingActions {
		return
	}

	prompt := formatReflectionPrompt(messages, recentMemories)
	raw, err := r.lm.Generate(ctx, []ChatMessage{
		{Role: "system", Content: reflectionInstructions},
		{Role: "user", Content: prompt},
	}, GenerateOptions{JSONMode: true, Temperature: 0.3, MaxTokens: 200})
	if err != nil {
		log.Warn().Err(err).Msg("reflection observe failed")
		return
	}

	var decision reflectionDecision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		return
	}
	if !decision.ShouldAct || strings.TrimSpace(decision.Message) == "" {
		return
	}

	delay := decision.DelayMinutes
	if delay < 0 {
		delay = 0
	}
	now := time.Now().UTC()
	action := PendingAction{
		ID:        newActionID(now),
		Message:   decision.Message,
		CreatedAt: now,
		TriggerAt: now.Add(time.Duration(delay) * time.Minute),
		Fired:     false,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	r.persistLocked()
}

// Poll prunes entries whose age has reached the action TTL (fired
// entries are kept until then, so MarkFailed can still re-arm them),
// then returns the first due, unfired action (marking it fired), or nil.
func (r *Reflection) Poll() *PendingAction {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()

	now := time.Now().UTC()
	for i := range r.actions {
		a := &r.actions[i]
		if !a.Fired && !a.TriggerAt.After(now) {
			a.Fired = true
			r.persistLocked()
			out := *a
			return &out
		}
	}
	return nil
}

// MarkFailed re-arms id for redelivery: fired is cleared and
// delivery_attempts incremented.
func (r *Reflection) MarkFailed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.actions {
		if r.actions[i].ID == id {
			r.actions[i].Fired = false
			r.actions[i].DeliveryAttempts++
			r.persistLocked()
			return
		}
	}
}

func (r *Reflection) pruneLocked() {
	now := time.Now().UTC()
	kept := r.actions[:0]
	changed := false
	for _, a := range r.actions {
		if now.Sub(a.CreatedAt) >= r.actionTTL {
			changed = true
			continue
		}
		kept = append(kept, a)
	}
	if changed {
		r.actions = kept
		r.persistLocked()
	}
}

func newActionID(t time.Time) string {
	buf := make([]byte, 3)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("action_%s_%s", strconv.FormatInt(t.UnixMilli(), 10), hex.EncodeToString(buf))
}

func formatReflectionPrompt(messages []CaptureMessage, recentMemories []Memory) string {
	var sb strings.Builder
	sb.WriteString("Conversation:\n")
	sb.WriteString(buildTranscript(messages))
	sb.WriteString("\n\nRecalled memories:\n")
	for _, m := range recentMemories {
		sb.WriteString("- ")
		sb.WriteString(m.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// writeFileAtomic writes data to path via a temp file plus rename, so a
// reader never observes a partially written file. Skips the rename
// entirely when the existing file's content already matches, so a
// quiescent reflection/stats snapshot doesn't bump mtime every tick.
func writeFileAtomic(path string, data []byte) error {
	if existing, err := os.ReadFile(path); err == nil {
		if blake2b.Sum256(existing) == blake2b.Sum256(data) {
			return nil
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
