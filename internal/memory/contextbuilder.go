package memory

import (
	"fmt"
	"sort"
	"strings"
)

// ContextBuilder serializes a set of recalled memories into a token-
// budgeted string for injection into the host's prompt.
type ContextBuilder struct {
	cfg Config
}

// NewContextBuilder constructs a ContextBuilder bound to cfg's token
// budget ratio/min/max.
func NewContextBuilder(cfg Config) *ContextBuilder {
	return &ContextBuilder{cfg: cfg}
}

// BuildResult is the output of ContextBuilder.Build.
type BuildResult struct {
	Text            string
	InjectedCount   int
	Total           int
	EstimatedTokens int
	Truncated       bool
}

// modelContextSizes maps a model-id prefix to its context window, looked
// up by longest-matching-prefix; unmatched ids fall back to 8192.
var modelContextSizes = []struct {
	prefix string
	size   int
}{
	{"gpt-4-32k", 32768},
	{"gpt-4-turbo", 128000},
	{"gpt-4o", 128000},
	{"gpt-4", 8192},
	{"claude-3", 200000},
	{"deepseek-chat", 64000},
	{"deepseek-coder", 16000},
	{"moonshot-v1", 32000},
	{"qwen-max", 32000},
	{"qwen-plus", 32000},
	{"abab6.5s-chat", 32000},
}

const defaultModelContext = 8192

func lookupModelContext(modelID string) int {
	best := -1
	bestLen := -1
	for i, entry := range modelContextSizes {
		if strings.HasPrefix(modelID, entry.prefix) && len(entry.prefix) > bestLen {
			best = i
			bestLen = len(entry.prefix)
		}
	}
	if best == -1 {
		return defaultModelContext
	}
	return modelContextSizes[best].size
}

func (b *ContextBuilder) budget(modelID string) int {
	ctxSize := lookupModelContext(modelID)
	raw := int(float64(ctxSize) * b.cfg.MemoryTokenBudgetRatio)
	return clampInt(raw, b.cfg.MemoryTokenBudgetMin, b.cfg.MemoryTokenBudgetMax)
}

// estimateTokens implements tokens(s) = ceil(chinese_chars/1.5 + other/4).
func estimateTokens(s string) int {
	var chinese, other float64
	for _, r := range s {
		if r >= 0x4E00 && r <= 0x9FFF {
			chinese++
		} else {
			other++
		}
	}
	total := chinese/1.5 + other/4
	return int(total) + boolToInt(total != float64(int(total)))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// BuildOptions configures one Build call.
type BuildOptions struct {
	ModelID     string
	MaxMemories int
}

// Build selects a token-budgeted, score-sorted prefix of memories and
// wraps it in <relevant-memories> markers for prompt injection.
func (b *ContextBuilder) Build(memories []Memory, opts BuildOptions) BuildResult {
	total := len(memories)
	if total == 0 {
		return BuildResult{Text: "", InjectedCount: 0, Total: 0, EstimatedTokens: 0, Truncated: false}
	}

	sorted := make([]Memory, total)
	copy(sorted, memories)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := scoreOf(sorted[i]), scoreOf(sorted[j])
		if si != sj {
			return si > sj
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	if opts.MaxMemories > 0 && len(sorted) > opts.MaxMemories {
		sorted = sorted[:opts.MaxMemories]
	}

	budget := b.budget(opts.ModelID)
	used := 50 // wrapper marker overhead
	var selected []Memory

	for _, m := range sorted {
		memTokens := estimateTokens(m.Text) + 10
		if used+memTokens > budget {
			break
		}
		used += memTokens
		selected = append(selected, m)
	}

	if len(selected) == 0 {
		// Single memory too large: include a truncated copy sized so
		// the whole selection fits exactly within budget.
		first := sorted[0]
		maxChars := 2 * (budget - 70)
		if maxChars < 0 {
			maxChars = 0
		}
		text := first.Text
		runes := []rune(text)
		if len(runes) > maxChars {
			text = string(runes[:maxChars]) + "..."
		}
		first.Text = text
		selected = []Memory{first}
		used = budget
	}

	var sb strings.Builder
	sb.WriteString("<relevant-memories>\n")
	for i, m := range selected {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, m.Text))
	}
	sb.WriteString("</relevant-memories>")

	return BuildResult{
		Text:            sb.String(),
		InjectedCount:   len(selected),
		Total:           total,
		EstimatedTokens: used,
		Truncated:       len(selected) < total,
	}
}

func scoreOf(m Memory) float64 {
	if m.Score != nil {
		return *m.Score
	}
	return 0
}
