package memory

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContextBuilderEmptyInput(t *testing.T) {
	b := NewContextBuilder(DefaultConfig())
	res := b.Build(nil, BuildOptions{ModelID: "gpt-4"})
	assert.Equal(t, "", res.Text)
	assert.Equal(t, 0, res.InjectedCount)
	assert.False(t, res.Truncated)
}

func TestContextBuilderWrapsSelectedMemories(t *testing.T) {
	b := NewContextBuilder(DefaultConfig())
	now := time.Now()
	mems := []Memory{
		{ID: "1", Text: "User uses Rust daily for systems work.", CreatedAt: now},
	}
	res := b.Build(mems, BuildOptions{ModelID: "gpt-4"})
	assert.True(t, strings.Contains(res.Text, "<relevant-memories>"))
	assert.True(t, strings.Contains(res.Text, "User uses Rust daily for systems work."))
	assert.Equal(t, 1, res.InjectedCount)
	assert.False(t, res.Truncated)
}

func TestContextBuilderSingleMemoryTooLarge(t *testing.T) {
	b := NewContextBuilder(DefaultConfig())
	huge := strings.Repeat("x", 100000)
	res := b.Build([]Memory{{ID: "1", Text: huge, CreatedAt: time.Now()}}, BuildOptions{ModelID: "gpt-4"})
	assert.Equal(t, 1, res.InjectedCount)
	assert.False(t, res.Truncated)
	budget := b.budget("gpt-4")
	assert.Equal(t, budget, res.EstimatedTokens)
}

func TestContextBuilderTokenBudgetTruncatesLargeSet(t *testing.T) {
	b := NewContextBuilder(DefaultConfig())
	now := time.Now()
	var mems []Memory
	for i := 0; i < 50; i++ {
		score := 1.0 - float64(i)*0.001
		mems = append(mems, Memory{
			ID:        string(rune('a' + i%26)),
			Text:      strings.Repeat("word ", 200), // ~ well over 200 tokens
			Score:     &score,
			CreatedAt: now,
		})
	}
	res := b.Build(mems, BuildOptions{ModelID: "deepseek-chat"})
	assert.Equal(t, 4000, b.budget("deepseek-chat"))
	assert.True(t, res.Truncated)
	assert.True(t, res.InjectedCount < 50)
	assert.True(t, res.EstimatedTokens <= 4000)
}

func TestLookupModelContextPrefixes(t *testing.T) {
	assert.Equal(t, 8192, lookupModelContext("gpt-4"))
	assert.Equal(t, 32768, lookupModelContext("gpt-4-32k"))
	assert.Equal(t, 128000, lookupModelContext("gpt-4o-mini"))
	assert.Equal(t, 200000, lookupModelContext("claude-3-opus"))
	assert.Equal(t, 8192, lookupModelContext("unknown-model"))
}

func TestEstimateTokensChineseAndAscii(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.True(t, estimateTokens("你好世界") >= 3)
	assert.True(t, estimateTokens("hello world") >= 2)
}
