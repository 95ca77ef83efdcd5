package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReflectionObserveSchedulesAction(t *testing.T) {
	dir := t.TempDir()
	lm := &scriptedLanguageModel{responses: []string{`{"should_act": true, "message": "follow up on the flight", "delay_minutes": 1}`}}
	r := NewReflection(dir, lm, time.Hour, 20)

	r.Observe(context.Background(), []CaptureMessage{{Role: "user", Text: "remind me about the flight"}}, nil)

	r2 := NewReflection(dir, lm, time.Hour, 20)
	require.Len(t, r2.actions, 1)
	assert.Equal(t, "follow up on the flight", r2.actions[0].Message)
	assert.False(t, r2.actions[0].Fired)
}

func TestReflectionObserveNoopsWithoutShouldAct(t *testing.T) {
	dir := t.TempDir()
	lm := &scriptedLanguageModel{responses: []string{`{"should_act": false}`}}
	r := NewReflection(dir, lm, time.Hour, 20)
	r.Observe(context.Background(), []CaptureMessage{{Role: "user", Text: "hi"}}, nil)
	assert.Len(t, r.actions, 0)
}

func TestReflectionObserveSkipsWithoutLanguageModel(t *testing.T) {
	r := NewReflection(t.TempDir(), nil, time.Hour, 20)
	r.Observe(context.Background(), []CaptureMessage{{Role: "user", Text: "hi"}}, nil)
	assert.Len(t, r.actions, 0)
}

func TestReflectionPollReturnsDueAction(t *testing.T) {
	r := NewReflection(t.TempDir(), nil, time.Hour, 20)
	r.mu.Lock()
	r.actions = append(r.actions, PendingAction{ID: "a1", Message: "due", CreatedAt: time.Now(), TriggerAt: time.Now().Add(-time.Second)})
	r.mu.Unlock()

	a := r.Poll()
	require.NotNil(t, a)
	assert.Equal(t, "a1", a.ID)
	assert.True(t, a.Fired)

	// A second poll must not return the same action again.
	assert.Nil(t, r.Poll())
}

func TestReflectionPollSurvivesIntermediatePollAfterFireForMarkFailed(t *testing.T) {
	r := NewReflection(t.TempDir(), nil, time.Hour, 20)
	r.mu.Lock()
	r.actions = append(r.actions, PendingAction{ID: "a1", Message: "due", CreatedAt: time.Now(), TriggerAt: time.Now().Add(-time.Second)})
	r.mu.Unlock()

	first := r.Poll()
	require.NotNil(t, first)
	assert.Equal(t, "a1", first.ID)
	assert.True(t, first.Fired)

	// An intervening poll must not prune the fired-but-young action, or
	// MarkFailed below would have nothing left to re-arm.
	assert.Nil(t, r.Poll())
	r.mu.Lock()
	require.Len(t, r.actions, 1)
	r.mu.Unlock()

	r.MarkFailed("a1")

	third := r.Poll()
	require.NotNil(t, third)
	assert.Equal(t, "a1", third.ID)
	assert.True(t, third.Fired)
}

func TestReflectionPollPrunesExpired(t *testing.T) {
	r := NewReflection(t.TempDir(), nil, time.Millisecond, 20)
	r.mu.Lock()
	r.actions = append(r.actions, PendingAction{ID: "a1", Message: "stale", CreatedAt: time.Now().Add(-time.Hour), TriggerAt: time.Now().Add(time.Hour)})
	r.mu.Unlock()

	assert.Nil(t, r.Poll())
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Len(t, r.actions, 0)
}

func TestReflectionMarkFailedRearmsAction(t *testing.T) {
	r := NewReflection(t.TempDir(), nil, time.Hour, 20)
	r.mu.Lock()
	r.actions = append(r.actions, PendingAction{ID: "a1", Message: "m", CreatedAt: time.Now(), TriggerAt: time.Now().Add(-time.Second), Fired: true})
	r.mu.Unlock()

	r.MarkFailed("a1")

	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.actions, 1)
	assert.False(t, r.actions[0].Fired)
	assert.Equal(t, 1, r.actions[0].DeliveryAttempts)
}

func TestReflectionRefusesMoreThanMaxPendingActions(t *testing.T) {
	dir := t.TempDir()
	lm := &scriptedLanguageModel{responses: []string{`{"should_act": true, "message": "x", "delay_minutes": 0}`}}
	r := NewReflection(dir, lm, time.Hour, 1)
	r.Observe(context.Background(), []CaptureMessage{{Role: "user", Text: "1"}}, nil)
	require.Len(t, r.actions, 1)

	r.Observe(context.Background(), []CaptureMessage{{Role: "user", Text: "2"}}, nil)
	assert.Len(t, r.actions, 1)
}
