package model

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationJob_TransitionsAreMonotonic(t *testing.T) {
	now := time.Now()

	job := NewGenerationJob("1", "T1", "blue sky", ModeAsync, now)
	assert.False(t, job.Terminal())

	job.ScheduleCheck(now.Add(30 * time.Second))
	require.NoError(t, job.MarkCompleted("m1", now))
	assert.True(t, job.Terminal())
	assert.Equal(t, "m1", job.AttachmentID)
	assert.Nil(t, job.NextCheckAt)

	assert.ErrorIs(t, job.MarkFailed("late failure", now), ErrInvalidTransition)
	assert.ErrorIs(t, job.MarkCompleted("m2", now), ErrInvalidTransition)
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, "m1", job.AttachmentID)

	failed := NewGenerationJob("2", "T2", "p", ModeSync, now)
	require.NoError(t, failed.MarkFailed("API error: internal error", now))
	assert.Equal(t, "API error: internal error", failed.ErrorMessage)
	assert.ErrorIs(t, failed.MarkCompleted("m", now), ErrInvalidTransition)
}

func TestGenerationJob_CheckPendingAfter(t *testing.T) {
	now := time.Now()
	job := NewGenerationJob("1", "T1", "p", ModeAsync, now)
	assert.False(t, job.CheckPendingAfter(now))

	job.ScheduleCheck(now.Add(time.Minute))
	assert.True(t, job.CheckPendingAfter(now))
	assert.False(t, job.CheckPendingAfter(now.Add(2*time.Minute)))
}

func TestAppendHistory_EvictsOldest(t *testing.T) {
	var h []GenerationHistoryEntry
	for i := 0; i < 12; i++ {
		h = AppendHistory(h, GenerationHistoryEntry{Message: fmt.Sprint(i)})
	}
	require.Len(t, h, MaxHistory)
	assert.Equal(t, "2", h[0].Message)
	assert.Equal(t, "11", h[MaxHistory-1].Message)
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeSync, ParseMode("sync", ModeAsync))
	assert.Equal(t, ModeAsync, ParseMode("", ModeAsync))
	assert.Equal(t, ModeSync, ParseMode("bogus", ModeSync))
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewProviderError(50429, "API error: rate limit exceeded, please retry later"))
	assert.Equal(t, ErrKindProvider, KindOf(err))
	assert.False(t, IsRetryable(err))
	assert.True(t, IsRetryable(NewError(ErrKindRequest, "request failed", nil)))
	assert.Equal(t, ErrKindInternal, KindOf(fmt.Errorf("plain")))
}

func TestGenerationJob_CanReplace(t *testing.T) {
	now := time.Now()
	processing := func(task string) *GenerationJob { return NewGenerationJob("1", task, "p", ModeAsync, now) }
	completed := func(task string) *GenerationJob {
		j := processing(task)
		require.NoError(t, j.MarkCompleted("m1", now))
		return j
	}

	tests := []struct {
		name   string
		next   *GenerationJob
		stored *GenerationJob
		want   bool
	}{
		{"new job on empty slot", processing("T1"), nil, true},
		{"finished job on empty slot", completed("T1"), nil, false},
		{"update of processing job", processing("T1"), processing("T1"), true},
		{"completion of processing job", completed("T1"), processing("T1"), true},
		{"stale processing over completed", processing("T1"), completed("T1"), false},
		{"old task over newer job", completed("T1"), processing("T2"), false},
		{"new task over finished job", processing("T2"), completed("T1"), true},
		{"new task over running job", processing("T2"), processing("T1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.next.CanReplace(tt.stored))
		})
	}
}
