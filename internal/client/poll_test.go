package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/generatecover/api/internal/model"
)

type scriptedChecker struct {
	steps []step
	calls int
}

type step struct {
	result *StatusResult
	err    error
}

func (s *scriptedChecker) CheckStatus(ctx context.Context, taskID string) (*StatusResult, error) {
	i := s.calls
	s.calls++
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i].result, s.steps[i].err
}

func processing() step { return step{result: &StatusResult{Status: TaskProcessing}} }

func fastPoll(n int) PollOptions { return PollOptions{MaxAttempts: n, Interval: time.Millisecond} }

func TestPollUntilDone_DoneAfterProcessing(t *testing.T) {
	done := step{result: &StatusResult{Status: TaskDone, ImageURLs: []string{"https://x/img.jpg"}}}
	c := &scriptedChecker{steps: []step{processing(), processing(), processing(), done}}

	res, err := PollUntilDone(context.Background(), c, "T1", fastPoll(30), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x/img.jpg"}, res.ImageURLs)
	assert.Equal(t, 4, c.calls)
}

func TestPollUntilDone_Timeout(t *testing.T) {
	c := &scriptedChecker{steps: []step{processing()}}

	_, err := PollUntilDone(context.Background(), c, "T1", fastPoll(3), zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, model.ErrKindTimeout, model.KindOf(err))
	assert.Equal(t, 3, c.calls)
}

func TestPollUntilDone_TerminalStatuses(t *testing.T) {
	for _, status := range []TaskStatus{TaskNotFound, TaskExpired} {
		t.Run(string(status), func(t *testing.T) {
			c := &scriptedChecker{steps: []step{processing(), {result: &StatusResult{Status: status}}}}

			_, err := PollUntilDone(context.Background(), c, "T1", fastPoll(30), zerolog.Nop())
			require.Error(t, err)
			assert.Equal(t, model.ErrKindTaskFailed, model.KindOf(err))
			assert.Equal(t, 2, c.calls)
		})
	}
}

func TestPollUntilDone_ProviderErrorStopsImmediately(t *testing.T) {
	c := &scriptedChecker{steps: []step{{err: model.NewProviderError(50500, "API error: internal error")}}}

	_, err := PollUntilDone(context.Background(), c, "T1", fastPoll(30), zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, model.ErrKindProvider, model.KindOf(err))
	assert.Equal(t, 1, c.calls)
}

func TestPollUntilDone_RequestErrorsConsumeBudget(t *testing.T) {
	transient := step{err: model.NewError(model.ErrKindRequest, "request failed", errors.New("dial tcp: timeout"))}
	done := step{result: &StatusResult{Status: TaskDone}}

	c := &scriptedChecker{steps: []step{transient, transient, done}}
	_, err := PollUntilDone(context.Background(), c, "T1", fastPoll(5), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 3, c.calls)

	c = &scriptedChecker{steps: []step{transient}}
	_, err = PollUntilDone(context.Background(), c, "T1", fastPoll(2), zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, model.ErrKindTimeout, model.KindOf(err))
	assert.Contains(t, err.Error(), "dial tcp")
}

func TestPollUntilDone_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &scriptedChecker{steps: []step{processing()}}

	_, err := PollUntilDone(ctx, c, "T1", PollOptions{MaxAttempts: 5, Interval: time.Hour}, zerolog.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, c.calls)
}
