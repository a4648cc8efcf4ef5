package client

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/generatecover/api/internal/model"
)

// PollOptions bounds a blocking poll loop
type PollOptions struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultPollOptions is 30 attempts, 2 seconds apart.
func DefaultPollOptions() PollOptions {
	return PollOptions{MaxAttempts: 30, Interval: 2 * time.Second}
}

// PollUntilDone calls CheckStatus until the task is done. not_found, expired
// and provider errors end the loop at once. Transient request failures use up
// an attempt and polling continues; when the budget runs out a timeout error
// is returned wrapping the last failure, if any.
func PollUntilDone(ctx context.Context, checker StatusChecker, taskID string, opts PollOptions, log zerolog.Logger) (*StatusResult, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultPollOptions().MaxAttempts
	}
	if opts.Interval < 0 {
		opts.Interval = 0
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		result, err := checker.CheckStatus(ctx, taskID)
		switch {
		case err != nil && model.IsRetryable(err):
			log.Warn().Err(err).Int("attempt", attempt).Str("task_id", taskID).Msg("poll: transient failure")
			lastErr = err
		case err != nil:
			return nil, err
		default:
			log.Debug().Int("attempt", attempt).Str("task_id", taskID).Str("status", string(result.Status)).Msg("poll")
			switch result.Status {
			case TaskDone:
				return result, nil
			case TaskNotFound:
				return nil, model.NewError(model.ErrKindTaskFailed, "task not found or expired", nil)
			case TaskExpired:
				return nil, model.NewError(model.ErrKindTaskFailed, "task expired", nil)
			}
		}

		if attempt == opts.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, model.NewError(model.ErrKindTimeout, "polling cancelled", ctx.Err())
		case <-time.After(opts.Interval):
		}
	}

	return nil, model.NewError(model.ErrKindTimeout,
		fmt.Sprintf("generation timed out after %d attempts, please retry later", opts.MaxAttempts), lastErr)
}
