package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/generatecover/api/internal/client"
	"github.com/generatecover/api/internal/config"
	"github.com/generatecover/api/internal/metrics"
	"github.com/generatecover/api/internal/model"
	"github.com/generatecover/api/internal/service"
)

// Outcome describes what a single recheck did.
type Outcome string

const (
	OutcomeSkipped    Outcome = "skipped"
	OutcomeProcessing Outcome = "processing"
	OutcomeBackoff    Outcome = "backoff"
	OutcomeCompleted  Outcome = "completed"
	OutcomeFailed     Outcome = "failed"
	OutcomeClaimed    Outcome = "claimed"
	OutcomeSwept      Outcome = "swept"
)

const (
	// a check scheduled further out than this belongs to another chain
	checkTolerance = 5 * time.Second
	// processing jobs whose next check is this overdue are rescheduled by the sweep
	staleAfter = 2 * time.Minute
)

// Covers is the part of the cover service the worker drives.
type Covers interface {
	Generate(ctx context.Context, postID string, mode model.GenerationMode) (*model.GenerateResult, error)
	CompleteJob(ctx context.Context, job *model.GenerationJob, status *client.StatusResult) (*model.Media, error)
	FailJob(ctx context.Context, job *model.GenerationJob, cause error) error
	NotifyProcessing(ctx context.Context, job *model.GenerationJob)
}

// RecheckDeps are the collaborators of RecheckWorker
type RecheckDeps struct {
	Jobs      service.JobStore
	Images    client.StatusChecker
	Covers    Covers
	Scheduler service.Scheduler
}

// RecheckWorker follows submitted image tasks until they finish. Each
// recheck performs one status query and either finishes the job or
// schedules the next check.
type RecheckWorker struct {
	jobs      service.JobStore
	images    client.StatusChecker
	covers    Covers
	scheduler service.Scheduler

	recheck time.Duration
	backoff time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// NewRecheckWorker creates a new recheck worker
func NewRecheckWorker(deps RecheckDeps, cfg config.GenerationConfig, log zerolog.Logger) *RecheckWorker {
	return &RecheckWorker{
		jobs:      deps.Jobs,
		images:    deps.Images,
		covers:    deps.Covers,
		scheduler: deps.Scheduler,
		recheck:   cfg.RecheckInterval(),
		backoff:   cfg.BackoffInterval(),
		now:       time.Now,
		log:       log.With().Str("component", "recheck").Logger(),
	}
}

// WithClock replaces the worker's time source.
func (w *RecheckWorker) WithClock(now func() time.Time) *RecheckWorker {
	w.now = now
	return w
}

// Register installs the cover task handlers on mux.
func (w *RecheckWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(service.TaskTypeRecheck, w.ProcessRecheck)
	mux.HandleFunc(service.TaskTypeGenerate, w.ProcessGenerate)
	mux.HandleFunc(service.TaskTypeSweep, w.ProcessSweep)
}

// ProcessRecheck handles cover:recheck tasks
func (w *RecheckWorker) ProcessRecheck(ctx context.Context, t *asynq.Task) error {
	p, err := service.ParseTaskPayload(t.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	outcome, err := w.Recheck(ctx, p.PostID, p.TaskID)
	metrics.RechecksTotal.WithLabelValues(string(outcome)).Inc()
	return err
}

// ProcessGenerate handles publish-triggered cover:generate tasks. Flow
// failures are already recorded in the post's history, so only transient
// errors are handed back to asynq for a retry.
func (w *RecheckWorker) ProcessGenerate(ctx context.Context, t *asynq.Task) error {
	p, err := service.ParseTaskPayload(t.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if p.PostID == "" {
		return fmt.Errorf("generate task without post id: %w", asynq.SkipRetry)
	}

	res, err := w.covers.Generate(ctx, p.PostID, model.ModeAsync)
	switch {
	case err == nil:
		w.log.Info().Str("post_id", p.PostID).Str("task_id", res.TaskID).Msg("auto generation submitted")
		return nil
	case model.IsRetryable(err):
		return err
	default:
		w.log.Warn().Err(err).Str("post_id", p.PostID).Str("kind", string(model.KindOf(err))).Msg("auto generation not started")
		return nil
	}
}

// ProcessSweep handles the periodic cover:sweep task
func (w *RecheckWorker) ProcessSweep(ctx context.Context, t *asynq.Task) error {
	_, err := w.Sweep(ctx)
	return err
}

// Recheck queries the task once and acts on the result. It is a no-op for
// absent, finished or superseded jobs. An empty taskID means the job's
// current task; an empty postID runs a sweep instead.
func (w *RecheckWorker) Recheck(ctx context.Context, postID, taskID string) (Outcome, error) {
	if postID == "" {
		if _, err := w.Sweep(ctx); err != nil {
			return OutcomeSwept, err
		}
		return OutcomeSwept, nil
	}

	job, err := w.jobs.LoadJob(ctx, postID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if job == nil || job.Terminal() {
		return OutcomeSkipped, nil
	}
	if taskID == "" {
		taskID = job.TaskID
	}
	if job.TaskID != taskID {
		w.log.Debug().Str("post_id", postID).Str("task_id", taskID).Str("current_task_id", job.TaskID).Msg("superseded task, skipping")
		return OutcomeSkipped, nil
	}

	log := w.log.With().Str("post_id", postID).Str("task_id", taskID).Logger()

	status, err := w.images.CheckStatus(ctx, taskID)
	if err != nil {
		if model.IsRetryable(err) {
			log.Warn().Err(err).Dur("delay", w.backoff).Msg("status query failed, backing off")
			return OutcomeBackoff, w.reschedule(ctx, job, w.backoff)
		}
		return w.fail(ctx, job, err)
	}

	switch status.Status {
	case client.TaskDone:
		return w.complete(ctx, job, status)
	case client.TaskNotFound:
		return w.fail(ctx, job, model.NewError(model.ErrKindTaskFailed, "task not found or expired", nil))
	case client.TaskExpired:
		return w.fail(ctx, job, model.NewError(model.ErrKindTaskFailed, "task expired", nil))
	default:
		log.Debug().Str("status", status.RawStatus).Msg("still processing")
		w.covers.NotifyProcessing(ctx, job)
		return OutcomeProcessing, w.reschedule(ctx, job, w.recheck)
	}
}

// Sweep schedules an immediate recheck for every processing job that has no
// check pending. It returns how many jobs were scheduled.
func (w *RecheckWorker) Sweep(ctx context.Context) (int, error) {
	jobs, err := w.jobs.ListProcessing(ctx)
	if err != nil {
		return 0, err
	}
	metrics.ProcessingJobs.Set(float64(len(jobs)))

	cutoff := w.now().Add(-staleAfter)
	scheduled := 0
	for _, job := range jobs {
		if job.NextCheckAt != nil && job.NextCheckAt.After(cutoff) {
			continue
		}
		if err := w.reschedule(ctx, job, 0); err != nil {
			return scheduled, err
		}
		scheduled++
	}

	if scheduled > 0 {
		w.log.Info().Int("processing", len(jobs)).Int("scheduled", scheduled).Msg("sweep rescheduled stale jobs")
	}
	return scheduled, nil
}

func (w *RecheckWorker) complete(ctx context.Context, job *model.GenerationJob, status *client.StatusResult) (Outcome, error) {
	_, err := w.covers.CompleteJob(ctx, job, status)
	var ge *model.GenerationError
	switch {
	case err == nil:
		return OutcomeCompleted, nil
	case errors.Is(err, service.ErrCompletionClaimed):
		return OutcomeClaimed, nil
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrJobSuperseded):
		return OutcomeSkipped, nil
	case errors.As(err, &ge):
		// the job was marked failed by CompleteJob
		return OutcomeFailed, nil
	default:
		// the claim was released; asynq retries the recheck
		return OutcomeBackoff, err
	}
}

func (w *RecheckWorker) fail(ctx context.Context, job *model.GenerationJob, cause error) (Outcome, error) {
	if err := w.covers.FailJob(ctx, job, cause); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeFailed, nil
}

// reschedule queues the next check unless another check for the same task
// is already pending.
func (w *RecheckWorker) reschedule(ctx context.Context, job *model.GenerationJob, delay time.Duration) error {
	now := w.now()
	if job.CheckPendingAfter(now.Add(checkTolerance)) {
		w.log.Debug().Str("post_id", job.PostID).Time("next_check_at", *job.NextCheckAt).Msg("check already pending")
		return nil
	}

	current, err := w.jobs.LoadJob(ctx, job.PostID)
	if err != nil {
		return err
	}
	if current == nil || current.Terminal() || current.TaskID != job.TaskID {
		return nil
	}

	current.ScheduleCheck(now.Add(delay))
	if err := w.jobs.SaveJob(ctx, current); err != nil {
		if errors.Is(err, model.ErrJobSuperseded) {
			// finished or replaced since it was read
			return nil
		}
		return fmt.Errorf("failed to save job: %w", err)
	}
	if err := w.scheduler.ScheduleOnce(ctx, delay, service.RecheckTask(current.PostID, current.TaskID)); err != nil {
		return fmt.Errorf("failed to schedule recheck: %w", err)
	}
	return nil
}
