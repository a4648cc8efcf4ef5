package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/generatecover/api/internal/client"
	"github.com/generatecover/api/internal/config"
	"github.com/generatecover/api/internal/metrics"
	"github.com/generatecover/api/internal/model"
)

// ErrCompletionClaimed means another worker is already storing this task's result.
var ErrCompletionClaimed = errors.New("completion already claimed")

const (
	msgSubmitted = "cover generation submitted, processing in background"
	msgCompleted = "cover generated successfully"
)

// CoverDeps are the collaborators of CoverService. Notifier may be nil.
type CoverDeps struct {
	Posts      PostStore
	Jobs       JobStore
	Media      MediaStore
	Chat       client.ChatCompleter
	Images     client.ImageGenerator
	Downloader client.ImageDownloader
	Scheduler  Scheduler
	Notifier   Notifier
}

// CoverService generates featured images for posts
type CoverService struct {
	posts      PostStore
	jobs       JobStore
	media      MediaStore
	chat       client.ChatCompleter
	images     client.ImageGenerator
	downloader client.ImageDownloader
	scheduler  Scheduler
	notifier   Notifier

	cfg  config.GenerationConfig
	poll client.PollOptions
	now  func() time.Time
	log  zerolog.Logger
}

// CoverOption customizes a CoverService
type CoverOption func(*CoverService)

// WithPollOptions overrides the sync-mode poll budget.
func WithPollOptions(p client.PollOptions) CoverOption {
	return func(s *CoverService) { s.poll = p }
}

// WithClock sets the time source used for job timestamps.
func WithClock(now func() time.Time) CoverOption {
	return func(s *CoverService) { s.now = now }
}

func NewCoverService(deps CoverDeps, cfg config.GenerationConfig, log zerolog.Logger, opts ...CoverOption) *CoverService {
	s := &CoverService{
		posts:      deps.Posts,
		jobs:       deps.Jobs,
		media:      deps.Media,
		chat:       deps.Chat,
		images:     deps.Images,
		downloader: deps.Downloader,
		scheduler:  deps.Scheduler,
		notifier:   deps.Notifier,
		cfg:        cfg,
		poll:       client.PollOptions{MaxAttempts: cfg.PollAttempts, Interval: cfg.PollEvery()},
		now:        time.Now,
		log:        log.With().Str("component", "cover").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultMode returns the configured generation mode.
func (s *CoverService) DefaultMode() model.GenerationMode {
	return model.ParseMode(s.cfg.Mode, model.ModeAsync)
}

// Generate runs the cover flow for a post. It is rejected with a conflict
// while a job for the post is still processing.
func (s *CoverService) Generate(ctx context.Context, postID string, mode model.GenerationMode) (*model.GenerateResult, error) {
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	existing, err := s.jobs.LoadJob(ctx, postID)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.Terminal() {
		return nil, model.NewError(model.ErrKindConflict,
			fmt.Sprintf("cover generation for post %s is already in progress (task %s)", postID, existing.TaskID), nil)
	}

	return s.run(ctx, post, mode)
}

// Regenerate deletes the current featured image, discards any previous job
// and runs the full flow again.
func (s *CoverService) Regenerate(ctx context.Context, postID string, mode model.GenerationMode) (*model.GenerateResult, error) {
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	featured, err := s.media.FeaturedMedia(ctx, postID)
	if err != nil {
		return nil, err
	}
	if featured != nil {
		if err := s.media.DeleteMedia(ctx, featured.ID); err != nil {
			return nil, asKind(err, model.ErrKindStorage, "failed to delete current featured image")
		}
		post.FeaturedMediaID = nil
		s.log.Info().Str("post_id", postID).Str("media_id", featured.ID).Msg("deleted featured image for regeneration")
	}

	if err := s.jobs.DeleteJob(ctx, postID); err != nil {
		return nil, err
	}

	return s.run(ctx, post, mode)
}

// BatchGenerate generates covers one post at a time with a fixed pause in
// between. With no ids it targets every published post lacking a featured image.
func (s *CoverService) BatchGenerate(ctx context.Context, postIDs []string, mode model.GenerationMode) (*model.BatchResult, error) {
	if len(postIDs) == 0 {
		ids, err := s.posts.ListWithoutFeatured(ctx)
		if err != nil {
			return nil, err
		}
		postIDs = ids
	}

	out := &model.BatchResult{
		Total:   len(postIDs),
		Results: make(map[string]model.BatchItemResult, len(postIDs)),
	}

	for i, postID := range postIDs {
		if i > 0 {
			if err := sleepCtx(ctx, s.cfg.BatchDelay()); err != nil {
				return out, err
			}
		}

		res, err := s.Generate(ctx, postID, mode)
		if err != nil {
			out.Failed++
			out.Results[postID] = model.BatchItemResult{Success: false, Message: err.Error()}
			continue
		}
		out.Succeeded++
		out.Results[postID] = model.BatchItemResult{
			Success: true,
			TaskID:  res.TaskID,
			MediaID: res.MediaID,
			Message: res.Message,
		}
	}

	return out, nil
}

func (s *CoverService) run(ctx context.Context, post *model.Post, mode model.GenerationMode) (*model.GenerateResult, error) {
	log := s.log.With().Str("post_id", post.ID).Str("mode", string(mode)).Logger()

	content := PrepareContent(post.Content, s.cfg.ContentLimit)
	if content == "" {
		err := model.NewError(model.ErrKindEmptyContent, "post content is empty, cannot generate a cover", nil)
		s.recordFailure(ctx, post.ID, "", err)
		return nil, err
	}

	prompt, err := s.chat.Complete(ctx, coverPromptRequest(SanitizeText(post.Title), content))
	if err == nil && strings.TrimSpace(prompt) == "" {
		err = errors.New("prompt generation returned an empty prompt")
	}
	if err != nil {
		perr := model.NewError(model.ErrKindPrompt, err.Error(), nil)
		s.recordFailure(ctx, post.ID, "", perr)
		return nil, perr
	}

	if err := s.posts.SaveMeta(ctx, post.ID, model.MetaGeneratedPrompt, prompt); err != nil {
		log.Warn().Err(err).Msg("failed to save generated prompt")
	}

	submitted, err := s.images.Submit(ctx, prompt, s.submitOptions())
	if err != nil {
		s.recordFailure(ctx, post.ID, prompt, err)
		metrics.GenerationsTotal.WithLabelValues(string(mode), "failed").Inc()
		return nil, err
	}

	now := s.now()
	job := model.NewGenerationJob(post.ID, submitted.TaskID, prompt, mode, now)
	if mode == model.ModeSync {
		job.ScheduleCheck(now.Add(time.Duration(s.poll.MaxAttempts) * s.poll.Interval))
	} else {
		job.ScheduleCheck(now.Add(s.cfg.RecheckInterval()))
	}
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		if errors.Is(err, model.ErrJobSuperseded) {
			err = model.NewError(model.ErrKindConflict,
				fmt.Sprintf("cover generation for post %s is already in progress", post.ID), err)
		} else {
			err = fmt.Errorf("failed to save job: %w", err)
		}
		s.recordFailure(ctx, post.ID, prompt, err)
		metrics.GenerationsTotal.WithLabelValues(string(mode), "failed").Inc()
		return nil, err
	}

	metrics.GenerationsTotal.WithLabelValues(string(mode), "submitted").Inc()
	s.notify(ctx, job, model.EventSubmitted, "", "", msgSubmitted)
	log.Info().Str("task_id", job.TaskID).Msg("image task submitted")

	if mode != model.ModeSync {
		if err := s.scheduler.ScheduleOnce(ctx, s.cfg.RecheckInterval(), RecheckTask(job.PostID, job.TaskID)); err != nil {
			// the reconciliation sweep picks the job up
			log.Error().Err(err).Str("task_id", job.TaskID).Msg("failed to schedule recheck")
		}
		return &model.GenerateResult{
			PostID:  post.ID,
			TaskID:  job.TaskID,
			Status:  model.JobStatusProcessing,
			Prompt:  prompt,
			Message: msgSubmitted,
		}, nil
	}

	status, err := client.PollUntilDone(ctx, s.images, job.TaskID, s.poll, log)
	if err != nil {
		if ferr := s.FailJob(ctx, job, err); ferr != nil {
			log.Error().Err(ferr).Msg("failed to record job failure")
		}
		return nil, err
	}

	media, err := s.CompleteJob(ctx, job, status)
	if errors.Is(err, model.ErrJobSuperseded) {
		return nil, model.NewError(model.ErrKindConflict, "cover generation was replaced by a newer request", err)
	}
	if err != nil {
		return nil, err
	}

	return &model.GenerateResult{
		PostID:   post.ID,
		TaskID:   job.TaskID,
		Status:   model.JobStatusCompleted,
		Prompt:   prompt,
		MediaID:  media.ID,
		ImageURL: media.URL,
		Message:  msgCompleted,
	}, nil
}

// CompleteJob stores the finished image, sets it as the featured image and
// marks the job completed. Flow failures mark the job failed before they are
// returned. ErrCompletionClaimed is returned when another caller got there
// first, model.ErrJobSuperseded when the job was replaced or finished
// meanwhile. On any other error the claim is released so a retry can finish.
func (s *CoverService) CompleteJob(ctx context.Context, job *model.GenerationJob, status *client.StatusResult) (media *model.Media, err error) {
	claimed, err := s.jobs.ClaimCompletion(ctx, job.PostID, job.TaskID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrCompletionClaimed
	}
	defer func() {
		if err != nil {
			s.releaseClaim(ctx, job)
		}
	}()

	current, err := s.jobs.LoadJob(ctx, job.PostID)
	if err != nil {
		return nil, err
	}
	if current == nil || current.TaskID != job.TaskID || current.Terminal() {
		return nil, model.ErrJobSuperseded
	}

	media, err = s.storeResult(ctx, job, status)
	if err != nil {
		if ferr := s.FailJob(ctx, job, err); ferr != nil {
			s.log.Error().Err(ferr).Str("post_id", job.PostID).Msg("failed to record job failure")
		}
		return nil, err
	}

	if s.cfg.SummaryEnabled {
		s.saveSummary(ctx, job.PostID)
	}

	if err = job.MarkCompleted(media.ID, s.now()); err != nil {
		s.discardMedia(ctx, media)
		return nil, err
	}
	if err = s.jobs.SaveJob(ctx, job); err != nil {
		s.discardMedia(ctx, media)
		if errors.Is(err, model.ErrJobSuperseded) {
			s.log.Info().Str("post_id", job.PostID).Str("task_id", job.TaskID).Msg("job replaced while storing, image discarded")
			return nil, err
		}
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	s.appendHistory(ctx, job.PostID, model.GenerationHistoryEntry{
		Timestamp:    s.now().UTC(),
		Success:      true,
		Prompt:       job.Prompt,
		AttachmentID: media.ID,
		Message:      msgCompleted,
	})
	s.observe(job, "completed")
	s.notify(ctx, job, model.EventCompleted, media.ID, media.URL, msgCompleted)
	s.log.Info().Str("post_id", job.PostID).Str("media_id", media.ID).Msg("cover stored")

	return media, nil
}

// FailJob marks a processing job failed and records the failure in history.
// Failing a job that is already terminal, or was replaced, is a no-op.
func (s *CoverService) FailJob(ctx context.Context, job *model.GenerationJob, cause error) error {
	message := cause.Error()
	if err := job.MarkFailed(message, s.now()); err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		if errors.Is(err, model.ErrJobSuperseded) {
			s.log.Debug().Str("post_id", job.PostID).Str("task_id", job.TaskID).Msg("failure of superseded job ignored")
			return nil
		}
		return fmt.Errorf("failed to save job: %w", err)
	}

	s.appendHistory(ctx, job.PostID, model.GenerationHistoryEntry{
		Timestamp: s.now().UTC(),
		Success:   false,
		Prompt:    job.Prompt,
		Message:   message,
	})
	s.observe(job, "failed")
	s.notify(ctx, job, model.EventFailed, "", "", message)
	s.log.Warn().Str("post_id", job.PostID).Str("task_id", job.TaskID).Str("kind", string(model.KindOf(cause))).Msg(message)
	return nil
}

func (s *CoverService) releaseClaim(ctx context.Context, job *model.GenerationJob) {
	if err := s.jobs.ReleaseClaim(context.WithoutCancel(ctx), job.PostID, job.TaskID); err != nil {
		s.log.Warn().Err(err).Str("post_id", job.PostID).Str("task_id", job.TaskID).Msg("failed to release completion claim")
	}
}

// discardMedia removes an image whose completion could not be recorded.
func (s *CoverService) discardMedia(ctx context.Context, media *model.Media) {
	if err := s.media.DeleteMedia(context.WithoutCancel(ctx), media.ID); err != nil {
		s.log.Warn().Err(err).Str("media_id", media.ID).Msg("failed to discard image")
	}
}

// NotifyProcessing tells subscribers that a job is still running.
func (s *CoverService) NotifyProcessing(ctx context.Context, job *model.GenerationJob) {
	s.notify(ctx, job, model.EventProcessing, "", "", "image is still being generated")
}

func (s *CoverService) storeResult(ctx context.Context, job *model.GenerationJob, status *client.StatusResult) (*model.Media, error) {
	data, err := s.fetchImage(ctx, status)
	if err != nil {
		return nil, err
	}

	media, err := s.media.StoreImage(ctx, data, s.filenameHint(ctx, job.PostID), job.PostID)
	if err != nil {
		return nil, asKind(err, model.ErrKindStorage, "failed to save image to media library")
	}

	if err := s.media.SetFeatured(ctx, job.PostID, media.ID); err != nil {
		return nil, asKind(err, model.ErrKindFeaturedImage, "failed to set featured image")
	}
	return media, nil
}

func (s *CoverService) fetchImage(ctx context.Context, status *client.StatusResult) ([]byte, error) {
	if status != nil && len(status.ImageURLs) > 0 && status.ImageURLs[0] != "" {
		return s.downloader.Download(ctx, status.ImageURLs[0])
	}
	if status != nil && len(status.BinaryData) > 0 && status.BinaryData[0] != "" {
		data, err := base64.StdEncoding.DecodeString(status.BinaryData[0])
		if err != nil || len(data) == 0 {
			return nil, model.NewError(model.ErrKindDownload, "invalid base64 image payload", err)
		}
		return data, nil
	}
	return nil, model.NewError(model.ErrKindDownload, "task finished without an image", nil)
}

func (s *CoverService) filenameHint(ctx context.Context, postID string) string {
	title := postID
	if post, err := s.posts.GetPost(ctx, postID); err == nil && post.Title != "" {
		title = post.Title
	}
	return fmt.Sprintf("%s_cover_%d", title, s.now().Unix())
}

func (s *CoverService) saveSummary(ctx context.Context, postID string) {
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		s.log.Warn().Err(err).Str("post_id", postID).Msg("summary skipped")
		return
	}
	content := PrepareContent(post.Content, s.cfg.ContentLimit)
	if content == "" {
		return
	}

	summary, err := s.chat.Complete(ctx, summaryRequest(SanitizeText(post.Title), content))
	if err != nil {
		s.log.Warn().Err(err).Str("post_id", postID).Msg("summary generation failed")
		return
	}
	if err := s.posts.SaveMeta(ctx, postID, model.MetaAISummary, summary); err != nil {
		s.log.Warn().Err(err).Str("post_id", postID).Msg("failed to save summary")
	}
}

// History returns the post's generation history, oldest first.
func (s *CoverService) History(ctx context.Context, postID string) ([]model.GenerationHistoryEntry, error) {
	if _, err := s.posts.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	return s.jobs.LoadHistory(ctx, postID)
}

// Status returns the current job and featured image of a post.
func (s *CoverService) Status(ctx context.Context, postID string) (*model.CoverStatus, error) {
	if _, err := s.posts.GetPost(ctx, postID); err != nil {
		return nil, err
	}

	job, err := s.jobs.LoadJob(ctx, postID)
	if err != nil {
		return nil, err
	}
	featured, err := s.media.FeaturedMedia(ctx, postID)
	if err != nil {
		return nil, err
	}
	return &model.CoverStatus{PostID: postID, Job: job, Featured: featured}, nil
}

// TriggerRecheck schedules an immediate recheck of the post's processing job.
func (s *CoverService) TriggerRecheck(ctx context.Context, postID string) (*model.GenerationJob, error) {
	job, err := s.jobs.LoadJob(ctx, postID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, model.NewError(model.ErrKindNotFound, "no generation job for this post", nil)
	}
	if job.Terminal() {
		return job, nil
	}
	if err := s.scheduler.ScheduleOnce(ctx, 0, RecheckTask(job.PostID, job.TaskID)); err != nil {
		return nil, err
	}
	return job, nil
}

// HandlePublished schedules a delayed generate task for a newly published
// post without a featured image. It reports whether a task was scheduled.
func (s *CoverService) HandlePublished(ctx context.Context, postID string) (bool, error) {
	if !s.cfg.AutoGenerate {
		return false, nil
	}

	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return false, err
	}
	if post.Status != model.PostStatusPublished || post.HasFeatured() {
		return false, nil
	}

	job, err := s.jobs.LoadJob(ctx, postID)
	if err != nil {
		return false, err
	}
	if job != nil && !job.Terminal() {
		return false, nil
	}

	if err := s.scheduler.ScheduleOnce(ctx, s.cfg.PublishInterval(), GenerateTask(postID)); err != nil {
		return false, err
	}
	s.log.Info().Str("post_id", postID).Dur("delay", s.cfg.PublishInterval()).Msg("auto generation scheduled")
	return true, nil
}

// TestConnections probes the chat and image providers.
func (s *CoverService) TestConnections(ctx context.Context) model.ConnectionReport {
	return model.ConnectionReport{
		Chat:  probe(ctx, s.chat, "chat API connection OK"),
		Image: probe(ctx, s.images, "image API connection OK"),
	}
}

func probe(ctx context.Context, target interface{}, okMessage string) model.ConnectionCheck {
	tester, ok := target.(connectionTester)
	if !ok {
		return model.ConnectionCheck{Success: false, Message: "connection test not supported"}
	}
	if err := tester.TestConnection(ctx); err != nil {
		return model.ConnectionCheck{Success: false, Message: err.Error()}
	}
	return model.ConnectionCheck{Success: true, Message: okMessage}
}

func (s *CoverService) submitOptions() client.SubmitOptions {
	opts := client.DefaultSubmitOptions()
	opts.Size = s.cfg.ImageArea()
	opts.StyleImage = s.cfg.StyleImageURL
	return opts
}

// recordFailure appends a failure entry for errors raised before a job exists.
func (s *CoverService) recordFailure(ctx context.Context, postID, prompt string, cause error) {
	s.appendHistory(ctx, postID, model.GenerationHistoryEntry{
		Timestamp: s.now().UTC(),
		Success:   false,
		Prompt:    prompt,
		Message:   cause.Error(),
	})
	s.log.Warn().Str("post_id", postID).Str("kind", string(model.KindOf(cause))).Msg(cause.Error())
}

func (s *CoverService) appendHistory(ctx context.Context, postID string, entry model.GenerationHistoryEntry) {
	if err := s.jobs.AppendHistory(ctx, postID, entry); err != nil {
		s.log.Error().Err(err).Str("post_id", postID).Msg("failed to append history")
	}
}

func (s *CoverService) notify(ctx context.Context, job *model.GenerationJob, typ, mediaID, imageURL, message string) {
	if s.notifier == nil {
		return
	}
	event := model.GenerationEvent{
		ID:        uuid.New().String(),
		Type:      typ,
		PostID:    job.PostID,
		TaskID:    job.TaskID,
		MediaID:   mediaID,
		ImageURL:  imageURL,
		Message:   message,
		Timestamp: s.now().UTC(),
	}
	if err := s.notifier.Publish(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("post_id", job.PostID).Str("event", typ).Msg("failed to publish event")
	}
}

func (s *CoverService) observe(job *model.GenerationJob, result string) {
	metrics.GenerationsTotal.WithLabelValues(string(job.Mode), result).Inc()
	metrics.GenerationDuration.WithLabelValues(string(job.Mode), result).Observe(s.now().Sub(job.StartedAt).Seconds())
}

// asKind keeps typed errors and wraps anything else in kind.
func asKind(err error, kind model.ErrorKind, message string) error {
	var ge *model.GenerationError
	if errors.As(err, &ge) {
		return err
	}
	return model.NewError(kind, message, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
