package service

import (
	"context"
	"time"

	"github.com/generatecover/api/internal/model"
)

// JobStore persists per-post generation jobs and their bounded history.
// LoadJob returns nil, nil when the post has no job. SaveJob returns
// model.ErrJobSuperseded when job may not replace the stored one (see
// GenerationJob.CanReplace).
type JobStore interface {
	LoadJob(ctx context.Context, postID string) (*model.GenerationJob, error)
	SaveJob(ctx context.Context, job *model.GenerationJob) error
	DeleteJob(ctx context.Context, postID string) error
	ListProcessing(ctx context.Context) ([]*model.GenerationJob, error)
	ClaimCompletion(ctx context.Context, postID, taskID string) (bool, error)
	ReleaseClaim(ctx context.Context, postID, taskID string) error
	LoadHistory(ctx context.Context, postID string) ([]model.GenerationHistoryEntry, error)
	AppendHistory(ctx context.Context, postID string, entry model.GenerationHistoryEntry) error
}

// PostStore is the post catalogue
type PostStore interface {
	GetPost(ctx context.Context, postID string) (*model.Post, error)
	ListWithoutFeatured(ctx context.Context) ([]string, error)
	SaveMeta(ctx context.Context, postID, key, value string) error
}

// MediaStore persists generated images and the featured-image link.
// FeaturedMedia returns nil, nil when the post has none.
type MediaStore interface {
	StoreImage(ctx context.Context, data []byte, filenameHint, postID string) (*model.Media, error)
	SetFeatured(ctx context.Context, postID, mediaID string) error
	DeleteMedia(ctx context.Context, mediaID string) error
	FeaturedMedia(ctx context.Context, postID string) (*model.Media, error)
}

// Scheduler runs a task once after delay
type Scheduler interface {
	ScheduleOnce(ctx context.Context, delay time.Duration, task ScheduledTask) error
}

// Notifier receives generation lifecycle events
type Notifier interface {
	Publish(ctx context.Context, event model.GenerationEvent) error
}

type connectionTester interface {
	TestConnection(ctx context.Context) error
}
