package servicetest

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/generatecover/api/internal/client"
	"github.com/generatecover/api/internal/config"
	"github.com/generatecover/api/internal/model"
	"github.com/generatecover/api/internal/service"
)

// Env wires a CoverService to fakes.
type Env struct {
	Posts      *Posts
	Media      *Media
	Jobs       *Jobs
	Chat       *Chat
	Images     *Images
	Downloader *Downloader
	Scheduler  *Scheduler
	Notifier   *Notifier
	Service    *service.CoverService
}

// Config returns the production defaults with batch pauses disabled.
func Config() config.GenerationConfig {
	return config.GenerationConfig{
		Mode:           "async",
		AutoGenerate:   true,
		ImageSize:      "2048x2048",
		SummaryEnabled: true,
		ContentLimit:   2000,
		RecheckDelay:   30,
		BackoffDelay:   60,
		PublishDelay:   30,
		PollAttempts:   30,
		PollInterval:   2,
		BatchDelayMs:   0,
		SweepSpec:      "@every 5m",
	}
}

// Post builds a published post without a featured image.
func Post(id, title, content string) *model.Post {
	return &model.Post{ID: id, Title: title, Content: content, Status: model.PostStatusPublished}
}

func NewEnv(cfg config.GenerationConfig, posts ...*model.Post) *Env {
	e := &Env{
		Posts:      NewPosts(posts...),
		Jobs:       NewJobs(),
		Chat:       &Chat{Reply: "blue sky"},
		Images:     &Images{},
		Downloader: &Downloader{Data: PNG},
		Scheduler:  &Scheduler{},
		Notifier:   &Notifier{},
	}
	e.Media = &Media{MediaStore: service.NewMediaLibrary(nil, e.Posts, zerolog.Nop())}
	e.Service = service.NewCoverService(service.CoverDeps{
		Posts:      e.Posts,
		Jobs:       e.Jobs,
		Media:      e.Media,
		Chat:       e.Chat,
		Images:     e.Images,
		Downloader: e.Downloader,
		Scheduler:  e.Scheduler,
		Notifier:   e.Notifier,
	}, cfg, zerolog.Nop(), service.WithPollOptions(client.PollOptions{MaxAttempts: cfg.PollAttempts, Interval: time.Millisecond}))
	return e
}
