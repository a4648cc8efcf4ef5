// Package servicetest provides in-memory collaborators for exercising the
// cover service, recheck worker and HTTP handlers without external systems.
package servicetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/generatecover/api/internal/client"
	"github.com/generatecover/api/internal/model"
	"github.com/generatecover/api/internal/repository"
	"github.com/generatecover/api/internal/service"
)

// PNG is a minimal image payload accepted by mimetype sniffing.
var PNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

// Posts is an in-memory post catalogue that also implements
// service.MediaRepository.
type Posts struct {
	mu         sync.Mutex
	posts      map[string]*model.Post
	media      map[string]*model.Media
	Meta       map[string]map[string]string
	FeaturedOK bool
}

func NewPosts(posts ...*model.Post) *Posts {
	p := &Posts{
		posts:      make(map[string]*model.Post),
		media:      make(map[string]*model.Media),
		Meta:       make(map[string]map[string]string),
		FeaturedOK: true,
	}
	for _, post := range posts {
		p.posts[post.ID] = post
	}
	return p
}

func (p *Posts) GetPost(ctx context.Context, postID string) (*model.Post, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	post, ok := p.posts[postID]
	if !ok {
		return nil, model.NewError(model.ErrKindNotFound, "post not found", nil)
	}
	cp := *post
	return &cp, nil
}

// UpsertPost stores post, keeping an existing featured image link.
func (p *Posts) UpsertPost(ctx context.Context, post *model.Post) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *post
	if existing, ok := p.posts[post.ID]; ok {
		cp.FeaturedMediaID = existing.FeaturedMediaID
	}
	p.posts[post.ID] = &cp
	return nil
}

func (p *Posts) ListWithoutFeatured(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for id, post := range p.posts {
		if post.Status == model.PostStatusPublished && !post.HasFeatured() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (p *Posts) SaveMeta(ctx context.Context, postID, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Meta[postID] == nil {
		p.Meta[postID] = make(map[string]string)
	}
	p.Meta[postID][key] = value
	return nil
}

func (p *Posts) MetaValue(postID, key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Meta[postID][key]
}

func (p *Posts) InsertMedia(ctx context.Context, m *model.Media) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *m
	p.media[m.ID] = &cp
	return nil
}

func (p *Posts) GetMedia(ctx context.Context, mediaID string) (*model.Media, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.media[mediaID]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (p *Posts) DeleteMedia(ctx context.Context, mediaID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.media, mediaID)
	for _, post := range p.posts {
		if post.FeaturedMediaID != nil && *post.FeaturedMediaID == mediaID {
			post.FeaturedMediaID = nil
		}
	}
	return nil
}

func (p *Posts) SetFeatured(ctx context.Context, postID, mediaID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.FeaturedOK {
		return errors.New("featured image rejected")
	}
	post, ok := p.posts[postID]
	if !ok {
		return fmt.Errorf("post %s not found", postID)
	}
	id := mediaID
	post.FeaturedMediaID = &id
	return nil
}

func (p *Posts) FeaturedMedia(ctx context.Context, postID string) (*model.Media, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	post, ok := p.posts[postID]
	if !ok || !post.HasFeatured() {
		return nil, nil
	}
	m, ok := p.media[*post.FeaturedMediaID]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

// MediaCount returns the number of stored media rows.
func (p *Posts) MediaCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.media)
}

// Media wraps a service.MediaStore and counts deletes.
type Media struct {
	service.MediaStore
	mu      sync.Mutex
	Deleted []string
}

func (m *Media) DeleteMedia(ctx context.Context, mediaID string) error {
	m.mu.Lock()
	m.Deleted = append(m.Deleted, mediaID)
	m.mu.Unlock()
	return m.MediaStore.DeleteMedia(ctx, mediaID)
}

// Chat answers every completion with Reply, or fails with Err.
type Chat struct {
	mu       sync.Mutex
	Reply    string
	Err      error
	Requests []client.ChatRequest
}

func (c *Chat) Complete(ctx context.Context, req client.ChatRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Requests = append(c.Requests, req)
	if c.Err != nil {
		return "", c.Err
	}
	return c.Reply, nil
}

func (c *Chat) TestConnection(ctx context.Context) error { return c.Err }

func (c *Chat) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Requests)
}

// StatusStep is one scripted CheckStatus answer.
type StatusStep struct {
	Result *client.StatusResult
	Err    error
}

func Processing() StatusStep {
	return StatusStep{Result: &client.StatusResult{Status: client.TaskProcessing, RawStatus: "generating"}}
}

func Done(urls ...string) StatusStep {
	return StatusStep{Result: &client.StatusResult{Status: client.TaskDone, RawStatus: "done", ImageURLs: urls}}
}

func Status(s client.TaskStatus) StatusStep {
	return StatusStep{Result: &client.StatusResult{Status: s, RawStatus: string(s)}}
}

func Failure(err error) StatusStep { return StatusStep{Err: err} }

// Images is a scripted image provider. Statuses are consumed in order and
// the last one repeats.
type Images struct {
	mu          sync.Mutex
	TaskID      string
	SubmitErr   error
	Statuses    []StatusStep
	Prompts     []string
	Options     []client.SubmitOptions
	StatusCalls int
}

func (f *Images) Submit(ctx context.Context, prompt string, opts client.SubmitOptions) (*client.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prompts = append(f.Prompts, prompt)
	f.Options = append(f.Options, opts)
	if f.SubmitErr != nil {
		return nil, f.SubmitErr
	}
	id := f.TaskID
	if id == "" {
		id = fmt.Sprintf("T%d", len(f.Prompts))
	}
	return &client.SubmitResult{TaskID: id}, nil
}

func (f *Images) CheckStatus(ctx context.Context, taskID string) (*client.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Statuses) == 0 {
		return nil, errors.New("no scripted status")
	}
	i := f.StatusCalls
	f.StatusCalls++
	if i >= len(f.Statuses) {
		i = len(f.Statuses) - 1
	}
	return f.Statuses[i].Result, f.Statuses[i].Err
}

func (f *Images) TestConnection(ctx context.Context) error { return f.SubmitErr }

func (f *Images) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.StatusCalls
}

// Downloader returns Data for any URL, or Err. OnDownload runs before each
// download returns.
type Downloader struct {
	mu         sync.Mutex
	Data       []byte
	Err        error
	URLs       []string
	OnDownload func()
}

func (d *Downloader) Download(ctx context.Context, imageURL string) ([]byte, error) {
	if d.OnDownload != nil {
		d.OnDownload()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.URLs = append(d.URLs, imageURL)
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Data, nil
}

// Scheduled is one recorded ScheduleOnce call.
type Scheduled struct {
	Delay time.Duration
	Task  service.ScheduledTask
}

// Scheduler records scheduled tasks instead of running them.
type Scheduler struct {
	mu    sync.Mutex
	Err   error
	Tasks []Scheduled
}

func (s *Scheduler) ScheduleOnce(ctx context.Context, delay time.Duration, task service.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Tasks = append(s.Tasks, Scheduled{Delay: delay, Task: task})
	return nil
}

func (s *Scheduler) Scheduled() []Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Scheduled(nil), s.Tasks...)
}

// Notifier records published events.
type Notifier struct {
	mu     sync.Mutex
	Events []model.GenerationEvent
}

func (n *Notifier) Publish(ctx context.Context, e model.GenerationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Events = append(n.Events, e)
	return nil
}

func (n *Notifier) Types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.Events))
	for _, e := range n.Events {
		out = append(out, e.Type)
	}
	return out
}

// Jobs wraps the in-memory job store and counts writes. FailNextSave, when
// set, is returned by the next SaveJob instead of writing.
type Jobs struct {
	*repository.MemoryJobStore
	mu           sync.Mutex
	Writes       int
	FailNextSave error
}

func NewJobs() *Jobs {
	return &Jobs{MemoryJobStore: repository.NewMemoryJobStore()}
}

func (j *Jobs) SaveJob(ctx context.Context, job *model.GenerationJob) error {
	j.mu.Lock()
	err := j.FailNextSave
	j.FailNextSave = nil
	j.mu.Unlock()
	if err != nil {
		return err
	}
	j.count()
	return j.MemoryJobStore.SaveJob(ctx, job)
}

func (j *Jobs) DeleteJob(ctx context.Context, postID string) error {
	j.count()
	return j.MemoryJobStore.DeleteJob(ctx, postID)
}

func (j *Jobs) AppendHistory(ctx context.Context, postID string, e model.GenerationHistoryEntry) error {
	j.count()
	return j.MemoryJobStore.AppendHistory(ctx, postID, e)
}

func (j *Jobs) WriteCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Writes
}

func (j *Jobs) count() {
	j.mu.Lock()
	j.Writes++
	j.mu.Unlock()
}
