package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/generatecover/api/internal/model"
)

// MemoryJobStore is an in-process JobStore for tests. It applies the same
// write rules as RedisJobStore.
type MemoryJobStore struct {
	mu      sync.Mutex
	jobs    map[string]model.GenerationJob
	history map[string][]model.GenerationHistoryEntry
	claims  map[string]struct{}
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:    make(map[string]model.GenerationJob),
		history: make(map[string][]model.GenerationHistoryEntry),
		claims:  make(map[string]struct{}),
	}
}

func (s *MemoryJobStore) LoadJob(ctx context.Context, postID string) (*model.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[postID]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (s *MemoryJobStore) SaveJob(ctx context.Context, job *model.GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored *model.GenerationJob
	if current, ok := s.jobs[job.PostID]; ok {
		stored = &current
	}
	if !job.CanReplace(stored) {
		return model.ErrJobSuperseded
	}
	s.jobs[job.PostID] = *job
	return nil
}

func (s *MemoryJobStore) DeleteJob(ctx context.Context, postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, postID)
	return nil
}

func (s *MemoryJobStore) ListProcessing(ctx context.Context) ([]*model.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []*model.GenerationJob
	for _, job := range s.jobs {
		if job.Status == model.JobStatusProcessing {
			j := job
			jobs = append(jobs, &j)
		}
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].PostID < jobs[b].PostID })
	return jobs, nil
}

func (s *MemoryJobStore) ClaimCompletion(ctx context.Context, postID, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := claimKey(postID, taskID)
	if _, taken := s.claims[key]; taken {
		return false, nil
	}
	s.claims[key] = struct{}{}
	return true, nil
}

func (s *MemoryJobStore) ReleaseClaim(ctx context.Context, postID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.claims, claimKey(postID, taskID))
	return nil
}

func (s *MemoryJobStore) LoadHistory(ctx context.Context, postID string) ([]model.GenerationHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]model.GenerationHistoryEntry(nil), s.history[postID]...), nil
}

func (s *MemoryJobStore) AppendHistory(ctx context.Context, postID string, entry model.GenerationHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[postID] = model.AppendHistory(s.history[postID], entry)
	return nil
}
