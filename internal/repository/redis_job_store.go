package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/generatecover/api/internal/model"
)

const (
	jobKeyPrefix     = "cover:job:"
	historyKeyPrefix = "cover:history:"
	claimKeyPrefix   = "cover:claim:"
	processingSetKey = "cover:jobs:processing"

	jobTTL   = 30 * 24 * time.Hour
	claimTTL = 10 * time.Minute
)

// RedisJobStore persists generation jobs and history in Redis.
//
// Keys:
//
//	cover:job:{postId}           JSON GenerationJob
//	cover:history:{postId}       list of JSON history entries, newest last
//	cover:jobs:processing        set of post ids with a processing job
//	cover:claim:{postId}:{task}  completion claim (SETNX)
type RedisJobStore struct {
	redis *redis.Client
}

func NewRedisJobStore(client *redis.Client) *RedisJobStore {
	return &RedisJobStore{redis: client}
}

func jobKey(postID string) string     { return jobKeyPrefix + postID }
func historyKey(postID string) string { return historyKeyPrefix + postID }
func claimKey(postID, taskID string) string {
	return claimKeyPrefix + postID + ":" + taskID
}

// LoadJob returns the job for postID, or nil when there is none.
func (s *RedisJobStore) LoadJob(ctx context.Context, postID string) (*model.GenerationJob, error) {
	data, err := s.redis.Get(ctx, jobKey(postID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	var job model.GenerationJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}

// saveJobScript writes a job only when GenerationJob.CanReplace allows it and
// keeps the processing index in step with the job's status.
//
//	KEYS[1] job key, KEYS[2] processing set
//	ARGV[1] job JSON, ARGV[2] task id, ARGV[3] status, ARGV[4] ttl ms, ARGV[5] post id
var saveJobScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local stored = cjson.decode(cur)
  local finished = stored.status == 'completed' or stored.status == 'failed'
  if stored.taskId == ARGV[2] then
    if finished then return 0 end
  elseif not finished or ARGV[3] ~= 'processing' then
    return 0
  end
elseif ARGV[3] ~= 'processing' then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[4])
if ARGV[3] == 'processing' then
  redis.call('SADD', KEYS[2], ARGV[5])
else
  redis.call('SREM', KEYS[2], ARGV[5])
end
return 1
`)

// SaveJob upserts the job. It returns model.ErrJobSuperseded when the stored
// job is finished or belongs to a task that is still running.
func (s *RedisJobStore) SaveJob(ctx context.Context, job *model.GenerationJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	written, err := saveJobScript.Run(ctx, s.redis,
		[]string{jobKey(job.PostID), processingSetKey},
		data, job.TaskID, string(job.Status), jobTTL.Milliseconds(), job.PostID,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if written == 0 {
		return model.ErrJobSuperseded
	}
	return nil
}

func (s *RedisJobStore) DeleteJob(ctx context.Context, postID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, jobKey(postID))
		pipe.SRem(ctx, processingSetKey, postID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// ListProcessing returns every job still marked processing. Index entries
// whose job expired or already finished are pruned on the way.
func (s *RedisJobStore) ListProcessing(ctx context.Context) ([]*model.GenerationJob, error) {
	postIDs, err := s.redis.SMembers(ctx, processingSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list processing jobs: %w", err)
	}

	jobs := make([]*model.GenerationJob, 0, len(postIDs))
	for _, postID := range postIDs {
		job, err := s.LoadJob(ctx, postID)
		if err != nil {
			return nil, err
		}
		if job == nil || job.Status != model.JobStatusProcessing {
			s.redis.SRem(ctx, processingSetKey, postID)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ClaimCompletion reports whether the caller won the right to store the
// result of taskID. The claim expires so a crashed worker does not wedge the job.
func (s *RedisJobStore) ClaimCompletion(ctx context.Context, postID, taskID string) (bool, error) {
	ok, err := s.redis.SetNX(ctx, claimKey(postID, taskID), time.Now().UTC().Format(time.RFC3339), claimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim completion: %w", err)
	}
	return ok, nil
}

// ReleaseClaim drops a completion claim so a later recheck can finish the job.
func (s *RedisJobStore) ReleaseClaim(ctx context.Context, postID, taskID string) error {
	if err := s.redis.Del(ctx, claimKey(postID, taskID)).Err(); err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return nil
}

func (s *RedisJobStore) LoadHistory(ctx context.Context, postID string) ([]model.GenerationHistoryEntry, error) {
	raw, err := s.redis.LRange(ctx, historyKey(postID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	history := make([]model.GenerationHistoryEntry, 0, len(raw))
	for _, item := range raw {
		var entry model.GenerationHistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode history entry: %w", err)
		}
		history = append(history, entry)
	}
	return history, nil
}

// AppendHistory pushes entry and trims the list to the newest MaxHistory items.
func (s *RedisJobStore) AppendHistory(ctx context.Context, postID string, entry model.GenerationHistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, historyKey(postID), data)
		pipe.LTrim(ctx, historyKey(postID), -model.MaxHistory, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}
