package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeRecheck  = "cover:recheck"
	TaskTypeGenerate = "cover:generate"
	TaskTypeSweep    = "cover:sweep"

	QueueCovers = "covers"
)

// ScheduledTask is a delayed unit of work. Recheck tasks always carry the
// post and task ids they were created for.
type ScheduledTask struct {
	Type   string
	PostID string
	TaskID string
}

func RecheckTask(postID, taskID string) ScheduledTask {
	return ScheduledTask{Type: TaskTypeRecheck, PostID: postID, TaskID: taskID}
}

func GenerateTask(postID string) ScheduledTask {
	return ScheduledTask{Type: TaskTypeGenerate, PostID: postID}
}

// TaskPayload is the JSON payload of cover tasks
type TaskPayload struct {
	PostID string `json:"postId"`
	TaskID string `json:"taskId,omitempty"`
}

func ParseTaskPayload(data []byte) (TaskPayload, error) {
	var p TaskPayload
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	return p, nil
}

// AsynqScheduler implements Scheduler on top of an asynq client
type AsynqScheduler struct {
	client *asynq.Client
}

func NewAsynqScheduler(client *asynq.Client) *AsynqScheduler {
	return &AsynqScheduler{client: client}
}

// ScheduleOnce enqueues t to run after delay. Publish-triggered generate
// tasks are deduplicated per post for the length of the delay.
func (s *AsynqScheduler) ScheduleOnce(ctx context.Context, delay time.Duration, t ScheduledTask) error {
	data, err := json.Marshal(TaskPayload{PostID: t.PostID, TaskID: t.TaskID})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(QueueCovers),
		asynq.MaxRetry(3),
		asynq.Retention(time.Hour),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	if t.Type == TaskTypeGenerate {
		opts = append(opts, asynq.Unique(delay+time.Minute))
	}

	if _, err := s.client.EnqueueContext(ctx, asynq.NewTask(t.Type, data), opts...); err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("failed to enqueue %s: %w", t.Type, err)
	}
	return nil
}
