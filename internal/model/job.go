package model

import "time"

// JobStatus is the lifecycle state of a generation job
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// GenerationMode selects how the orchestrator waits for the image provider
type GenerationMode string

const (
	ModeAsync GenerationMode = "async"
	ModeSync  GenerationMode = "sync"
)

// ParseMode falls back to def when s is not a known mode.
func ParseMode(s string, def GenerationMode) GenerationMode {
	switch GenerationMode(s) {
	case ModeAsync, ModeSync:
		return GenerationMode(s)
	}
	return def
}

// MaxHistory bounds the per-post generation history
const MaxHistory = 10

// GenerationJob is the persisted state of one cover generation for a post.
// At most one non-terminal job exists per post.
type GenerationJob struct {
	PostID       string         `json:"postId"`
	TaskID       string         `json:"taskId"`
	Prompt       string         `json:"prompt"`
	Status       JobStatus      `json:"status"`
	Mode         GenerationMode `json:"mode"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	StartedAt    time.Time      `json:"startedAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
	AttachmentID string         `json:"attachmentId,omitempty"`
	NextCheckAt  *time.Time     `json:"nextCheckAt,omitempty"`
}

// NewGenerationJob returns a processing job for a freshly submitted task.
func NewGenerationJob(postID, taskID, prompt string, mode GenerationMode, now time.Time) *GenerationJob {
	return &GenerationJob{
		PostID:    postID,
		TaskID:    taskID,
		Prompt:    prompt,
		Status:    JobStatusProcessing,
		Mode:      mode,
		StartedAt: now.UTC(),
	}
}

// Terminal reports whether the job can no longer transition.
func (j *GenerationJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// ScheduleCheck records when the next status check is due.
func (j *GenerationJob) ScheduleCheck(at time.Time) {
	t := at.UTC()
	j.NextCheckAt = &t
}

// CheckPendingAfter reports whether a check is already due later than t.
func (j *GenerationJob) CheckPendingAfter(t time.Time) bool {
	return j.NextCheckAt != nil && j.NextCheckAt.After(t)
}

// CanReplace reports whether j may be written over stored. Updates must
// target the same task while it is still processing; a new processing job
// may only take the place of a missing or finished one.
func (j *GenerationJob) CanReplace(stored *GenerationJob) bool {
	if stored == nil {
		return j.Status == JobStatusProcessing
	}
	if stored.TaskID == j.TaskID {
		return !stored.Terminal()
	}
	return stored.Terminal() && j.Status == JobStatusProcessing
}

func (j *GenerationJob) MarkCompleted(attachmentID string, now time.Time) error {
	if j.Terminal() {
		return ErrInvalidTransition
	}
	t := now.UTC()
	j.Status = JobStatusCompleted
	j.AttachmentID = attachmentID
	j.ErrorMessage = ""
	j.CompletedAt = &t
	j.NextCheckAt = nil
	return nil
}

func (j *GenerationJob) MarkFailed(message string, now time.Time) error {
	if j.Terminal() {
		return ErrInvalidTransition
	}
	t := now.UTC()
	j.Status = JobStatusFailed
	j.ErrorMessage = message
	j.CompletedAt = &t
	j.NextCheckAt = nil
	return nil
}

// GenerationHistoryEntry records one terminal generation outcome
type GenerationHistoryEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	Success      bool      `json:"success"`
	Prompt       string    `json:"prompt"`
	AttachmentID string    `json:"attachmentId,omitempty"`
	Message      string    `json:"message"`
}

// AppendHistory appends entry and evicts the oldest entries beyond MaxHistory.
func AppendHistory(history []GenerationHistoryEntry, entry GenerationHistoryEntry) []GenerationHistoryEntry {
	history = append(history, entry)
	if len(history) > MaxHistory {
		history = append([]GenerationHistoryEntry(nil), history[len(history)-MaxHistory:]...)
	}
	return history
}
