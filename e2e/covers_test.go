package e2e

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/generatecover/api/internal/model"
	"github.com/generatecover/api/internal/service/servicetest"
	"github.com/generatecover/api/internal/worker"
)

func TestCoverFlow_AsyncThenRecheck(t *testing.T) {
	ta := setupApp(t, 10000)
	ta.images.TaskID = "T1"
	ta.images.Statuses = []servicetest.StatusStep{
		servicetest.Processing(),
		servicetest.Done("https://x/img.jpg"),
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/covers/1/generate?mode=async", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	body := parseJSON(t, resp)
	if body["taskId"] != "T1" {
		t.Fatalf("expected taskId T1, got %v", body["taskId"])
	}

	scheduled := ta.sched.Scheduled()
	if len(scheduled) != 1 {
		t.Fatalf("expected 1 scheduled recheck, got %d", len(scheduled))
	}

	ctx := context.Background()
	task := scheduled[0].Task
	for _, want := range []worker.Outcome{worker.OutcomeProcessing, worker.OutcomeCompleted} {
		// each chained check runs once its own delay has passed
		if job, _ := ta.jobs.LoadJob(ctx, "1"); job != nil && job.NextCheckAt != nil {
			job.NextCheckAt = nil
			if err := ta.jobs.SaveJob(ctx, job); err != nil {
				t.Fatalf("save job: %v", err)
			}
		}
		got, err := ta.recheck.Recheck(ctx, task.PostID, task.TaskID)
		if err != nil {
			t.Fatalf("recheck failed: %v", err)
		}
		if got != want {
			t.Fatalf("expected outcome %s, got %s", want, got)
		}
	}

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/covers/1/status", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	status := parseJSON(t, resp)
	job, _ := status["job"].(map[string]interface{})
	if job["status"] != string(model.JobStatusCompleted) {
		t.Errorf("expected completed job, got %v", job["status"])
	}
	if status["featured"] == nil {
		t.Error("expected a featured image")
	}

	history, err := ta.jobs.LoadHistory(ctx, "1")
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(history) != 1 || !history[0].Success {
		t.Errorf("expected one successful history entry, got %+v", history)
	}

	// a late duplicate recheck changes nothing
	got, err := ta.recheck.Recheck(ctx, "1", "T1")
	if err != nil || got != worker.OutcomeSkipped {
		t.Errorf("expected skipped duplicate recheck, got %s, %v", got, err)
	}
}

func TestCoverFlow_ConflictWhileProcessing(t *testing.T) {
	ta := setupApp(t, 10000)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/covers/1/generate", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)

	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/covers/1/generate", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)

	processing, err := ta.jobs.ListProcessing(context.Background())
	if err != nil {
		t.Fatalf("list processing: %v", err)
	}
	if len(processing) != 1 {
		t.Errorf("expected 1 processing job, got %d", len(processing))
	}
}

func TestCoverFlow_RateLimited(t *testing.T) {
	ta := setupApp(t, 2)
	ta.images.SubmitErr = model.NewProviderError(50500, "API error: internal error")

	for i := 0; i < 2; i++ {
		resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/covers/1/generate", "")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		assertStatus(t, resp, http.StatusBadGateway)
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/covers/1/generate", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRedisJobStore_HistoryCap(t *testing.T) {
	ta := setupApp(t, 10000)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		ta.images.SubmitErr = model.NewProviderError(50500, fmt.Sprintf("API error: internal error %d", i))
		if _, err := ta.covers.Generate(ctx, "2", model.ModeAsync); err == nil {
			t.Fatal("expected submit failure")
		}
	}

	history, err := ta.jobs.LoadHistory(ctx, "2")
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(history) != model.MaxHistory {
		t.Fatalf("expected %d entries, got %d", model.MaxHistory, len(history))
	}
	if history[0].Message != "API error: internal error 2" {
		t.Errorf("expected oldest kept entry 2, got %q", history[0].Message)
	}
	if history[len(history)-1].Message != "API error: internal error 11" {
		t.Errorf("expected newest entry 11, got %q", history[len(history)-1].Message)
	}
}

func TestRedisJobStore_ClaimCompletion(t *testing.T) {
	ta := setupApp(t, 10000)
	ctx := context.Background()

	first, err := ta.jobs.ClaimCompletion(ctx, "1", "T1")
	if err != nil || !first {
		t.Fatalf("expected first claim to win, got %v, %v", first, err)
	}
	second, err := ta.jobs.ClaimCompletion(ctx, "1", "T1")
	if err != nil || second {
		t.Fatalf("expected second claim to lose, got %v, %v", second, err)
	}
	other, err := ta.jobs.ClaimCompletion(ctx, "1", "T2")
	if err != nil || !other {
		t.Fatalf("expected claim for a new task to win, got %v, %v", other, err)
	}
}

func TestRedisJobStore_ProcessingIndex(t *testing.T) {
	ta := setupApp(t, 10000)
	ctx := context.Background()

	job := model.NewGenerationJob("9", "T9", "p", model.ModeAsync, time.Now())
	if err := ta.jobs.SaveJob(ctx, job); err != nil {
		t.Fatalf("save job: %v", err)
	}
	processing, err := ta.jobs.ListProcessing(ctx)
	if err != nil || len(processing) != 1 {
		t.Fatalf("expected 1 processing job, got %d, %v", len(processing), err)
	}

	if err := job.MarkFailed("task expired", time.Now()); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := ta.jobs.SaveJob(ctx, job); err != nil {
		t.Fatalf("save job: %v", err)
	}
	processing, err = ta.jobs.ListProcessing(ctx)
	if err != nil || len(processing) != 0 {
		t.Fatalf("expected no processing jobs, got %d, %v", len(processing), err)
	}

	loaded, err := ta.jobs.LoadJob(ctx, "9")
	if err != nil || loaded == nil || loaded.Status != model.JobStatusFailed {
		t.Fatalf("expected failed job to be persisted, got %+v, %v", loaded, err)
	}
}

func TestRedisJobStore_RejectsStaleWrites(t *testing.T) {
	ta := setupApp(t, 10000)
	ctx := context.Background()
	now := time.Now()

	job := model.NewGenerationJob("5", "T1", "p", model.ModeAsync, now)
	if err := ta.jobs.SaveJob(ctx, job); err != nil {
		t.Fatalf("save job: %v", err)
	}
	stale, _ := ta.jobs.LoadJob(ctx, "5")

	if err := job.MarkCompleted("m1", now); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if err := ta.jobs.SaveJob(ctx, job); err != nil {
		t.Fatalf("save completed job: %v", err)
	}

	// a recheck that read the job before it completed
	stale.ScheduleCheck(now.Add(30 * time.Second))
	if err := ta.jobs.SaveJob(ctx, stale); !errors.Is(err, model.ErrJobSuperseded) {
		t.Fatalf("expected ErrJobSuperseded, got %v", err)
	}
	loaded, _ := ta.jobs.LoadJob(ctx, "5")
	if loaded.Status != model.JobStatusCompleted || loaded.AttachmentID != "m1" {
		t.Fatalf("expected completed job to survive, got %+v", loaded)
	}

	next := model.NewGenerationJob("5", "T2", "p", model.ModeAsync, now)
	if err := ta.jobs.SaveJob(ctx, next); err != nil {
		t.Fatalf("expected new task to replace finished job: %v", err)
	}

	// the old task finishing late must not replace the running one
	late := model.NewGenerationJob("5", "T1", "p", model.ModeAsync, now)
	if err := late.MarkFailed("task expired", now); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := ta.jobs.SaveJob(ctx, late); !errors.Is(err, model.ErrJobSuperseded) {
		t.Fatalf("expected ErrJobSuperseded, got %v", err)
	}
	processing, err := ta.jobs.ListProcessing(ctx)
	if err != nil || len(processing) != 1 || processing[0].TaskID != "T2" {
		t.Fatalf("expected T2 to stay processing, got %+v, %v", processing, err)
	}
}

func TestRedisJobStore_ReleaseClaim(t *testing.T) {
	ta := setupApp(t, 10000)
	ctx := context.Background()

	if ok, err := ta.jobs.ClaimCompletion(ctx, "1", "T1"); err != nil || !ok {
		t.Fatalf("expected claim, got %v, %v", ok, err)
	}
	if err := ta.jobs.ReleaseClaim(ctx, "1", "T1"); err != nil {
		t.Fatalf("release claim: %v", err)
	}
	if ok, err := ta.jobs.ClaimCompletion(ctx, "1", "T1"); err != nil || !ok {
		t.Fatalf("expected claim after release, got %v, %v", ok, err)
	}
}
