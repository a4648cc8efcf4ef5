package handler_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/generatecover/api/internal/handler"
	"github.com/generatecover/api/internal/model"
	"github.com/generatecover/api/internal/service/servicetest"
	"github.com/generatecover/api/pkg/response"
)

func passthrough(c *fiber.Ctx) error { return c.Next() }

func newApp(env *servicetest.Env) *fiber.App {
	v := validator.New()
	app := fiber.New()
	api := app.Group("/api")
	handler.NewCoverHandler(env.Service, v).Register(api, passthrough, passthrough)
	api.Put("/posts/:postId", handler.NewPostHandler(env.Posts, env.Service, v).Upsert)
	return app
}

func do(t *testing.T, app *fiber.App, method, target, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e response.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e.Error.Code
}

func TestGenerate_AsyncReturnsAccepted(t *testing.T) {
	env := servicetest.NewEnv(servicetest.Config(), servicetest.Post("1", "Sky", "content"))
	env.Images.TaskID = "T1"
	app := newApp(env)

	resp, body := do(t, app, fiber.MethodPost, "/api/covers/1/generate", "")
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	var res model.GenerateResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, "T1", res.TaskID)
	assert.Equal(t, model.JobStatusProcessing, res.Status)
}

func TestGenerate_SyncReturnsImage(t *testing.T) {
	env := servicetest.NewEnv(servicetest.Config(), servicetest.Post("1", "Sky", "content"))
	env.Images.Statuses = []servicetest.StatusStep{servicetest.Done("https://x/img.jpg")}
	app := newApp(env)

	resp, body := do(t, app, fiber.MethodPost, "/api/covers/1/generate?mode=sync", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var res model.GenerateResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, model.JobStatusCompleted, res.Status)
	assert.NotEmpty(t, res.MediaID)
	assert.NotEmpty(t, res.ImageURL)
}

func TestGenerate_ModeFromBody(t *testing.T) {
	env := servicetest.NewEnv(servicetest.Config(), servicetest.Post("1", "Sky", "content"))
	env.Images.Statuses = []servicetest.StatusStep{servicetest.Done("https://x/img.jpg")}
	app := newApp(env)

	resp, _ := do(t, app, fiber.MethodPost, "/api/covers/1/generate", `{"mode":"sync"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestGenerate_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(env *servicetest.Env)
		postID string
		status int
		code   string
	}{
		{"unknown post", func(*servicetest.Env) {}, "404", fiber.StatusNotFound, response.CodeNotFound},
		{"empty content", func(*servicetest.Env) {}, "empty", fiber.StatusUnprocessableEntity, response.CodeEmptyContent},
		{"provider error", func(env *servicetest.Env) {
			env.Images.SubmitErr = model.NewProviderError(50429, "API error: rate limit exceeded, please retry later")
		}, "1", fiber.StatusBadGateway, response.CodeAIError},
		{"missing credentials", func(env *servicetest.Env) {
			env.Images.SubmitErr = model.NewError(model.ErrKindConfiguration, "image provider credentials are not configured", nil)
		}, "1", fiber.StatusServiceUnavailable, response.CodeUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := servicetest.NewEnv(servicetest.Config(),
				servicetest.Post("1", "Sky", "content"),
				servicetest.Post("empty", "Empty", "   "),
			)
			tc.setup(env)
			app := newApp(env)

			resp, body := do(t, app, fiber.MethodPost, "/api/covers/"+tc.postID+"/generate", "")
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, errorCode(t, body))
		})
	}
}

func TestGenerate_Conflict(t *testing.T) {
	env := servicetest.NewEnv(servicetest.Config(), servicetest.Post("1", "Sky", "content"))
	app := newApp(env)

	resp, _ := do(t, app, fiber.MethodPost, "/api/covers/1/generate", "")
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	resp, body := do(t, app, fiber.MethodPost, "/api/covers/1/generate", "")
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, response.CodeConflict, errorCode(t, body))
}

func TestGenerate_InvalidMode(t *testing.T) {
	env := servicetest.NewEnv(servicetest.Config(), servicetest.Post("1", "Sky", "content"))
	app := newApp(env)

	resp, body := do(t, app, fiber.MethodPost, "/api/covers/1/generate?mode=later", "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, response.CodeValidationError, errorCode(t, body))
	assert.Empty(t, env.Images.Prompts)
}

func TestRegenerate(t *testing.T) {
	env := servicetest.NewEnv(servicetest.Config(), servicetest.Post("1", "Sky", "content"))
	env.Images.Statuses = []servicetest.StatusStep{servicetest.Done("https://x/img.jpg")}
	app := newApp(env)

	resp, _ := do(t, app, fiber.MethodPost, "/api/covers/1/generate?mode=sync", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = do(t, app, fiber.MethodPost, "/api/covers/1/regenerate?mode=async", "")
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Len(t, env.Media.Deleted, 1)
}

func TestBatch(t *testing.T) {
	env := servicetest.NewEnv(servicetest.Config(),
		servicetest.Post("1", "One", "a"),
		servicetest.Post("2", "Two", "b"),
	)
	app := newApp(env)

	resp, body := do(t, app, fiber.MethodPost, "/api/covers/batch", `{"postIds":["1","2","3"]}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var res model.BatchResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Succeeded)
	assert.False(t, res.Results["3"].Success)

	resp, _ = do(t, app, fiber.MethodPost, "/api/covers/batch", `{"postIds":[""]}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestStatusAndHistory(t *testing.T) {
	env := servicetest.NewEnv(servicetest.Config(), servicetest.Post("1", "Sky", "content"))
	app := newApp(env)

	resp, body := do(t, app, fiber.MethodGet, "/api/covers/1/history", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	env.Images.SubmitErr = model.NewProviderError(50500, "API error: internal error")
	do(t, app, fiber.MethodPost, "/api/covers/1/generate", "")

	resp, body = do(t, app, fiber.MethodGet, "/api/covers/1/history", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	var history []model.GenerationHistoryEntry
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "API error: internal error", history[0].Message)

	resp, _ = do(t, app, fiber.MethodGet, "/api/covers/1/status", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = do(t, app, fiber.MethodGet, "/api/covers/missing/status", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestRecheck(t *testing.T) {
	env := servicetest.NewEnv(servicetest.Config(), servicetest.Post("1", "Sky", "content"))
	app := newApp(env)

	resp, _ := do(t, app, fiber.MethodPost, "/api/covers/1/recheck", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	do(t, app, fiber.MethodPost, "/api/covers/1/generate", "")
	resp, _ = do(t, app, fiber.MethodPost, "/api/covers/1/recheck", "")
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Len(t, env.Scheduler.Scheduled(), 2)
}

func TestPublishedHook(t *testing.T) {
	env := servicetest.NewEnv(servicetest.Config(), servicetest.Post("1", "Sky", "content"))
	app := newApp(env)

	resp, body := do(t, app, fiber.MethodPost, "/api/posts/1/published", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"scheduled":true}`, string(body))
}

func TestUpsertPost_PublishTransitionSchedulesCover(t *testing.T) {
	env := servicetest.NewEnv(servicetest.Config())
	app := newApp(env)

	resp, body := do(t, app, fiber.MethodPut, "/api/posts/5", `{"title":"Draft","content":"text","status":"draft"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var res model.UpsertPostResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.False(t, res.AutoGenerated)

	resp, body = do(t, app, fiber.MethodPut, "/api/posts/5", `{"title":"Live","content":"text","status":"published"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &res))
	assert.True(t, res.AutoGenerated)
	assert.Equal(t, "Live", res.Post.Title)

	// already published: no second schedule
	resp, body = do(t, app, fiber.MethodPut, "/api/posts/5", `{"title":"Live 2","content":"text","status":"published"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &res))
	assert.False(t, res.AutoGenerated)
	assert.Len(t, env.Scheduler.Scheduled(), 1)

	resp, _ = do(t, app, fiber.MethodPut, "/api/posts/5", `{"title":"","status":"published"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestTestConnections(t *testing.T) {
	env := servicetest.NewEnv(servicetest.Config())
	app := newApp(env)

	resp, body := do(t, app, fiber.MethodGet, "/api/connections/test", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var report model.ConnectionReport
	require.NoError(t, json.Unmarshal(body, &report))
	assert.True(t, report.Chat.Success)
	assert.True(t, report.Image.Success)
}
