package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/generatecover/api/internal/auth"
	"github.com/generatecover/api/internal/client"
	"github.com/generatecover/api/internal/handler"
	"github.com/generatecover/api/internal/middleware"
	"github.com/generatecover/api/internal/repository"
	"github.com/generatecover/api/internal/service"
	"github.com/generatecover/api/internal/service/servicetest"
	"github.com/generatecover/api/internal/worker"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	redis   *redis.Client
	jobs    *repository.RedisJobStore
	posts   *servicetest.Posts
	images  *servicetest.Images
	sched   *servicetest.Scheduler
	covers  *service.CoverService
	recheck *worker.RecheckWorker
}

// newRedis connects to the local test database and skips the test when
// Redis is not running.
func newRedis(t *testing.T) *redis.Client {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		t.Skipf("redis not available: %v", err)
	}
	if err := rdb.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("failed to flush test database: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

// setupApp wires the API the way main.go does, with Redis-backed jobs and
// rate limits and in-memory posts and providers.
func setupApp(t *testing.T, generatePerHour int) *testApp {
	t.Helper()

	rdb := newRedis(t)
	jobs := repository.NewRedisJobStore(rdb)
	posts := servicetest.NewPosts(
		servicetest.Post("1", "Sky", "<p>Clouds over the sea</p>"),
		servicetest.Post("2", "Forest", "<p>Tall pines at dawn</p>"),
	)
	images := &servicetest.Images{}
	sched := &servicetest.Scheduler{}
	cfg := servicetest.Config()

	covers := service.NewCoverService(service.CoverDeps{
		Posts:      posts,
		Jobs:       jobs,
		Media:      service.NewMediaLibrary(nil, posts, zerolog.Nop()),
		Chat:       &servicetest.Chat{Reply: "blue sky"},
		Images:     images,
		Downloader: &servicetest.Downloader{Data: servicetest.PNG},
		Scheduler:  sched,
	}, cfg, zerolog.Nop(), service.WithPollOptions(client.PollOptions{MaxAttempts: 5, Interval: time.Millisecond}))

	recheck := worker.NewRecheckWorker(worker.RecheckDeps{
		Jobs:      jobs,
		Images:    images,
		Covers:    covers,
		Scheduler: sched,
	}, cfg, zerolog.Nop())

	authenticator := auth.NewAuthenticator(nil, testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(rdb, zerolog.Nop())
	validate := validator.New()

	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"chat":  false,
				"image": false,
				"r2":    false,
				"auth":  authenticator.Configured(),
			},
		})
	})
	app.Get("/auth/verify", handler.NewAuthHandler(authenticator).Verify)

	api := app.Group("/api", middleware.NewAuthMiddleware(authenticator).Authenticate())
	handler.NewCoverHandler(covers, validate).Register(api,
		rateLimiter.GenerateLimit(generatePerHour),
		rateLimiter.BatchLimit(10000),
	)
	api.Put("/posts/:postId", handler.NewPostHandler(posts, covers, validate).Upsert)

	return &testApp{
		app:     app,
		redis:   rdb,
		jobs:    jobs,
		posts:   posts,
		images:  images,
		sched:   sched,
		covers:  covers,
		recheck: recheck,
	}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	token, err := auth.IssueLegacyToken("test-user-123", "test@example.com", testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t),
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
