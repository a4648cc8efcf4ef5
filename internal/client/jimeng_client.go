package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/generatecover/api/internal/config"
	"github.com/generatecover/api/internal/metrics"
	"github.com/generatecover/api/internal/model"
	"github.com/generatecover/api/internal/signer"
)

const (
	ActionSubmitTask = "CVSync2AsyncSubmitTask"
	ActionGetResult  = "CVSync2AsyncGetResult"

	DefaultImageArea = 2048 * 2048
	TestImageArea    = 1024 * 1024

	testPrompt = "simple test image, blue sky and white clouds"
)

// getResultReqJSON is sent verbatim as the req_json string of every status query
const getResultReqJSON = `{"return_url":true,"logo_info":{"add_logo":false}}`

// ImageGenerator submits text-to-image jobs
type ImageGenerator interface {
	Submit(ctx context.Context, prompt string, opts SubmitOptions) (*SubmitResult, error)
	StatusChecker
}

// StatusChecker performs a single status query for a submitted task
type StatusChecker interface {
	CheckStatus(ctx context.Context, taskID string) (*StatusResult, error)
}

// SubmitOptions tunes a generation request
type SubmitOptions struct {
	Size        int
	ForceSingle bool
	MinRatio    float64
	MaxRatio    float64
	StyleImage  string
}

// DefaultSubmitOptions returns a square 2048² single-image request.
func DefaultSubmitOptions() SubmitOptions {
	return SubmitOptions{
		Size:        DefaultImageArea,
		ForceSingle: true,
		MinRatio:    1.0 / 3.0,
		MaxRatio:    3,
	}
}

// SubmitResult holds the provider-assigned task identifier
type SubmitResult struct {
	TaskID string
}

// TaskStatus is the normalized status of a remote task
type TaskStatus string

const (
	TaskDone       TaskStatus = "done"
	TaskProcessing TaskStatus = "processing"
	TaskNotFound   TaskStatus = "not_found"
	TaskExpired    TaskStatus = "expired"
)

// StatusResult is one status snapshot. ImageURLs and BinaryData are only set
// when Status is TaskDone.
type StatusResult struct {
	Status     TaskStatus
	RawStatus  string
	ImageURLs  []string
	BinaryData []string
}

// Terminal reports whether the task will not change anymore.
func (r *StatusResult) Terminal() bool {
	return r.Status == TaskDone || r.Status == TaskNotFound || r.Status == TaskExpired
}

var providerErrorReasons = map[int]string{
	50411: "input image failed content moderation",
	50511: "output image failed content moderation",
	50412: "input text failed content moderation",
	50512: "output text failed content moderation",
	50413: "input text contains sensitive or copyrighted terms",
	50429: "rate limit exceeded, please retry later",
	50430: "concurrency limit exceeded, please retry later",
	50500: "internal error",
	50501: "internal algorithm error",
}

// ProviderReason returns the human-readable reason for a provider error code.
func ProviderReason(code int) (string, bool) {
	r, ok := providerErrorReasons[code]
	return r, ok
}

// JimengClient implements ImageGenerator for the Jimeng text-to-image API
type JimengClient struct {
	httpClient *http.Client
	signer     *signer.Signer
	endpoint   string
	reqKey     string
	configured bool
	poll       PollOptions
	log        zerolog.Logger
}

// JimengOption customizes a JimengClient
type JimengOption func(*JimengClient)

// WithEndpoint overrides the scheme+host requests are sent to. The signed
// Host header is unaffected.
func WithEndpoint(endpoint string) JimengOption {
	return func(c *JimengClient) { c.endpoint = endpoint }
}

// WithPollOptions sets the poll budget used by TestConnection.
func WithPollOptions(p PollOptions) JimengOption {
	return func(c *JimengClient) { c.poll = p }
}

// WithSigner replaces the request signer, e.g. to pin the clock.
func WithSigner(s *signer.Signer) JimengOption {
	return func(c *JimengClient) { c.signer = s }
}

// NewJimengClient creates a new Jimeng API client
func NewJimengClient(cfg *config.JimengConfig, log zerolog.Logger, opts ...JimengOption) *JimengClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	c := &JimengClient{
		httpClient: &http.Client{Timeout: timeout},
		signer: signer.New(
			signer.Credentials{AccessKey: cfg.AccessKey, SecretKey: cfg.SecretKey},
			signer.Config{Host: cfg.Host, Region: cfg.Region, Service: cfg.Service, Version: cfg.Version},
		),
		endpoint:   "https://" + cfg.Host,
		reqKey:     cfg.ReqKey,
		configured: cfg.AccessKey != "" && cfg.SecretKey != "",
		poll:       DefaultPollOptions(),
		log:        log.With().Str("component", "jimeng").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type submitBody struct {
	ReqKey      string   `json:"req_key"`
	Prompt      string   `json:"prompt"`
	Size        int      `json:"size"`
	ForceSingle bool     `json:"force_single"`
	MinRatio    float64  `json:"min_ratio"`
	MaxRatio    float64  `json:"max_ratio"`
	ImageURLs   []string `json:"image_urls,omitempty"`
}

type getResultBody struct {
	ReqKey  string `json:"req_key"`
	TaskID  string `json:"task_id"`
	ReqJSON string `json:"req_json"`
}

type submitResponse struct {
	Data *struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

type getResultResponse struct {
	Data *struct {
		Status           string   `json:"status"`
		ImageURLs        []string `json:"image_urls"`
		BinaryDataBase64 []string `json:"binary_data_base64"`
	} `json:"data"`
}

type errorResponse struct {
	Code    interface{} `json:"code"`
	Message string      `json:"message"`
}

// Submit sends a generation request and returns the task id.
func (c *JimengClient) Submit(ctx context.Context, prompt string, opts SubmitOptions) (*SubmitResult, error) {
	def := DefaultSubmitOptions()
	if opts.Size <= 0 {
		opts.Size = def.Size
	}
	if opts.MinRatio <= 0 {
		opts.MinRatio = def.MinRatio
	}
	if opts.MaxRatio <= 0 {
		opts.MaxRatio = def.MaxRatio
	}

	body := submitBody{
		ReqKey:      c.reqKey,
		Prompt:      prompt,
		Size:        opts.Size,
		ForceSingle: opts.ForceSingle,
		MinRatio:    opts.MinRatio,
		MaxRatio:    opts.MaxRatio,
	}
	if opts.StyleImage != "" {
		body.ImageURLs = []string{opts.StyleImage}
	}

	var resp submitResponse
	if err := c.do(ctx, ActionSubmitTask, body, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil || resp.Data.TaskID == "" {
		return nil, model.NewProviderError(0, "API error: response is missing data.task_id")
	}

	c.log.Info().Str("task_id", resp.Data.TaskID).Msg("task submitted")
	return &SubmitResult{TaskID: resp.Data.TaskID}, nil
}

// CheckStatus queries the task once. not_found and expired are returned as
// statuses, not errors.
func (c *JimengClient) CheckStatus(ctx context.Context, taskID string) (*StatusResult, error) {
	body := getResultBody{
		ReqKey:  c.reqKey,
		TaskID:  taskID,
		ReqJSON: getResultReqJSON,
	}

	var resp getResultResponse
	if err := c.do(ctx, ActionGetResult, body, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, model.NewProviderError(0, "API error: response is missing data")
	}

	result := &StatusResult{
		Status:    normalizeStatus(resp.Data.Status),
		RawStatus: resp.Data.Status,
	}
	if result.Status == TaskDone {
		result.ImageURLs = resp.Data.ImageURLs
		result.BinaryData = resp.Data.BinaryDataBase64
	}
	return result, nil
}

// PollUntilDone blocks until the task is done or the poll budget is spent.
func (c *JimengClient) PollUntilDone(ctx context.Context, taskID string, opts PollOptions) (*StatusResult, error) {
	return PollUntilDone(ctx, c, taskID, opts, c.log)
}

// TestConnection submits a small image and waits for it, validating the
// configured credentials end to end.
func (c *JimengClient) TestConnection(ctx context.Context) error {
	submitted, err := c.Submit(ctx, testPrompt, SubmitOptions{Size: TestImageArea, ForceSingle: true})
	if err != nil {
		return err
	}
	_, err = c.PollUntilDone(ctx, submitted.TaskID, c.poll)
	return err
}

// IsConfigured returns true if the client has valid configuration
func (c *JimengClient) IsConfigured() bool {
	return c.configured
}

func (c *JimengClient) do(ctx context.Context, action string, body interface{}, result interface{}) error {
	signed, err := c.signer.Sign(action, body)
	if err != nil {
		return err
	}

	url := c.endpoint + signed.Path + "?" + signed.QueryString
	req, err := http.NewRequestWithContext(ctx, signed.Method, url, bytes.NewReader(signed.Body))
	if err != nil {
		return model.NewError(model.ErrKindRequest, "request failed", err)
	}
	signed.Apply(req)

	c.log.Debug().Str("action", action).RawJSON("body", signed.Body).Msg("→ request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("action", action).Msg("✗ request failed")
		metrics.ProviderRequests.WithLabelValues(action, "request_error").Inc()
		return model.NewError(model.ErrKindRequest, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewError(model.ErrKindRequest, "failed to read response", err)
	}

	c.log.Debug().
		Str("action", action).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Str("body", truncate(string(respBody), 2048)).
		Msg("← response")

	if resp.StatusCode != http.StatusOK {
		metrics.ProviderRequests.WithLabelValues(action, "provider_error").Inc()
		return parseProviderError(respBody)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		metrics.ProviderRequests.WithLabelValues(action, "provider_error").Inc()
		return model.NewProviderError(0, fmt.Sprintf("API error: malformed response: %v", err))
	}
	metrics.ProviderRequests.WithLabelValues(action, "ok").Inc()
	return nil
}

func parseProviderError(body []byte) *model.GenerationError {
	var er errorResponse
	_ = json.Unmarshal(body, &er)

	code := parseCode(er.Code)
	reason, ok := providerErrorReasons[code]
	if !ok {
		reason = er.Message
	}
	if reason == "" {
		reason = "unknown error"
	}
	return model.NewProviderError(code, "API error: "+reason)
}

func parseCode(v interface{}) int {
	switch c := v.(type) {
	case float64:
		return int(c)
	case string:
		n, err := strconv.Atoi(c)
		if err == nil {
			return n
		}
	}
	return 0
}

func normalizeStatus(s string) TaskStatus {
	switch s {
	case "done":
		return TaskDone
	case "not_found":
		return TaskNotFound
	case "expired":
		return TaskExpired
	default:
		// in_queue, generating and anything new the provider adds
		return TaskProcessing
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
