package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/generatecover/api/internal/config"
)

// ChatCompleter is the chat-completion collaborator used for prompts and summaries
type ChatCompleter interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest describes one completion. Zero values fall back to the
// client defaults.
type ChatRequest struct {
	Messages    []ChatMessage
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// chatCompletionRequest represents the request body for chat completion
type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
}

// chatCompletionResponse represents the response from chat completion
type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenRouterClient handles communication with the OpenRouter chat API
type OpenRouterClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	siteURL    string
	appTitle   string
	log        zerolog.Logger
}

// NewOpenRouterClient creates a new OpenRouter API client
func NewOpenRouterClient(cfg *config.OpenRouterConfig, log zerolog.Logger) *OpenRouterClient {
	return &OpenRouterClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		siteURL:  cfg.SiteURL,
		appTitle: cfg.AppTitle,
		log:      log.With().Str("component", "openrouter").Logger(),
	}
}

// Complete sends a chat completion request and returns the trimmed reply
func (c *OpenRouterClient) Complete(ctx context.Context, in ChatRequest) (string, error) {
	if !c.IsConfigured() {
		return "", errors.New("OpenRouter API key is not configured")
	}

	reqBody := chatCompletionRequest{
		Model:       in.Model,
		Messages:    in.Messages,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
		TopP:        in.TopP,
	}
	if reqBody.Model == "" {
		reqBody.Model = c.model
	}
	if reqBody.MaxTokens == 0 {
		reqBody.MaxTokens = 500
	}
	if reqBody.Temperature == 0 {
		reqBody.Temperature = 0.7
	}
	if reqBody.TopP == 0 {
		reqBody.TopP = 0.9
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.appTitle != "" {
		req.Header.Set("X-Title", c.appTitle)
	}

	c.log.Debug().Str("model", reqBody.Model).Int("messages", len(reqBody.Messages)).Msg("→ chat completion")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var chatResp chatCompletionResponse
	decodeErr := json.Unmarshal(respBody, &chatResp)

	if resp.StatusCode != http.StatusOK {
		msg := "unknown error"
		if decodeErr == nil && chatResp.Error != nil && chatResp.Error.Message != "" {
			msg = chatResp.Error.Message
		}
		c.log.Warn().Int("status", resp.StatusCode).Str("body", truncate(string(respBody), 1024)).Msg("✗ chat completion")
		return "", fmt.Errorf("API error: %s", msg)
	}

	if decodeErr != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", decodeErr)
	}

	if len(chatResp.Choices) == 0 {
		return "", errors.New("invalid response format: no choices")
	}

	c.log.Debug().Int("total_tokens", chatResp.Usage.TotalTokens).Msg("← chat completion")
	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

// TestConnection sends a trivial message to validate the API key
func (c *OpenRouterClient) TestConnection(ctx context.Context) error {
	_, err := c.Complete(ctx, ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: `Hello, please respond with "API connection successful"`}},
	})
	return err
}

// IsConfigured returns true if the client has valid configuration
func (c *OpenRouterClient) IsConfigured() bool {
	return c.apiKey != ""
}
