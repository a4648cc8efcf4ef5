package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/generatecover/api/internal/config"
)

func TestOpenRouterComplete(t *testing.T) {
	var got chatCompletionRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  a calm blue sky  "}}]}`))
	}))
	defer srv.Close()

	c := NewOpenRouterClient(&config.OpenRouterConfig{
		APIKey:   "key",
		BaseURL:  srv.URL + "/",
		Model:    "openai/gpt-4o",
		SiteURL:  "https://blog.example.com",
		AppTitle: "Generate Cover",
	}, zerolog.Nop())

	out, err := c.Complete(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "a calm blue sky", out)

	assert.Equal(t, "openai/gpt-4o", got.Model)
	assert.Equal(t, 500, got.MaxTokens)
	assert.InDelta(t, 0.7, got.Temperature, 1e-9)
	assert.InDelta(t, 0.9, got.TopP, 1e-9)
	assert.Equal(t, "Bearer key", headers.Get("Authorization"))
	assert.Equal(t, "https://blog.example.com", headers.Get("HTTP-Referer"))
	assert.Equal(t, "Generate Cover", headers.Get("X-Title"))
}

func TestOpenRouterComplete_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"No auth credentials found"}}`))
	}))
	defer srv.Close()

	c := NewOpenRouterClient(&config.OpenRouterConfig{APIKey: "bad", BaseURL: srv.URL}, zerolog.Nop())

	_, err := c.Complete(context.Background(), ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "x"}}})
	require.Error(t, err)
	assert.Equal(t, "API error: No auth credentials found", err.Error())
}

func TestOpenRouterComplete_NotConfigured(t *testing.T) {
	c := NewOpenRouterClient(&config.OpenRouterConfig{}, zerolog.Nop())
	assert.False(t, c.IsConfigured())
	assert.Error(t, c.TestConnection(context.Background()))
}
