package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlead/prospector/internal/resilience"
	"github.com/lumenlead/prospector/pkg/llm"
)

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.01,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, attempts int) llm.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-api-key",
		WithBaseURL(srv.URL),
		WithRetry(fastRetry(attempts)),
	)
}

func completionBody(text string) string {
	resp := map[string]any{
		"id":    "chatcmpl-1",
		"model": "gpt-4o-mini",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]string{"role": "assistant", "content": text}},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestComplete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)

		w.Write([]byte(completionBody("  hello world  ")))
	}, 3)

	out, err := c.Complete(context.Background(), llm.CompletionRequest{
		System: "be brief",
		Prompt: "say hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out.Text)
	assert.Equal(t, "gpt-4o-mini", out.Model)
	assert.Equal(t, int64(10), out.Usage.InputTokens)
}

func TestComplete_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limited"}`))
			return
		}
		w.Write([]byte(completionBody("ok")))
	}, 3)

	out, err := c.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestComplete_AuthFailsFast(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid api key"}`))
	}, 3)

	_, err := c.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, resilience.IsAuth(err))
	assert.Equal(t, int32(1), calls.Load(), "auth failure must not be retried")
}

func TestComplete_EmptyCompletionRetriedThenSurfaced(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(completionBody("")))
	}, 3)

	_, err := c.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrEmptyCompletion)
	assert.Equal(t, int32(3), calls.Load(), "empty completions consume the full attempt budget")
}

func TestComplete_ModelOverride(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4.1", req.Model)
		w.Write([]byte(completionBody("ack")))
	}, 1)

	_, err := c.Complete(context.Background(), llm.CompletionRequest{Model: "gpt-4.1", Prompt: "hi"})
	require.NoError(t, err)
}
