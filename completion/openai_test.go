package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	return c
}

func TestCompleteSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-model", req.Model)
		assert.Equal(t, "the prompt", req.Prompt)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"text": "a reply", "finish_reason": "stop"}},
			"usage":   map[string]any{"prompt_tokens": 10, "completion_tokens": 2},
		})
	})

	resp, err := c.Complete(context.Background(), Request{Model: "gpt-model", Prompt: "the prompt", MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, "a reply", resp.Text)
	assert.Equal(t, FinishStop, resp.FinishReason)
	assert.Equal(t, 10, resp.Usage.PromptTokens)
	assert.Equal(t, 2, resp.Usage.CompletionTokens)
}

func TestCompleteLengthFinish(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"text": "partial", "finish_reason": "length"}},
		})
	})

	resp, err := c.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, FinishLength, resp.FinishReason)
}

func TestCompleteQuotaError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": "You exceeded your current quota.",
				"type":    "insufficient_quota",
			},
		})
	})

	_, err := c.Complete(context.Background(), Request{})
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindQuota, cerr.Kind)
	assert.Contains(t, cerr.Message, "quota")
}

func TestCompleteStructuredError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "prompt too long", "type": "invalid_request_error"},
		})
	})

	_, err := c.Complete(context.Background(), Request{})
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindStructured, cerr.Kind)
	assert.Equal(t, "prompt too long", cerr.Message)
}

func TestCompleteUnknownErrorIsMalformed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{}`))
	})

	_, err := c.Complete(context.Background(), Request{})
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindMalformed, cerr.Kind)
}

func TestCompleteWrongChoiceCount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"text": "one", "finish_reason": "stop"},
				{"text": "two", "finish_reason": "stop"},
			},
		})
	})

	_, err := c.Complete(context.Background(), Request{})
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindMalformed, cerr.Kind)
}

func TestCompleteTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	c, err := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{})
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindTransport, cerr.Kind)
	assert.Error(t, errors.Unwrap(cerr))
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{})
	assert.Error(t, err)
}
