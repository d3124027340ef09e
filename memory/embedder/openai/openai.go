// Package openai implements memory.Embedder against an OpenAI-compatible
// embeddings endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	// DefaultModel is a small, cheap embedding model; vectors are
	// 1536-dimensional.
	DefaultModel      = "text-embedding-3-small"
	defaultDimensions = 1536
	defaultBaseURL    = "https://api.openai.com/v1"
)

// Config configures the embedder.
type Config struct {
	APIKey string

	// BaseURL points at any OpenAI-compatible server. Defaults to the
	// OpenAI API.
	BaseURL string

	// Model defaults to DefaultModel.
	Model string

	// Dimensions of the model's output. Defaults to DefaultModel's size.
	Dimensions int

	// HTTPClient defaults to http.DefaultClient; callers supply their own
	// to control timeouts.
	HTTPClient *http.Client
}

// Embedder calls the embeddings endpoint.
type Embedder struct {
	cfg Config
}

// New creates an embedder. The API key is required.
func New(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai embedder: APIKey is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = defaultDimensions
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Embedder{cfg: cfg}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed converts text into a vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.cfg.Model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("openai embedder: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai embedder: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: read response: %w", err)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("openai embedder: decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("openai embedder: HTTP %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return nil, fmt.Errorf("openai embedder: HTTP %d", resp.StatusCode)
	}
	if len(parsed.Data) != 1 {
		return nil, fmt.Errorf("openai embedder: expected 1 embedding, got %d", len(parsed.Data))
	}
	return parsed.Data[0].Embedding, nil
}

// Dimensions returns the configured vector size.
func (e *Embedder) Dimensions() int {
	return e.cfg.Dimensions
}
