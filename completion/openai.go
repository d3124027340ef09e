package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIConfig configures the OpenAI-compatible completions client.
type OpenAIConfig struct {
	APIKey string

	// BaseURL points at any server speaking the completions API.
	BaseURL string

	// HTTPClient defaults to http.DefaultClient; supply one with a timeout
	// in production.
	HTTPClient *http.Client
}

// OpenAIClient speaks the text-completions wire format.
type OpenAIClient struct {
	cfg OpenAIConfig
}

// NewOpenAI creates the client. The API key is required.
func NewOpenAI(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("completion: openai APIKey is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &OpenAIClient{cfg: cfg}, nil
}

type openAIRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	User        string  `json:"user,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Complete issues one completion round and classifies any failure.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(openAIRequest{
		Model:       req.Model,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		User:        req.User,
	})
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Message: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	httpResp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &Error{
			Kind:    KindMalformed,
			Message: fmt.Sprintf("unparseable response (HTTP %d)", httpResp.StatusCode),
			Err:     err,
		}
	}

	if httpResp.StatusCode != http.StatusOK || parsed.Error != nil {
		return nil, classifyOpenAIError(httpResp.StatusCode, &parsed)
	}

	if len(parsed.Choices) != 1 || parsed.Choices[0].Text == "" {
		return nil, &Error{
			Kind:    KindMalformed,
			Message: fmt.Sprintf("expected 1 non-empty choice, got %d", len(parsed.Choices)),
		}
	}

	finish := parsed.Choices[0].FinishReason
	if finish != FinishLength {
		finish = FinishStop
	}
	return &Response{
		Text:         parsed.Choices[0].Text,
		FinishReason: finish,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

func classifyOpenAIError(status int, parsed *openAIResponse) *Error {
	if parsed.Error == nil {
		return &Error{Kind: KindMalformed, Message: fmt.Sprintf("HTTP %d with no error payload", status)}
	}
	if isQuotaError(status, parsed.Error.Type, parsed.Error.Code) {
		return &Error{Kind: KindQuota, Message: parsed.Error.Message}
	}
	if parsed.Error.Message != "" {
		return &Error{Kind: KindStructured, Message: parsed.Error.Message}
	}
	return &Error{Kind: KindMalformed, Message: fmt.Sprintf("HTTP %d with empty error message", status)}
}

func isQuotaError(status int, errType, errCode string) bool {
	if status == http.StatusPaymentRequired {
		return true
	}
	for _, v := range []string{errType, errCode} {
		if v == "insufficient_quota" || strings.Contains(v, "billing") {
			return true
		}
	}
	return false
}
