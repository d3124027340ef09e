package completion

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// AnthropicClient adapts the Anthropic messages API to the Client
// interface. The assembled prompt travels as a single user message; the
// response's stop_reason maps onto the normalized finish reasons
// (max_tokens becomes FinishLength, everything else FinishStop).
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropic wraps an SDK client.
func NewAnthropic(client *anthropic.Client) *AnthropicClient {
	return &AnthropicClient{client: client}
}

// Complete issues one messages call and classifies any failure.
func (a *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, &Error{Kind: KindMalformed, Message: "response contained no text blocks"}
	}

	finish := FinishStop
	if string(resp.StopReason) == "max_tokens" {
		finish = FinishLength
	}
	return &Response{
		Text:         text.String(),
		FinishReason: finish,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

func classifyAnthropicError(err error) *Error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return &Error{Kind: KindTransport, Err: err}
	}

	msg := apiErr.Error()
	lower := strings.ToLower(msg)
	if apiErr.StatusCode == 402 || strings.Contains(lower, "credit balance") || strings.Contains(lower, "billing") {
		return &Error{Kind: KindQuota, Message: msg, Err: err}
	}
	if msg != "" {
		return &Error{Kind: KindStructured, Message: msg, Err: err}
	}
	return &Error{Kind: KindMalformed, Message: "empty error payload", Err: err}
}
