// Package completion defines the completion-backend boundary. Backend
// adapters translate their transport's failures into a closed set of error
// kinds at this boundary, so the engine's driver only ever matches over
// {Transport, Quota, Structured, Malformed} and never sniffs payload
// shapes itself.
package completion

import (
	"context"
	"fmt"
)

// Finish reasons, normalized across backends. Adapters map anything that
// is not an explicit truncation onto FinishStop.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// Request is a single completion call.
type Request struct {
	Model       string
	Prompt      string
	Temperature float32
	// MaxTokens caps the response length for this round.
	MaxTokens int
	// User identifies the caller for backend-side abuse tracking.
	User string
}

// Usage is the backend's token accounting for one round.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response is a successful completion round.
type Response struct {
	Text         string
	FinishReason string
	Usage        Usage
}

// ErrorKind is the closed classification of backend failures.
type ErrorKind int

const (
	// KindTransport: no response reached us at all.
	KindTransport ErrorKind = iota

	// KindQuota: the backend refused for billing/quota reasons.
	KindQuota

	// KindStructured: the backend returned a well-formed error message,
	// eligible for bounded retry.
	KindStructured

	// KindMalformed: a response arrived but its shape was unusable
	// (unknown error payload, wrong choice count, missing text).
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindQuota:
		return "quota"
	case KindStructured:
		return "structured"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is a classified backend failure.
type Error struct {
	Kind ErrorKind

	// Message is the backend's own message for Structured and Quota
	// errors, and a diagnostic otherwise.
	Message string

	// Err is the underlying cause, when there is one.
	Err error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("completion %s error: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("completion %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("completion %s error", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client is a completion backend. Complete returns either a Response or a
// *Error; adapters never return any other error type.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
