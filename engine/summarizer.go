package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/keelworks/convene/completion"
	"github.com/keelworks/convene/core"
	"github.com/keelworks/convene/history"
)

// summaryInputEntries caps how much history one refresh reads. Older
// context is already folded into the previous summary.
const summaryInputEntries = 40

// Summarizer maintains the conversation's running summary by asking the
// completion backend to fold recent history into the previous summary.
type Summarizer struct {
	client    completion.Client
	model     string
	maxTokens int
	log       zerolog.Logger
}

// NewSummarizer creates a summarizer using the given backend and model.
func NewSummarizer(client completion.Client, model string, maxTokens int, log zerolog.Logger) *Summarizer {
	return &Summarizer{client: client, model: model, maxTokens: maxTokens, log: log}
}

// Refresh replaces conv.Summary. On any backend error the previous
// summary is left untouched and the error returned for logging.
func (s *Summarizer) Refresh(ctx context.Context, conv *core.Conversation, log *history.Log) error {
	if log.Len() == 0 {
		return nil
	}

	resp, err := s.client.Complete(ctx, completion.Request{
		Model:       s.model,
		Prompt:      s.buildPrompt(conv, log),
		Temperature: 0,
		MaxTokens:   s.maxTokens,
		User:        conv.CreatorID,
	})
	if err != nil {
		return fmt.Errorf("summary completion: %w", err)
	}

	summary := strings.TrimSpace(resp.Text)
	if summary == "" {
		return fmt.Errorf("summary completion returned empty text")
	}
	s.log.Debug().
		Str("conversation", conv.ThreadID).
		Int("length", len(summary)).
		Msg("refreshed running summary")
	conv.Summary = summary
	return nil
}

func (s *Summarizer) buildPrompt(conv *core.Conversation, log *history.Log) string {
	var b strings.Builder
	b.WriteString("Condense the following conversation into a short factual summary. ")
	b.WriteString("Keep names, decisions, and open questions; drop pleasantries.\n")
	if conv.Summary != "" {
		b.WriteString("Previous summary: ")
		b.WriteString(conv.Summary)
		b.WriteString("\n")
	}
	b.WriteString("Conversation:\n")

	start := log.Len() - summaryInputEntries
	if start < 0 {
		start = 0
	}
	for i := start; i < log.Len(); i++ {
		e := log.At(i)
		b.WriteString(e.Name)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(e.Content))
		b.WriteString("\n")
	}
	b.WriteString("Summary:")
	return b.String()
}
