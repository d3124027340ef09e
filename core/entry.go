package core

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates history entries: a message spoken by a human user or
// a response produced by the completion backend.
type Kind string

const (
	KindHuman    Kind = "human"
	KindResponse Kind = "response"
)

// Usage carries backend token accounting for a response entry.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
}

// Entry is one record in a conversation's history.
//
// Entries are immutable once appended, with two exceptions: NumTokens may be
// backfilled lazily for legacy records (and is authoritative once FixedTokens
// is set), and VectorID may be backfilled after the entry's embedding is
// upserted into the vector index.
type Entry struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	// Timestamp may be nil for entries migrated from schema versions that
	// did not record one.
	Timestamp *time.Time `json:"timestamp,omitempty"`

	// Name is the display name used when the entry is rendered into a
	// prompt: the speaking user for human entries, the persona for
	// response entries.
	Name    string `json:"name"`
	Content string `json:"content"`

	// NumTokens is the precomputed token cost of Content. FixedTokens marks
	// it trustworthy; when false the cost must be recomputed before use.
	NumTokens   int  `json:"num_tokens"`
	FixedTokens bool `json:"fixed_tokens"`

	// VectorID references this entry's long-term-memory vector, when one
	// has been stored.
	VectorID string `json:"vector_id,omitempty"`

	// UserID identifies the speaker on human entries.
	UserID string `json:"user_id,omitempty"`

	// Usage is set on response entries only.
	Usage *Usage `json:"usage,omitempty"`
}

// NewHumanEntry creates a history entry for an inbound user message.
func NewHumanEntry(userID, name, content string) *Entry {
	now := time.Now().UTC()
	return &Entry{
		ID:        uuid.New().String(),
		Kind:      KindHuman,
		Timestamp: &now,
		Name:      name,
		Content:   content,
		UserID:    userID,
	}
}

// NewResponseEntry creates a history entry for a finished backend response.
func NewResponseEntry(name, content string, usage Usage) *Entry {
	now := time.Now().UTC()
	return &Entry{
		ID:        uuid.New().String(),
		Kind:      KindResponse,
		Timestamp: &now,
		Name:      name,
		Content:   content,
		Usage:     &usage,
	}
}

// Clone returns a deep copy of the entry. Mutating the clone never affects
// the stored original.
func (e *Entry) Clone() *Entry {
	clone := *e
	if e.Timestamp != nil {
		ts := *e.Timestamp
		clone.Timestamp = &ts
	}
	if e.Usage != nil {
		u := *e.Usage
		clone.Usage = &u
	}
	return &clone
}
