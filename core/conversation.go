// Package core defines the conversation data model shared by every part of
// the engine: the conversation record itself, its discriminated history
// entries, and the versioned decoder that normalizes any persisted schema
// into the one canonical in-memory shape.
package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CurrentVersion is the schema version written by EncodeConversation.
//
// Version history:
//
//	v1: history stored as a bare array of {name, text, tokens} records
//	    without ids, kinds, or timestamps.
//	v2: current shape (Entry with id/kind/timestamp/usage).
const CurrentVersion = 2

// Conversation is the unit of persistence: one thread of dialogue between
// one or more humans and the assistant persona.
//
// A Conversation is owned exclusively by the engine instance processing its
// ThreadID. Concurrent turns against the same ThreadID are undefined and
// must be serialized by the caller.
type Conversation struct {
	// ThreadID is the opaque identifier of the backing channel or thread.
	ThreadID  string `json:"thread_id"`
	CreatorID string `json:"creator_id"`
	GuildID   string `json:"guild_id,omitempty"`
	DM        bool   `json:"dm,omitempty"`

	// Persona is the assistant's display name; it is substituted into the
	// default preamble and used as the trailing cue when rendering prompts.
	Persona string `json:"persona"`

	// Preamble overrides the default instruction preamble when non-empty.
	Preamble string `json:"preamble,omitempty"`

	Temperature float32 `json:"temperature"`

	// Summary is the running compression of aged history; SummaryDue counts
	// response entries remaining until the next refresh.
	Summary    string `json:"summary,omitempty"`
	SummaryDue int    `json:"summary_due,omitempty"`

	Version int  `json:"version"`
	Deleted bool `json:"deleted,omitempty"`

	LastActive time.Time `json:"last_active"`

	// LastDeliveredID is the identifier of the last externally delivered
	// message, used to resume reading new input after a restart.
	LastDeliveredID string `json:"last_delivered_id,omitempty"`

	History []*Entry `json:"history"`
}

// NewConversation creates a fresh conversation at the current schema version.
func NewConversation(threadID, creatorID, guildID, persona string) *Conversation {
	return &Conversation{
		ThreadID:   threadID,
		CreatorID:  creatorID,
		GuildID:    guildID,
		Persona:    persona,
		Version:    CurrentVersion,
		LastActive: time.Now().UTC(),
	}
}

// Touch records activity on the conversation.
func (c *Conversation) Touch() {
	c.LastActive = time.Now().UTC()
}

// EncodeConversation serializes a conversation at the current schema version.
func EncodeConversation(c *Conversation) ([]byte, error) {
	c.Version = CurrentVersion
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("core: encode conversation %q: %w", c.ThreadID, err)
	}
	return data, nil
}

// DecodeConversation deserializes a stored conversation, migrating legacy
// schema versions into the canonical shape. Callers never see a legacy
// shape: after decode, every entry has an id and a kind, and Version is
// CurrentVersion.
func DecodeConversation(data []byte) (*Conversation, error) {
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("core: decode conversation: %w", err)
	}

	switch probe.Version {
	case 0, 1:
		return decodeV1(data)
	case CurrentVersion:
		var c Conversation
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("core: decode conversation v2: %w", err)
		}
		return &c, nil
	default:
		return nil, fmt.Errorf("core: unknown conversation schema version %d", probe.Version)
	}
}

// legacyEntry is the v1 history record shape.
type legacyEntry struct {
	Name   string `json:"name"`
	Text   string `json:"text"`
	Tokens int    `json:"tokens,omitempty"`
}

func decodeV1(data []byte) (*Conversation, error) {
	var stored struct {
		Conversation
		History []legacyEntry `json:"history"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("core: decode conversation v1: %w", err)
	}

	c := stored.Conversation
	c.Version = CurrentVersion
	c.History = make([]*Entry, 0, len(stored.History))
	for _, le := range stored.History {
		kind := KindHuman
		if le.Name == c.Persona {
			kind = KindResponse
		}
		c.History = append(c.History, &Entry{
			ID:          uuid.New().String(),
			Kind:        kind,
			Name:        le.Name,
			Content:     le.Text,
			NumTokens:   le.Tokens,
			FixedTokens: le.Tokens > 0,
		})
	}
	return &c, nil
}
