// Package delivery synchronizes accumulating response text onto a growing
// sequence of externally visible messages. The sink is transport-agnostic;
// subpackages provide WebSocket and Discord channels.
package delivery

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/keelworks/convene/chunk"
)

// Channel is one externally visible message stream. Handles are opaque
// message identifiers issued by the transport.
type Channel interface {
	CreateMessage(ctx context.Context, content string) (string, error)
	EditMessage(ctx context.Context, handle, content string) error
}

// pendingMark decorates the trailing fragment while more output is coming.
// It is removed on the final sync.
const pendingMark = " […]"

// Sink maps the fragments of an accumulating text onto a list of message
// handles: fragments beyond the list create new messages, fragments within
// it edit in place only when their content changed since the last sync.
// One sink serves one turn; not safe for concurrent use.
type Sink struct {
	ch     Channel
	maxLen int
	log    zerolog.Logger

	handles  []string
	contents []string
}

// NewSink creates a sink emitting messages of at most maxLen runes each.
func NewSink(ch Channel, maxLen int, log zerolog.Logger) *Sink {
	return &Sink{ch: ch, maxLen: maxLen, log: log}
}

// Update syncs the full accumulated text so far. Non-final updates leave a
// trailing marker on the last message; the final update removes it.
func (s *Sink) Update(ctx context.Context, text string, final bool) error {
	if text == "" {
		return nil
	}

	// Reserve room so the decorated trailing fragment still fits.
	effective := s.maxLen - utf8.RuneCountInString(pendingMark)
	if effective < 1 {
		effective = 1
	}
	frags := chunk.Divide(text, effective)

	for i, frag := range frags {
		content := frag
		if !final && i == len(frags)-1 {
			content += pendingMark
		}
		if err := s.sync(ctx, i, content); err != nil {
			return err
		}
	}
	return nil
}

// sync writes one fragment to position i, creating or editing as needed.
func (s *Sink) sync(ctx context.Context, i int, content string) error {
	if i < len(s.handles) {
		if s.contents[i] == content {
			return nil
		}
		if err := s.ch.EditMessage(ctx, s.handles[i], content); err != nil {
			return fmt.Errorf("edit message %d: %w", i, err)
		}
		s.contents[i] = content
		return nil
	}

	handle, err := s.ch.CreateMessage(ctx, content)
	if err != nil {
		return fmt.Errorf("create message %d: %w", i, err)
	}
	s.log.Debug().Str("handle", handle).Int("fragment", i).Msg("created delivery message")
	s.handles = append(s.handles, handle)
	s.contents = append(s.contents, content)
	return nil
}

// LastHandle returns the handle of the most recent message, or "" when
// nothing was delivered. Persisted so a restarted process can resume
// reading input after this point.
func (s *Sink) LastHandle() string {
	if len(s.handles) == 0 {
		return ""
	}
	return s.handles[len(s.handles)-1]
}

// Handles returns every message handle created so far, in order.
func (s *Sink) Handles() []string {
	out := make([]string, len(s.handles))
	copy(out, s.handles)
	return out
}
