// Package history implements the per-conversation message log: an ordered,
// append-only sequence of entries with an id map for O(1) lookup, plus the
// token-bounded recency selection used by prompt assembly.
//
// A Log is not safe for concurrent use. The engine requires the caller to
// serialize turns per conversation, and the log inherits that contract.
package history

import (
	"sort"
	"time"

	"github.com/keelworks/convene/core"
)

// Coster prices entries for budget decisions. Implemented by
// tokens.Accountant.
type Coster interface {
	Count(text string) int
	EntryCost(e *core.Entry) int
}

const (
	// budgetFloor is the leftover-token threshold below which partial
	// inclusion is not attempted.
	budgetFloor = 50

	// truncateStep is how many characters are stripped from the head of a
	// partial-inclusion candidate per attempt.
	truncateStep = 50

	// minPartialChars is the length at which a truncated candidate is
	// dropped instead of included.
	minPartialChars = 50

	// TruncationMark prefixes a partially included entry so the model can
	// tell the text is mid-message.
	TruncationMark = "<TRUNCATED>"
)

// Log is the ordered history of one conversation. The ordered sequence is
// the ground truth for position-based indexing; the id map is a lookup
// convenience.
type Log struct {
	entries []*core.Entry
	byID    map[string]*core.Entry
}

// NewLog builds a log over existing entries, commonly a decoded
// conversation's history. The slice is adopted, not copied.
func NewLog(entries []*core.Entry) *Log {
	l := &Log{
		entries: entries,
		byID:    make(map[string]*core.Entry, len(entries)),
	}
	for _, e := range entries {
		l.byID[e.ID] = e
	}
	return l
}

// Append adds an entry to the end of the log.
func (l *Log) Append(e *core.Entry) {
	l.entries = append(l.entries, e)
	l.byID[e.ID] = e
}

// Get returns the entry with the given id.
func (l *Log) Get(id string) (*core.Entry, bool) {
	e, ok := l.byID[id]
	return e, ok
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// At returns the entry at position i.
func (l *Log) At(i int) *core.Entry {
	return l.entries[i]
}

// Entries returns the backing ordered sequence. Callers must treat it as
// read-only.
func (l *Log) Entries() []*core.Entry {
	return l.entries
}

// TotalTokens returns the summed token cost of the whole log.
func (l *Log) TotalTokens(c Coster) int {
	total := 0
	for _, e := range l.entries {
		total += c.EntryCost(e)
	}
	return total
}

// DeleteLast removes the last n entries and returns their ids so the
// caller can cascade-delete any associated long-term-memory vectors.
func (l *Log) DeleteLast(n int) []string {
	if n > len(l.entries) {
		n = len(l.entries)
	}
	if n <= 0 {
		return nil
	}
	removed := l.entries[len(l.entries)-n:]
	ids := make([]string, 0, n)
	for _, e := range removed {
		ids = append(ids, e.ID)
		delete(l.byID, e.ID)
	}
	l.entries = l.entries[:len(l.entries)-n]
	return ids
}

// LastNByTokens returns the contiguous suffix of the log whose summed token
// cost fits maxTokens, selected newest-first. If even the newest entry alone
// exceeds the budget the result is empty.
//
// With includePartial set, when the chosen suffix leaves more than a small
// floor of budget and an older candidate exists, that candidate is cloned
// and truncated from its head until it fits the leftover budget, then
// prepended to the result. The stored entry is never mutated.
func (l *Log) LastNByTokens(c Coster, maxTokens int, includePartial bool) []*core.Entry {
	used := 0
	start := len(l.entries)
	for start > 0 {
		cost := c.EntryCost(l.entries[start-1])
		if used+cost > maxTokens {
			break
		}
		used += cost
		start--
	}

	suffix := l.entries[start:]
	if !includePartial || start == 0 {
		return suffix
	}

	leftover := maxTokens - used
	if leftover <= budgetFloor {
		return suffix
	}

	partial := truncateToFit(c, l.entries[start-1], leftover)
	if partial == nil {
		return suffix
	}

	out := make([]*core.Entry, 0, len(suffix)+1)
	out = append(out, partial)
	return append(out, suffix...)
}

// truncateToFit clones the candidate and strips fixed-size chunks off its
// head until the marked remainder fits the budget. Returns nil when the
// remainder becomes too short to be worth including. The loop is bounded:
// every attempt shortens the text.
func truncateToFit(c Coster, candidate *core.Entry, budget int) *core.Entry {
	clone := candidate.Clone()
	text := []rune(clone.Content)
	for {
		if len(text) <= truncateStep {
			return nil
		}
		text = text[truncateStep:]
		if len(text) <= minPartialChars {
			return nil
		}
		clone.Content = TruncationMark + string(text)
		cost := c.Count(clone.Content)
		if cost <= budget {
			clone.NumTokens = cost
			clone.FixedTokens = true
			return clone
		}
	}
}

// TimestampIndex maps entry timestamps back to history positions. Entries
// without timestamps (legacy records) are not indexed.
type TimestampIndex struct {
	millis    []int64
	positions []int
}

// BuildTimestampIndex derives the ordered timestamp array from the log.
// History is chronological, so the derived array is already sorted.
func (l *Log) BuildTimestampIndex() *TimestampIndex {
	idx := &TimestampIndex{}
	for i, e := range l.entries {
		if e.Timestamp == nil {
			continue
		}
		idx.millis = append(idx.millis, e.Timestamp.UnixMilli())
		idx.positions = append(idx.positions, i)
	}
	return idx
}

// Position binary-searches for an exact timestamp match and returns the
// history position it maps to. Stale or foreign timestamps return false.
func (idx *TimestampIndex) Position(ts time.Time) (int, bool) {
	want := ts.UnixMilli()
	i := sort.Search(len(idx.millis), func(j int) bool {
		return idx.millis[j] >= want
	})
	if i < len(idx.millis) && idx.millis[i] == want {
		return idx.positions[i], true
	}
	return 0, false
}
