// Package tokens provides token accounting for prompt budgeting. The
// accountant prefers an exact subword tokenization and degrades to a
// deterministic word-count heuristic when the tokenizer is unavailable or
// fails on a given input. It never returns an error.
package tokens

import (
	"strings"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"github.com/keelworks/convene/core"
	"github.com/keelworks/convene/metrics"
)

// Counter estimates the token cost of a text fragment. The result is
// always >= 0.
type Counter interface {
	Count(text string) int
}

const (
	// defaultEncoding is the BPE vocabulary used for exact counts.
	defaultEncoding = "cl100k_base"

	// fallbackTokensPerWord is the empirical ratio used by the degraded
	// heuristic when exact tokenization is unavailable.
	fallbackTokensPerWord = 2.3

	// maxFallbackWarnings bounds fallback log noise. Beyond this the
	// counter still increments but nothing further is logged.
	maxFallbackWarnings = 5
)

// Accountant is the Counter implementation used throughout the engine.
// It is safe for concurrent use. Callers should memoize per-entry costs
// via EntryCost rather than recounting content on every assembly.
type Accountant struct {
	enc      *tiktoken.Tiktoken
	log      zerolog.Logger
	warnings atomic.Int64
}

// Option configures an Accountant.
type Option func(*Accountant)

// WithLogger sets the accountant's logger. The default discards output.
func WithLogger(log zerolog.Logger) Option {
	return func(a *Accountant) {
		a.log = log
	}
}

// NewAccountant creates an accountant backed by the cl100k_base encoding.
// If the encoding cannot be loaded the accountant still works, using the
// heuristic for every count.
func NewAccountant(opts ...Option) *Accountant {
	a := &Accountant{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(a)
	}

	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		a.log.Warn().Err(err).
			Str("encoding", defaultEncoding).
			Msg("exact tokenizer unavailable, using heuristic counts")
	} else {
		a.enc = enc
	}
	return a
}

// Count returns the token cost of text.
func (a *Accountant) Count(text string) int {
	if text == "" {
		return 0
	}
	if a.enc != nil {
		if n, ok := a.exact(text); ok {
			return n
		}
	}
	return a.approximate(text)
}

// EntryCost returns the token cost of a history entry's content, memoizing
// the result on the entry. Once FixedTokens is set the stored value is
// authoritative and is never recomputed.
func (a *Accountant) EntryCost(e *core.Entry) int {
	if e.FixedTokens {
		return e.NumTokens
	}
	e.NumTokens = a.Count(e.Content)
	e.FixedTokens = true
	return e.NumTokens
}

// exact counts with the BPE encoder. A panicking encoder is treated as a
// failed count, not a crash.
func (a *Accountant) exact(text string) (n int, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.noteFallback(r)
			n, ok = 0, false
		}
	}()
	return len(a.enc.Encode(text, nil, nil)), true
}

func (a *Accountant) approximate(text string) int {
	metrics.TokenizerFallbacks.Inc()
	words := len(strings.Fields(text))
	return int(float64(words) * fallbackTokensPerWord)
}

func (a *Accountant) noteFallback(cause any) {
	n := a.warnings.Add(1)
	if n > maxFallbackWarnings {
		return
	}
	evt := a.log.Warn().Interface("cause", cause)
	if n == maxFallbackWarnings {
		evt = evt.Bool("suppressing_further", true)
	}
	evt.Msg("exact tokenization failed, falling back to heuristic")
}
