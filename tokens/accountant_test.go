package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/keelworks/convene/core"
)

func TestCountEmpty(t *testing.T) {
	a := NewAccountant()
	assert.Equal(t, 0, a.Count(""))
}

func TestCountNonEmpty(t *testing.T) {
	a := NewAccountant()
	n := a.Count("the quick brown fox jumps over the lazy dog")
	assert.Greater(t, n, 0)

	// Cost grows with input regardless of which path counted it.
	longer := a.Count(strings.Repeat("the quick brown fox jumps over the lazy dog ", 10))
	assert.Greater(t, longer, n)
}

func TestApproximateRatio(t *testing.T) {
	a := &Accountant{} // no encoder: heuristic only
	// 10 words * 2.3 tokens/word = 23.
	text := strings.TrimSpace(strings.Repeat("word ", 10))
	assert.Equal(t, 23, a.Count(text))
}

func TestEntryCostMemoizes(t *testing.T) {
	a := NewAccountant()
	e := &core.Entry{Content: "hello world again"}

	first := a.EntryCost(e)
	assert.True(t, e.FixedTokens)
	assert.Equal(t, first, e.NumTokens)

	// Once fixed, the stored cost is authoritative even if content-derived
	// counts would differ.
	e.NumTokens = 1234
	assert.Equal(t, 1234, a.EntryCost(e))
}

func TestFixedTokensNotRecomputed(t *testing.T) {
	a := NewAccountant()
	e := &core.Entry{Content: "some content", NumTokens: 77, FixedTokens: true}
	assert.Equal(t, 77, a.EntryCost(e))
}
