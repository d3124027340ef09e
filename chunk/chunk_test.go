package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDivideWordBoundaries(t *testing.T) {
	got := Divide("This is a test message", 10)
	assert.Equal(t, []string{"This is a", " test", " message"}, got)
}

func TestDivideshort(t *testing.T) {
	assert.Equal(t, []string{"hi"}, Divide("hi", 10))
	assert.Nil(t, Divide("", 10))
	assert.Nil(t, Divide("something", 0))
}

func TestDivideRespectsMaxLen(t *testing.T) {
	text := strings.Repeat("some words of varying length in here ", 50)
	for _, maxLen := range []int{10, 37, 100, 1999} {
		for _, frag := range Divide(text, maxLen) {
			assert.NotEmpty(t, frag)
			assert.LessOrEqual(t, len([]rune(frag)), maxLen, "maxLen %d", maxLen)
		}
	}
}

func TestDivideHardBreaksLongWords(t *testing.T) {
	got := Divide(strings.Repeat("x", 25), 10)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, got)
}

func TestDivideConcatReproducesInput(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog, twice on Sundays."
	got := Divide(text, 17)
	assert.Equal(t, text, strings.Join(got, ""))
}

func TestDivideIdempotent(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta epsilon ", 30)
	for _, maxLen := range []int{12, 40, 256} {
		first := Divide(text, maxLen)
		second := Divide(strings.Join(first, ""), maxLen)
		assert.Equal(t, first, second, "maxLen %d", maxLen)
	}
}

func TestDivideFenceBalance(t *testing.T) {
	text := "intro words\n```go\n" + strings.Repeat("fmt.Println(\"hello\")\n", 20) + "```\nclosing words"
	frags := Divide(text, 120)
	require.Greater(t, len(frags), 1)

	for i, frag := range frags {
		count := strings.Count(frag, "```")
		assert.Zero(t, count%2, "fragment %d has unbalanced fences:\n%s", i, frag)
		assert.LessOrEqual(t, len([]rune(frag)), 120)
	}
}

func TestDivideFenceReopensWithLanguageTag(t *testing.T) {
	text := "```python\n" + strings.Repeat("print('line')\n", 30) + "```"
	frags := Divide(text, 100)
	require.Greater(t, len(frags), 1)

	for i, frag := range frags[1:] {
		if strings.Contains(frags[i], "```") && strings.Count(frags[i], "```")%2 == 0 {
			// Previous fragment was auto-closed mid-block, so this one must
			// reopen with the original tag.
			if strings.HasPrefix(frag, "```") {
				assert.True(t, strings.HasPrefix(frag, "```python\n"),
					"fragment %d should reopen with language tag:\n%s", i+1, frag)
			}
		}
	}

	// The interior fragments must both open and close.
	middle := frags[1 : len(frags)-1]
	for i, frag := range middle {
		assert.True(t, strings.HasPrefix(frag, "```python\n"), "middle fragment %d: %s", i, frag)
		assert.True(t, strings.HasSuffix(frag, "\n```"), "middle fragment %d: %s", i, frag)
	}
}

func TestDivideFenceDecorationStaysWithinMaxLen(t *testing.T) {
	text := "```go\n" + strings.Repeat("sum := a + b\nreturn sum\n", 3) + "```"
	frags := Divide(text, 16)
	require.Greater(t, len(frags), 1)

	for i, frag := range frags {
		assert.NotEmpty(t, frag)
		assert.LessOrEqual(t, len([]rune(frag)), 16, "fragment %d: %s", i, frag)
		assert.Zero(t, strings.Count(frag, "```")%2, "fragment %d: %s", i, frag)
	}
}

func TestDivideFenceLongLanguageTag(t *testing.T) {
	const tag = "objective-c-modified"
	text := "```" + tag + "\n" + strings.Repeat("call one two three four five six seven\n", 4) + "```"
	frags := Divide(text, 60)
	require.Greater(t, len(frags), 2)

	for i, frag := range frags {
		assert.LessOrEqual(t, len([]rune(frag)), 60, "fragment %d: %s", i, frag)
		assert.Zero(t, strings.Count(frag, "```")%2, "fragment %d: %s", i, frag)
	}
	for i, frag := range frags[1 : len(frags)-1] {
		assert.True(t, strings.HasPrefix(frag, "```"+tag+"\n"), "middle fragment %d: %s", i, frag)
		assert.True(t, strings.HasSuffix(frag, "\n```"), "middle fragment %d: %s", i, frag)
	}
}
