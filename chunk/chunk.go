// Package chunk splits arbitrary-length text into bounded-size fragments
// for incremental delivery. Breaks prefer whitespace over mid-word cuts,
// and triple-backtick code fences left open at a fragment boundary are
// auto-closed and reopened (with the same language tag) so every fragment
// is independently well-formed.
package chunk

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const fenceMark = "```"

// Divide splits text into an ordered sequence of non-empty fragments, each
// at most maxLen characters. It is a pure function: concatenating the
// fragments of fence-free input reproduces the input exactly.
func Divide(text string, maxLen int) []string {
	if text == "" || maxLen <= 0 {
		return nil
	}

	effective := maxLen
	if strings.Contains(text, fenceMark) {
		// A fragment cut mid-fence gains a reopening "```tag\n" prefix
		// and a closing "\n```" suffix, so the split size must leave room
		// for both. When maxLen is smaller than the decoration itself the
		// length bound cannot be met; fragments stay well-formed and run
		// over instead.
		reserve := 2*len(fenceMark) + longestFenceTag(text) + 2
		effective = maxLen - reserve
		if effective < 1 {
			effective = 1
		}
	}

	return balanceFences(splitAtWhitespace(text, effective))
}

// longestFenceTag reports the rune length of the longest language tag on
// any opening fence in text.
func longestFenceTag(text string) int {
	longest := 0
	open := false
	for {
		i := strings.Index(text, fenceMark)
		if i < 0 {
			return longest
		}
		text = text[i+len(fenceMark):]
		open = !open
		if open {
			tag := text
			if nl := strings.IndexByte(tag, '\n'); nl >= 0 {
				tag = tag[:nl]
			}
			if n := utf8.RuneCountInString(strings.TrimSpace(tag)); n > longest {
				longest = n
			}
		}
	}
}

// splitAtWhitespace cuts text into fragments of at most maxLen runes,
// moving each cut back to the last whitespace in the window unless that
// would discard almost the entire fragment, in which case the word is
// split at maxLen.
func splitAtWhitespace(text string, maxLen int) []string {
	r := []rune(text)
	var frags []string
	for len(r) > maxLen {
		cut := maxLen
		minKeep := maxLen / 10
		for i := maxLen - 1; i > 0; i-- {
			if unicode.IsSpace(r[i]) {
				if i >= minKeep {
					cut = i
				}
				break
			}
		}
		frags = append(frags, string(r[:cut]))
		r = r[cut:]
	}
	if len(r) > 0 {
		frags = append(frags, string(r))
	}
	return frags
}

// balanceFences walks the fragment sequence tracking fence state. A
// fragment that ends inside a fence is closed at its end, and the next
// fragment is reopened with the language tag in effect.
func balanceFences(frags []string) []string {
	out := make([]string, 0, len(frags))
	open := false
	lang := ""
	for _, f := range frags {
		if open {
			f = fenceMark + lang + "\n" + f
		}
		open, lang = scanFences(f, lang)
		if open {
			f += "\n" + fenceMark
		}
		out = append(out, f)
	}
	return out
}

// scanFences toggles fence state across every marker in s, capturing the
// language tag each time a fence opens.
func scanFences(s, lang string) (bool, string) {
	open := false
	for {
		i := strings.Index(s, fenceMark)
		if i < 0 {
			return open, lang
		}
		s = s[i+len(fenceMark):]
		open = !open
		if open {
			tag := s
			if nl := strings.IndexByte(tag, '\n'); nl >= 0 {
				tag = tag[:nl]
			}
			lang = strings.TrimSpace(tag)
		}
	}
}
