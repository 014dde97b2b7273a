// Package htmlsanitize reduces user-supplied text to plain text before it
// is stored.
package htmlsanitize

import (
	"html"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictOnce sync.Once
	strict     *bluemonday.Policy
)

func policy() *bluemonday.Policy {
	strictOnce.Do(func() {
		strict = bluemonday.StrictPolicy()
	})
	return strict
}

// PlainText strips all markup from s, decodes entities left behind by the
// policy and trims surrounding whitespace.
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(policy().Sanitize(s)))
}

// Truncate limits s to at most max runes. A max below 1 returns s unchanged.
func Truncate(s string, max int) string {
	if max < 1 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
