// Package sanitize cleans user-supplied strings before they are stored or
// echoed back. Uses bluemonday's strict policy so that markup smuggled into
// names (upload filenames, form fields) never survives as HTML.
package sanitize

import (
	"html"
	"path"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// policy is the singleton bluemonday policy. StrictPolicy allows no elements
// or attributes at all.
var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

// getPolicy returns the shared policy, initializing it on first call.
func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// Text strips all HTML from input and returns plain text. Entities that
// bluemonday escapes on output are decoded again so "a&b" stays "a&b";
// templ escapes on render.
func Text(input string) string {
	if input == "" {
		return ""
	}
	return html.UnescapeString(getPolicy().Sanitize(input))
}

// MaxFilenameLength is the longest filename (in bytes) Filename returns.
const MaxFilenameLength = 255

// Filename reduces a client-supplied upload name to a safe base name:
// directory components are dropped (both / and \ separators), HTML is
// stripped, whitespace runs become "_", control characters and leading dots
// are removed, and the result is capped at MaxFilenameLength bytes while
// keeping the extension. Returns "" when nothing usable remains.
func Filename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}

	name = Text(name)

	var b strings.Builder
	pendingSpace := false
	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
			continue
		case r == utf8.RuneError, unicode.IsControl(r), r == '/':
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingSpace = false
		b.WriteRune(r)
	}

	cleaned := strings.TrimLeft(b.String(), ".")
	return capLength(cleaned, MaxFilenameLength)
}

// capLength trims s to at most n bytes, preserving a short extension and
// never splitting a UTF-8 sequence.
func capLength(s string, n int) string {
	if len(s) <= n {
		return s
	}

	ext := path.Ext(s)
	if len(ext) > 16 {
		ext = ""
	}
	stem := s[:len(s)-len(ext)]
	cut := n - len(ext)
	for cut > 0 && !utf8.RuneStart(stem[cut]) {
		cut--
	}
	return stem[:cut] + ext
}
