// Package textutil holds the text rules shared by generation and history:
// user-perceived length, truncation and duplicate normalization.
package textutil

import (
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Ellipsis is appended to truncated text.
const Ellipsis = "…"

// Length returns the number of user-perceived characters (grapheme clusters).
func Length(s string) int {
	return uniseg.GraphemeClusterCount(s)
}

// Truncate shortens s to at most limit graphemes. When it has to cut, it backs
// up to the last word boundary in the second half of the kept text and appends
// an ellipsis.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if Length(s) <= limit {
		return s
	}
	keep := limit - 1 // room for the ellipsis
	if keep == 0 {
		return Ellipsis
	}

	cut := 0
	count := 0
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		if count == keep {
			break
		}
		_, cut = gr.Positions()
		count++
	}
	head := s[:cut]

	if i := strings.LastIndexFunc(head, unicode.IsSpace); i > len(head)/2 {
		head = head[:i]
	}
	head = strings.TrimRightFunc(head, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == ':' || r == '-'
	})
	return head + Ellipsis
}

var folder = cases.Fold()

// Normalize maps text to the form used for duplicate matching: NFKC, Unicode
// case folding, punctuation and symbols dropped, whitespace collapsed.
func Normalize(s string) string {
	s = folder.String(norm.NFKC.String(s))

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Mn, r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		default:
			// punctuation, symbols and control characters carry no meaning here
		}
	}
	return b.String()
}

// SameText reports whether a and b are equal under Normalize, or exactly equal.
func SameText(a, b string) bool {
	if a == b {
		return true
	}
	na := Normalize(a)
	return na != "" && na == Normalize(b)
}
