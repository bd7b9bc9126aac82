package search

import "unicode"

// DefaultSnippetLength is the number of characters of context around a match.
const DefaultSnippetLength = 150

const ellipsis = "..."

// Snippet returns the window of content around the first case-insensitive
// occurrence of query: ctxLen/2 characters on each side, with "..." marking
// each side that does not reach the text boundary. Without an occurrence it
// returns the first ctxLen characters. Lengths count runes.
func Snippet(content, query string, ctxLen int) string {
	text := []rune(content)
	pos := indexFold(text, []rune(query))
	if pos < 0 {
		if len(text) <= ctxLen {
			return content
		}
		return string(text[:ctxLen]) + ellipsis
	}

	qLen := len([]rune(query))
	start := max(0, pos-ctxLen/2)
	end := min(len(text), pos+qLen+ctxLen/2)

	out := string(text[start:end])
	if start > 0 {
		out = ellipsis + out
	}
	if end < len(text) {
		out += ellipsis
	}
	return out
}

// indexFold is a rune-aligned case-insensitive index; -1 when absent or when
// needle is empty.
func indexFold(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
	n := lower(needle)
	h := lower(haystack)
outer:
	for i := 0; i+len(n) <= len(h); i++ {
		for j := range n {
			if h[i+j] != n[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

func lower(rs []rune) []rune {
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = unicode.ToLower(r)
	}
	return out
}

// containsFold reports whether needle occurs in haystack ignoring case.
func containsFold(haystack, needle string) bool {
	return indexFold([]rune(haystack), []rune(needle)) >= 0
}
