package flow

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Speech trigger patterns support three forms, combinable:
//
//   - plain keyword:  "pump"        matches as a whole word
//   - wildcard:       "*pump*"      '*' matches any run of characters
//   - alternation:    "pump|inflate" matches if any alternative matches
//
// Matching is case-insensitive and Unicode-normalized: both pattern and
// content are NFC-normalized and case-folded before comparison, so authored
// patterns behave the same regardless of input method or platform.

var foldCaser = cases.Fold()

// canonicalize normalizes text for matching: NFC then case fold.
func canonicalize(s string) string {
	return foldCaser.String(norm.NFC.String(s))
}

// MatchPattern reports whether a single pattern matches the content.
func MatchPattern(pattern, content string) bool {
	pattern = canonicalize(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}
	content = canonicalize(content)

	for _, alt := range strings.Split(pattern, "|") {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			continue
		}
		if matchAlternative(alt, content) {
			return true
		}
	}
	return false
}

// MatchAny reports whether any of the patterns matches the content.
// An empty pattern list matches nothing; the dispatcher treats a trigger
// with no keywords as match-all separately.
func MatchAny(patterns []string, content string) bool {
	for _, p := range patterns {
		if MatchPattern(p, content) {
			return true
		}
	}
	return false
}

// matchAlternative matches one canonicalized alternative against
// canonicalized content.
func matchAlternative(alt, content string) bool {
	if strings.Contains(alt, "*") {
		return matchWildcard(alt, content)
	}
	return containsWord(content, alt)
}

// matchWildcard implements '*' glob matching: the literal segments between
// stars must appear in the content in order. A leading/trailing star frees
// the respective anchor.
func matchWildcard(pattern, content string) bool {
	segs := strings.Split(pattern, "*")

	// Anchor at start unless pattern begins with '*'.
	if segs[0] != "" {
		if !strings.HasPrefix(content, segs[0]) {
			return false
		}
		content = content[len(segs[0]):]
	}
	segs = segs[1:]
	if len(segs) == 0 {
		return true
	}

	// Last segment anchors at end unless pattern ends with '*'.
	last := segs[len(segs)-1]
	middle := segs[:len(segs)-1]

	for _, seg := range middle {
		if seg == "" {
			continue
		}
		idx := strings.Index(content, seg)
		if idx < 0 {
			return false
		}
		content = content[idx+len(seg):]
	}

	if last == "" {
		return true
	}
	return strings.HasSuffix(content, last)
}

// containsWord reports whether content contains word bounded by non-letter,
// non-digit runes (or the string ends).
func containsWord(content, word string) bool {
	for start := 0; ; {
		idx := strings.Index(content[start:], word)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(word)

		r1, _ := utf8.DecodeLastRuneInString(content[:idx])
		r2, _ := utf8.DecodeRuneInString(content[end:])
		beforeOK := idx == 0 || isBoundary(r1)
		afterOK := end == len(content) || isBoundary(r2)
		if beforeOK && afterOK {
			return true
		}
		start = idx + 1
		if start >= len(content) {
			return false
		}
	}
}

func isBoundary(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
