package stt

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultHallucinationPhrases are sign-off phrases whisper-family models
// tend to emit on silence or music.
var DefaultHallucinationPhrases = []string{
	"시청해주셔서 감사합니다",
	"시청해 주셔서 감사합니다",
	"구독과 좋아요 부탁드립니다",
	"구독과 좋아요",
	"MBC 뉴스",
	"Thanks for watching",
	"Thank you for watching",
	"Please subscribe",
}

// HallucinationFilter removes configured phrases from transcribed text.
type HallucinationFilter struct {
	phrases []string
}

// NewHallucinationFilter builds a filter. Empty phrases are dropped; longer
// phrases are matched first so a phrase is never partly removed by a prefix.
func NewHallucinationFilter(phrases []string) *HallucinationFilter {
	f := &HallucinationFilter{}
	for _, p := range phrases {
		if p = strings.TrimSpace(p); p != "" {
			f.phrases = append(f.phrases, p)
		}
	}
	sort.SliceStable(f.phrases, func(i, j int) bool {
		return utf8.RuneCountInString(f.phrases[i]) > utf8.RuneCountInString(f.phrases[j])
	})
	return f
}

// Apply returns text with every occurrence of every phrase removed, matched
// case-insensitively, and whitespace collapsed. Text without a match is
// returned unchanged.
func (f *HallucinationFilter) Apply(text string) string {
	if f == nil || len(f.phrases) == 0 || text == "" {
		return text
	}
	out := text
	changed := false
	for _, p := range f.phrases {
		var removed bool
		out, removed = removeFold(out, p)
		changed = changed || removed
	}
	if !changed {
		return text
	}
	return strings.Join(strings.Fields(out), " ")
}

// removeFold deletes all case-insensitive occurrences of phrase from s,
// preserving the case of the surrounding text.
func removeFold(s, phrase string) (string, bool) {
	lowerPhrase := []rune(strings.ToLower(phrase))
	runes := []rune(s)
	var b strings.Builder
	removed := false
	for i := 0; i < len(runes); {
		if matchFold(runes[i:], lowerPhrase) {
			i += len(lowerPhrase)
			removed = true
			continue
		}
		b.WriteRune(runes[i])
		i++
	}
	return b.String(), removed
}

func matchFold(s, lowerPhrase []rune) bool {
	if len(s) < len(lowerPhrase) {
		return false
	}
	for i, r := range lowerPhrase {
		if unicode.ToLower(s[i]) != r {
			return false
		}
	}
	return true
}

// IsEmpty reports whether text has no letters or digits left.
func IsEmpty(text string) bool {
	return strings.IndexFunc(text, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) < 0
}
