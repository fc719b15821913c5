package analytics

import (
	"strings"
	"unicode"

	"speech-analytics-service/internal/service/scenario"
)

const (
	hangulSyllableFirst = 0xAC00
	hangulSyllableLast  = 0xD7A3
)

// CountWords returns the number of whitespace-separated tokens in text that
// contain at least one letter or digit.
func CountWords(text string) int {
	n := 0
	for _, tok := range strings.Fields(text) {
		if strings.IndexFunc(tok, isWordRune) >= 0 {
			n++
		}
	}
	return n
}

// CanCountSyllables reports whether CountSyllables has a counting rule for
// language.
func CanCountSyllables(language string) bool {
	switch scenario.NormalizeLanguage(language) {
	case "ko", "en":
		return true
	default:
		return false
	}
}

// CountSyllables counts syllables in text. Hangul syllable blocks count one
// each; Latin words are counted by vowel groups with a silent final "e".
// Korean text that embeds Latin words gets both rules.
func CountSyllables(text, language string) int {
	lang := scenario.NormalizeLanguage(language)
	total := 0
	for _, tok := range strings.Fields(text) {
		hangul := 0
		var latin strings.Builder
		for _, r := range tok {
			switch {
			case r >= hangulSyllableFirst && r <= hangulSyllableLast:
				hangul++
			case r < unicode.MaxASCII && unicode.IsLetter(r):
				latin.WriteRune(unicode.ToLower(r))
			}
		}
		if lang == "ko" || hangul > 0 {
			total += hangul
		}
		if latin.Len() > 0 {
			total += latinSyllables(latin.String())
		}
	}
	return total
}

// latinSyllables approximates English syllables for a lower-case ASCII word.
func latinSyllables(word string) int {
	count := 0
	prevVowel := false
	for _, r := range word {
		v := isVowel(r)
		if v && !prevVowel {
			count++
		}
		prevVowel = v
	}
	if count > 1 && strings.HasSuffix(word, "e") && !strings.HasSuffix(word, "le") {
		count--
	}
	if count == 0 {
		count = 1
	}
	return count
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u', 'y':
		return true
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
