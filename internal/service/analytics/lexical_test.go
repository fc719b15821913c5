package analytics

import "testing"

func TestCountWords(t *testing.T) {
	tests := []struct {
		text     string
		expected int
	}{
		{"", 0},
		{"hello, world !", 2},
		{"  안녕하세요   반갑습니다 ", 2},
		{"v2 release - done", 3},
	}
	for _, tt := range tests {
		if got := CountWords(tt.text); got != tt.expected {
			t.Errorf("CountWords(%q) = %d, want %d", tt.text, got, tt.expected)
		}
	}
}

func TestCountSyllables(t *testing.T) {
	tests := []struct {
		text     string
		lang     string
		expected int
	}{
		{"안녕하세요", "ko", 5},
		{"안녕 hello", "ko", 4},
		{"hello", "en", 2},
		{"make", "en", 1},
		{"table", "en", 2},
		{"the rhythm", "en", 2},
	}
	for _, tt := range tests {
		if got := CountSyllables(tt.text, tt.lang); got != tt.expected {
			t.Errorf("CountSyllables(%q, %s) = %d, want %d", tt.text, tt.lang, got, tt.expected)
		}
	}
}

func TestCanCountSyllables(t *testing.T) {
	if !CanCountSyllables("KO") || !CanCountSyllables("en-US") {
		t.Error("expected ko and en to be countable")
	}
	if CanCountSyllables("fr") {
		t.Error("expected fr to be uncountable")
	}
}
