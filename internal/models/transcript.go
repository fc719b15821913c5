// Package models defines the data exchanged between the transcription
// collaborator, the analytics engine and WebSocket clients.
package models

// Word is a word-level sub-segment with audio-relative offsets in seconds.
type Word struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// Segment is one timed piece of transcribed text. Offsets are seconds
// relative to the start of the flushed audio.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// Duration returns End-Start, or zero when the offsets are inverted.
func (s Segment) Duration() float64 {
	if d := s.End - s.Start; d > 0 {
		return d
	}
	return 0
}
