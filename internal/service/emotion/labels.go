// Package emotion wraps the external emotion classifier and adjusts its
// probability vector with scenario multipliers.
package emotion

// Emotion labels produced by the classifier.
const (
	Angry    = "angry"
	Confused = "confused"
	Fearful  = "fearful"
	Happy    = "happy"
	Neutral  = "neutral"
	Sad      = "sad"
)

// Labels is the fixed label set in canonical order.
var Labels = []string{Angry, Confused, Fearful, Happy, Neutral, Sad}

var koreanLabels = map[string]string{
	Angry:    "분노",
	Confused: "당황",
	Fearful:  "불안",
	Happy:    "기쁨",
	Neutral:  "중립",
	Sad:      "슬픔",
}

// KoreanLabel returns the localized label, or label itself when unknown.
func KoreanLabel(label string) string {
	if kr, ok := koreanLabels[label]; ok {
		return kr
	}
	return label
}
