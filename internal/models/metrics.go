package models

// Pause patterns.
const (
	PauseNoPause   = "no_pause"
	PauseVeryShort = "very_short"
	PauseShort     = "short"
	PauseNormal    = "normal"
	PauseLong      = "long"
	PauseVeryLong  = "very_long"
)

// Speech patterns.
const (
	PatternNoData     = "no_data"
	PatternVerySparse = "very_sparse"
	PatternStaccato   = "staccato"
	PatternContinuous = "continuous"
	PatternSteady     = "steady"
	PatternVariable   = "variable"
	PatternNormal     = "normal"
)

// SegmentRate is the speaking rate of a single transcript segment.
type SegmentRate struct {
	Start              float64 `json:"start"`
	End                float64 `json:"end"`
	Duration           float64 `json:"duration"`
	Words              int     `json:"words"`
	WPM                float64 `json:"wpm"`
	Syllables          int     `json:"syllables"`
	SyllablesPerMinute float64 `json:"syllablesPerMinute"`
}

// PauseMetrics summarises the gaps between consecutive segments.
type PauseMetrics struct {
	Count   int       `json:"count"`
	Total   float64   `json:"total"`
	Average float64   `json:"average"`
	Max     float64   `json:"max"`
	Min     float64   `json:"min"`
	Pauses  []float64 `json:"pauses"`
	Pattern string    `json:"pattern"`
}

// SpeechMetrics is the rate, pause and pattern summary of one flush.
type SpeechMetrics struct {
	TotalDuration  float64       `json:"totalDuration"`
	SpeechDuration float64       `json:"speechDuration"`
	PauseDuration  float64       `json:"pauseDuration"`
	TotalWords     int           `json:"totalWords"`
	WPMTotal       float64       `json:"wpmTotal"`
	WPMActive      float64       `json:"wpmActive"`
	EvaluationWPM  float64       `json:"evaluationWpm"`
	SpeechDensity  float64       `json:"speechDensity"`
	DensityClamped bool          `json:"densityClamped"`
	PauseTimeRatio float64       `json:"pauseTimeRatio"`
	PauseMetrics   PauseMetrics  `json:"pauseMetrics"`
	SpeechPattern  string        `json:"speechPattern"`
	SpeedCategory  string        `json:"speedCategory"`
	SegmentRates   []SegmentRate `json:"segmentRates"`
}

// VariabilityMetrics describes the spread of per-segment WPM values.
type VariabilityMetrics struct {
	Mean    float64 `json:"mean"`
	Median  float64 `json:"median"`
	Std     float64 `json:"std"`
	CV      float64 `json:"cv"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Samples int     `json:"samples"`
}

// SyllableMetrics is reported for languages with a syllable counting rule.
type SyllableMetrics struct {
	TotalSyllables           int     `json:"totalSyllables"`
	SyllablesPerSecond       float64 `json:"syllablesPerSecond"`
	SyllablesPerMinute       float64 `json:"syllablesPerMinute"`
	ActiveSyllablesPerMinute float64 `json:"activeSyllablesPerMinute"`
}

// Analysis bundles everything the metrics engine derives from one flush.
type Analysis struct {
	Speech      SpeechMetrics      `json:"speechMetrics"`
	Variability VariabilityMetrics `json:"variabilityMetrics"`
	Syllables   *SyllableMetrics   `json:"syllableMetrics,omitempty"`
}
