package scenario

// DefaultPolicies returns the built-in policy set for the three scenarios.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		Dating: {
			BeamSize: 5,
			VAD:      VADParameters{MinSilenceDurationMs: 500, MinSpeechDurationMs: 200, Threshold: 0.6},
			Speed: map[string]SpeedThresholds{
				"ko": {VerySlow: 60, Slow: 70, Normal: 100, Fast: 120, VeryFast: 120},
				"en": {VerySlow: 80, Slow: 100, Normal: 130, Fast: 150, VeryFast: 150},
			},
			EmotionWeights: map[string]float64{
				"happy": 1.2, "neutral": 1.1, "angry": 0.8, "sad": 0.9, "fearful": 0.8, "confused": 0.9,
			},
		},
		Interview: {
			BeamSize: 10,
			VAD:      VADParameters{MinSilenceDurationMs: 1000, MinSpeechDurationMs: 300, Threshold: 0.7},
			Speed: map[string]SpeedThresholds{
				"ko": {VerySlow: 50, Slow: 65, Normal: 95, Fast: 110, VeryFast: 110},
				"en": {VerySlow: 70, Slow: 90, Normal: 120, Fast: 140, VeryFast: 140},
			},
			EmotionWeights: map[string]float64{
				"neutral": 1.3, "happy": 1.1, "angry": 0.6, "fearful": 0.8, "confused": 0.7, "sad": 0.7,
			},
		},
		Presentation: {
			BeamSize: 5,
			VAD:      VADParameters{MinSilenceDurationMs: 800, MinSpeechDurationMs: 250, Threshold: 0.75},
			Speed: map[string]SpeedThresholds{
				"ko": {VerySlow: 65, Slow: 75, Normal: 105, Fast: 120, VeryFast: 120},
				"en": {VerySlow: 90, Slow: 110, Normal: 140, Fast: 160, VeryFast: 160},
			},
			EmotionWeights: map[string]float64{
				"neutral": 1.2, "happy": 1.1, "angry": 0.7, "fearful": 0.8, "confused": 0.8, "sad": 0.8,
			},
		},
	}
}

// DefaultTable returns the built-in table with presentation/ko as fallback.
func DefaultTable() *Table {
	t, err := NewTable(DefaultPolicies(), Presentation, "ko")
	if err != nil {
		panic(err)
	}
	return t
}
