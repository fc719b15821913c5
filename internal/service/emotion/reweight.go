package emotion

import (
	"sort"

	"github.com/rs/zerolog"

	"speech-analytics-service/internal/observability/logging"
	"speech-analytics-service/internal/service/scenario"
)

// Prediction is one ranked label.
type Prediction struct {
	Emotion     string  `json:"emotion"`
	EmotionKR   string  `json:"emotionKr"`
	Confidence  float64 `json:"confidence"`
	Probability float64 `json:"probability"`
}

// Analysis is the emotion result attached to a transcription.
type Analysis struct {
	PrimaryEmotion  Prediction   `json:"primaryEmotion"`
	Emotions        []Prediction `json:"emotions"`
	TopEmotions     []Prediction `json:"topEmotions"`
	Scenario        string       `json:"scenario"`
	ScenarioApplied bool         `json:"scenarioApplied"`
	ModelUsed       string       `json:"modelUsed"`
}

// Normalize returns probs scaled to sum to 1. Negative entries count as 0;
// an all-zero vector becomes uniform over its labels.
func Normalize(probs map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(probs))
	var sum float64
	for k, v := range probs {
		if v < 0 {
			v = 0
		}
		out[k] = v
		sum += v
	}
	if len(out) == 0 {
		return out
	}
	if sum <= 0 {
		u := 1 / float64(len(out))
		for k := range out {
			out[k] = u
		}
		return out
	}
	for k, v := range out {
		out[k] = v / sum
	}
	return out
}

// Reweight multiplies each probability by its label's multiplier (missing
// labels use 1.0) and renormalizes.
func Reweight(probs, weights map[string]float64) map[string]float64 {
	scaled := make(map[string]float64, len(probs))
	for k, v := range probs {
		w, ok := weights[k]
		if !ok {
			w = 1
		}
		scaled[k] = v * w
	}
	return Normalize(scaled)
}

// Rank orders probs by descending probability, ties broken by label, and
// returns all entries plus the first topK. topK <= 0 returns all.
func Rank(probs map[string]float64, topK int) (all, top []Prediction) {
	all = make([]Prediction, 0, len(probs))
	for k, v := range probs {
		all = append(all, Prediction{Emotion: k, EmotionKR: KoreanLabel(k), Confidence: v, Probability: v})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Probability != all[j].Probability {
			return all[i].Probability > all[j].Probability
		}
		return all[i].Emotion < all[j].Emotion
	})
	if topK <= 0 || topK > len(all) {
		topK = len(all)
	}
	top = append([]Prediction(nil), all[:topK]...)
	return all, top
}

// Reweighter applies the policy table's emotion multipliers.
type Reweighter struct {
	table  *scenario.Table
	logger zerolog.Logger
}

// NewReweighter creates a reweighter over table.
func NewReweighter(table *scenario.Table) *Reweighter {
	return &Reweighter{table: table, logger: logging.WithComponent("emotion")}
}

// Apply reweights probs for scenarioName. An unknown scenario leaves the
// distribution as it is (normalized) and reports applied=false.
func (r *Reweighter) Apply(probs map[string]float64, scenarioName string) (out map[string]float64, applied bool) {
	if !r.table.Has(scenarioName) {
		r.logger.Warn().Str("scenario", scenarioName).Msg("Unknown scenario, emotion weights not applied")
		return Normalize(probs), false
	}
	p, _ := r.table.Lookup(scenarioName)
	return Reweight(probs, p.EmotionWeights), true
}

// Analyze reweights probs and builds the ranked result.
func (r *Reweighter) Analyze(probs map[string]float64, scenarioName string, topK int, model string) Analysis {
	weighted, applied := r.Apply(probs, scenarioName)
	all, top := Rank(weighted, topK)
	a := Analysis{
		Emotions:        all,
		TopEmotions:     top,
		Scenario:        scenarioName,
		ScenarioApplied: applied,
		ModelUsed:       model,
	}
	if len(all) > 0 {
		a.PrimaryEmotion = all[0]
	}
	return a
}
