// Package analytics turns timed transcript segments into speaking-rate, pause
// and rhythm metrics with scenario-aware speed categories.
package analytics

import (
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"speech-analytics-service/internal/models"
	"speech-analytics-service/internal/observability/logging"
	"speech-analytics-service/internal/service/scenario"
)

// Input is one flush worth of transcription output.
type Input struct {
	Segments      []models.Segment
	TotalDuration float64 // seconds of audio that produced Segments
	Scenario      string
	Language      string
}

// Engine computes speech metrics. It is stateless apart from the read-only
// policy table and is safe for concurrent use.
type Engine struct {
	table  *scenario.Table
	logger zerolog.Logger
}

// NewEngine creates an engine backed by table.
func NewEngine(table *scenario.Table) *Engine {
	return &Engine{
		table:  table,
		logger: logging.WithComponent("analytics"),
	}
}

// Compute derives metrics for in. It never fails: empty input or a
// non-positive duration yields a zero-valued no_data result.
func (e *Engine) Compute(in Input) models.Analysis {
	if len(in.Segments) == 0 || in.TotalDuration <= 0 {
		return emptyAnalysis(in.TotalDuration)
	}

	countSyllables := CanCountSyllables(in.Language)

	rates := make([]models.SegmentRate, 0, len(in.Segments))
	var (
		speechDuration float64
		totalWords     int
		totalSyllables int
		validWPM       []float64
	)
	for _, seg := range in.Segments {
		r := segmentRate(seg, in.Language, countSyllables)
		rates = append(rates, r)
		speechDuration += r.Duration
		totalWords += r.Words
		totalSyllables += r.Syllables
		if r.WPM > 0 {
			validWPM = append(validWPM, r.WPM)
		}
	}

	pauses := pauseList(in.Segments)
	pm := summarisePauses(pauses)

	density := speechDuration / in.TotalDuration
	clamped := false
	if density > 1 {
		e.logger.Warn().
			Float64("speechDuration", speechDuration).
			Float64("totalDuration", in.TotalDuration).
			Msg("Segment durations exceed audio duration, clamping speech density")
		density = 1
		clamped = true
	}
	pauseRatio := math.Min(pm.Total/in.TotalDuration, 1)

	variability := summariseRates(validWPM)
	pattern := classifySpeech(pauseRatio, pm.Pattern, density, variability.CV)

	wpmTotal := float64(totalWords) / in.TotalDuration * 60
	wpmActive := 0.0
	if speechDuration > 0 {
		wpmActive = float64(totalWords) / speechDuration * 60
	}

	evaluation := variability.Mean
	if pattern == models.PatternStaccato || pattern == models.PatternVerySparse {
		evaluation = variability.Median
	}
	if len(validWPM) == 0 {
		evaluation = wpmTotal
	}

	thresholds := e.table.Thresholds(in.Scenario, in.Language)

	out := models.Analysis{
		Speech: models.SpeechMetrics{
			TotalDuration:  in.TotalDuration,
			SpeechDuration: speechDuration,
			PauseDuration:  pm.Total,
			TotalWords:     totalWords,
			WPMTotal:       wpmTotal,
			WPMActive:      wpmActive,
			EvaluationWPM:  evaluation,
			SpeechDensity:  density,
			DensityClamped: clamped,
			PauseTimeRatio: pauseRatio,
			PauseMetrics:   pm,
			SpeechPattern:  pattern,
			SpeedCategory:  thresholds.Category(evaluation),
			SegmentRates:   rates,
		},
		Variability: variability,
	}

	if countSyllables {
		sm := &models.SyllableMetrics{
			TotalSyllables:     totalSyllables,
			SyllablesPerSecond: float64(totalSyllables) / in.TotalDuration,
			SyllablesPerMinute: float64(totalSyllables) / in.TotalDuration * 60,
		}
		if speechDuration > 0 {
			sm.ActiveSyllablesPerMinute = float64(totalSyllables) / speechDuration * 60
		}
		out.Syllables = sm
	}
	return out
}

func emptyAnalysis(totalDuration float64) models.Analysis {
	if totalDuration < 0 {
		totalDuration = 0
	}
	return models.Analysis{
		Speech: models.SpeechMetrics{
			TotalDuration: totalDuration,
			PauseMetrics: models.PauseMetrics{
				Pauses:  []float64{},
				Pattern: models.PauseNoPause,
			},
			SpeechPattern: models.PatternNoData,
			SpeedCategory: scenario.CategoryNoData,
			SegmentRates:  []models.SegmentRate{},
		},
	}
}

func segmentRate(seg models.Segment, language string, countSyllables bool) models.SegmentRate {
	d := seg.Duration()
	words := len(seg.Words)
	if words == 0 {
		words = CountWords(seg.Text)
	}
	r := models.SegmentRate{
		Start:    seg.Start,
		End:      seg.End,
		Duration: d,
		Words:    words,
	}
	if countSyllables {
		text := seg.Text
		if strings.TrimSpace(text) == "" && len(seg.Words) > 0 {
			parts := make([]string, len(seg.Words))
			for i, w := range seg.Words {
				parts[i] = w.Word
			}
			text = strings.Join(parts, " ")
		}
		r.Syllables = CountSyllables(text, language)
	}
	if d > 0 {
		r.WPM = float64(words) / d * 60
		r.SyllablesPerMinute = float64(r.Syllables) / d * 60
	}
	return r
}

// pauseList returns the positive gaps between adjacent segments.
func pauseList(segs []models.Segment) []float64 {
	pauses := make([]float64, 0, len(segs))
	for i := 0; i+1 < len(segs); i++ {
		if gap := segs[i+1].Start - segs[i].End; gap > 0 {
			pauses = append(pauses, gap)
		}
	}
	return pauses
}

func summarisePauses(pauses []float64) models.PauseMetrics {
	pm := models.PauseMetrics{Pauses: pauses, Count: len(pauses)}
	if len(pauses) == 0 {
		pm.Pattern = models.PauseNoPause
		return pm
	}
	pm.Min = pauses[0]
	for _, p := range pauses {
		pm.Total += p
		pm.Max = math.Max(pm.Max, p)
		pm.Min = math.Min(pm.Min, p)
	}
	pm.Average = pm.Total / float64(len(pauses))
	pm.Pattern = classifyPauses(pm.Average)
	return pm
}

func classifyPauses(mean float64) string {
	switch {
	case mean < 0.5:
		return models.PauseVeryShort
	case mean < 1.0:
		return models.PauseShort
	case mean < 2.0:
		return models.PauseNormal
	case mean < 3.0:
		return models.PauseLong
	default:
		return models.PauseVeryLong
	}
}

// classifySpeech applies the pattern rules in precedence order.
func classifySpeech(pauseRatio float64, pausePattern string, density, cv float64) string {
	switch {
	case pauseRatio > 0.5:
		return models.PatternVerySparse
	case (pausePattern == models.PauseLong || pausePattern == models.PauseVeryLong) && density < 0.6:
		return models.PatternStaccato
	case density > 0.8 && (pausePattern == models.PauseVeryShort || pausePattern == models.PauseShort || pausePattern == models.PauseNoPause):
		return models.PatternContinuous
	case cv < 0.2:
		return models.PatternSteady
	case cv > 0.4:
		return models.PatternVariable
	default:
		return models.PatternNormal
	}
}

// summariseRates computes mean, median, population std and CV.
func summariseRates(values []float64) models.VariabilityMetrics {
	vm := models.VariabilityMetrics{Samples: len(values)}
	if len(values) == 0 {
		return vm
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	vm.Mean = sum / float64(len(sorted))
	vm.Min = sorted[0]
	vm.Max = sorted[len(sorted)-1]

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		vm.Median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		vm.Median = sorted[mid]
	}

	var sq float64
	for _, v := range sorted {
		sq += (v - vm.Mean) * (v - vm.Mean)
	}
	vm.Std = math.Sqrt(sq / float64(len(sorted)))
	if vm.Mean > 0 {
		vm.CV = vm.Std / vm.Mean
	}
	return vm
}
