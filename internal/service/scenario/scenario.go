// Package scenario holds the static per-scenario policy table: VAD sensitivity,
// beam size, speaking-rate thresholds per language and emotion multipliers.
//
// The table is built once at startup and is read-only afterwards. Lookups for
// an unknown scenario fall back to the table's default scenario.
package scenario

import (
	"fmt"
	"sort"
	"strings"
)

// Well-known scenario keys.
const (
	Dating       = "dating"
	Interview    = "interview"
	Presentation = "presentation"
)

// Speed categories, ordered from slowest to fastest.
const (
	CategoryNoData   = "no_data"
	CategoryVerySlow = "very_slow"
	CategorySlow     = "slow"
	CategoryNormal   = "normal"
	CategoryFast     = "fast"
	CategoryVeryFast = "very_fast"
)

// VADParameters tunes the collaborator's voice activity detector.
type VADParameters struct {
	MinSilenceDurationMs int     `yaml:"min_silence_duration_ms" json:"min_silence_duration_ms"`
	MinSpeechDurationMs  int     `yaml:"min_speech_duration_ms" json:"min_speech_duration_ms"`
	Threshold            float64 `yaml:"threshold" json:"threshold"`
}

// SpeedThresholds are words-per-minute boundaries, expected to satisfy
// VerySlow <= Slow <= Normal <= Fast <= VeryFast.
type SpeedThresholds struct {
	VerySlow float64 `yaml:"very_slow" json:"very_slow"`
	Slow     float64 `yaml:"slow" json:"slow"`
	Normal   float64 `yaml:"normal" json:"normal"`
	Fast     float64 `yaml:"fast" json:"fast"`
	VeryFast float64 `yaml:"very_fast" json:"very_fast"`
}

// Validate reports whether the boundaries are ordered.
func (t SpeedThresholds) Validate() error {
	b := []float64{t.VerySlow, t.Slow, t.Normal, t.Fast, t.VeryFast}
	if !sort.Float64sAreSorted(b) {
		return fmt.Errorf("speed thresholds not ordered: %v", b)
	}
	return nil
}

// Category maps a words-per-minute value onto a speed category. Each boundary
// is the lower edge of its band; the very_fast band starts strictly above its
// boundary so that Fast == VeryFast still leaves a fast band. Values below
// Slow are very_slow. A non-positive rate yields no_data.
func (t SpeedThresholds) Category(wpm float64) string {
	switch {
	case wpm <= 0:
		return CategoryNoData
	case wpm > t.VeryFast:
		return CategoryVeryFast
	case wpm >= t.Fast:
		return CategoryFast
	case wpm >= t.Normal:
		return CategoryNormal
	case wpm >= t.Slow:
		return CategorySlow
	default:
		return CategoryVerySlow
	}
}

// Policy is the immutable parameter set for one scenario. Maps must be
// treated as read-only by callers.
type Policy struct {
	Name           string                     `yaml:"-" json:"name"`
	BeamSize       int                        `yaml:"beam_size" json:"beam_size"`
	VAD            VADParameters              `yaml:"vad" json:"vad"`
	Speed          map[string]SpeedThresholds `yaml:"speed" json:"speed"`
	EmotionWeights map[string]float64         `yaml:"emotion_weights" json:"emotion_weights"`
}

// Table is a keyed set of policies with a documented fallback.
type Table struct {
	policies        map[string]Policy
	defaultScenario string
	baseLanguage    string
}

// NewTable builds a table from policies. defaultScenario must be present.
func NewTable(policies map[string]Policy, defaultScenario, baseLanguage string) (*Table, error) {
	if _, ok := policies[defaultScenario]; !ok {
		return nil, fmt.Errorf("default scenario %q not in table", defaultScenario)
	}
	t := &Table{
		policies:        make(map[string]Policy, len(policies)),
		defaultScenario: defaultScenario,
		baseLanguage:    NormalizeLanguage(baseLanguage),
	}
	for name, p := range policies {
		key := strings.ToLower(strings.TrimSpace(name))
		p.Name = key
		for lang, th := range p.Speed {
			if err := th.Validate(); err != nil {
				return nil, fmt.Errorf("scenario %s/%s: %w", key, lang, err)
			}
		}
		if p.BeamSize <= 0 {
			p.BeamSize = 5
		}
		t.policies[key] = p
	}
	if _, ok := t.policies[defaultScenario].Speed[t.baseLanguage]; !ok {
		return nil, fmt.Errorf("default scenario %q has no thresholds for base language %q", defaultScenario, t.baseLanguage)
	}
	return t, nil
}

// DefaultScenario is the scenario used for unknown keys.
func (t *Table) DefaultScenario() string { return t.defaultScenario }

// BaseLanguage is the language row used when a scenario has no row for the
// requested language.
func (t *Table) BaseLanguage() string { return t.baseLanguage }

// Has reports whether name is a configured scenario.
func (t *Table) Has(name string) bool {
	_, ok := t.policies[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Names returns the configured scenario keys in sorted order.
func (t *Table) Names() []string {
	out := make([]string, 0, len(t.policies))
	for k := range t.policies {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the policy for name. ok is false when name was unknown and
// the default scenario's policy was returned instead.
func (t *Table) Lookup(name string) (Policy, bool) {
	if p, ok := t.policies[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p, true
	}
	return t.policies[t.defaultScenario], false
}

// Thresholds returns the speed boundaries for a scenario and language. An
// unknown scenario uses the default scenario's base-language row; a known
// scenario without a row for language uses its own base-language row.
func (t *Table) Thresholds(scenarioName, language string) SpeedThresholds {
	p, ok := t.Lookup(scenarioName)
	if ok {
		if th, found := p.Speed[NormalizeLanguage(language)]; found {
			return th
		}
		if th, found := p.Speed[t.baseLanguage]; found {
			return th
		}
	}
	return t.policies[t.defaultScenario].Speed[t.baseLanguage]
}

// NormalizeLanguage reduces a BCP-47 tag to its lower-case primary subtag,
// e.g. "ko-KR" -> "ko".
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}
