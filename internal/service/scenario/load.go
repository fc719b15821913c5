package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileFormat is the on-disk YAML layout of a policy table.
type fileFormat struct {
	DefaultScenario string            `yaml:"default_scenario"`
	BaseLanguage    string            `yaml:"base_language"`
	Scenarios       map[string]Policy `yaml:"scenarios"`
}

// LoadFile reads a YAML policy file and overlays it on the built-in
// policies. Scenarios in the file replace built-in entries of the same name
// field by field: a zero VAD block or an absent map keeps the built-in value.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML policy data. See LoadFile.
func Parse(data []byte) (*Table, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode scenario file: %w", err)
	}

	policies := DefaultPolicies()
	for name, override := range f.Scenarios {
		base, ok := policies[name]
		if !ok {
			policies[name] = override
			continue
		}
		if override.BeamSize > 0 {
			base.BeamSize = override.BeamSize
		}
		if override.VAD != (VADParameters{}) {
			base.VAD = override.VAD
		}
		if len(override.Speed) > 0 {
			merged := make(map[string]SpeedThresholds, len(base.Speed)+len(override.Speed))
			for k, v := range base.Speed {
				merged[k] = v
			}
			for k, v := range override.Speed {
				merged[NormalizeLanguage(k)] = v
			}
			base.Speed = merged
		}
		if len(override.EmotionWeights) > 0 {
			base.EmotionWeights = override.EmotionWeights
		}
		policies[name] = base
	}

	def := f.DefaultScenario
	if def == "" {
		def = Presentation
	}
	lang := f.BaseLanguage
	if lang == "" {
		lang = "ko"
	}
	return NewTable(policies, def, lang)
}
