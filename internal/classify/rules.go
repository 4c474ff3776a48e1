package classify

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Thresholds holds the tunable boundaries of the rule set.
type Thresholds struct {
	NightStartHour  int
	NightEndHour    int
	VolumeBytes     int64
	ShortDurationMs int64
	Confidence      float64
}

// DefaultThresholds returns the fixed rule-set boundaries: night window
// 22:00-06:00, 10 MiB volume, 30 s duration, 0.8 confidence.
func DefaultThresholds() Thresholds {
	return Thresholds{
		NightStartHour:  22,
		NightEndHour:    6,
		VolumeBytes:     10 * 1024 * 1024,
		ShortDurationMs: 30_000,
		Confidence:      0.8,
	}
}

// rulesFile mirrors Thresholds with optional fields, so a partial rules
// file only overrides what it names and hour zero stays expressible.
type rulesFile struct {
	NightStartHour  *int     `yaml:"night_start_hour"`
	NightEndHour    *int     `yaml:"night_end_hour"`
	VolumeBytes     *int64   `yaml:"volume_bytes"`
	ShortDurationMs *int64   `yaml:"short_duration_ms"`
	Confidence      *float64 `yaml:"confidence"`
}

func (f rulesFile) apply(th Thresholds) (Thresholds, error) {
	if f.NightStartHour != nil {
		th.NightStartHour = *f.NightStartHour
	}
	if f.NightEndHour != nil {
		th.NightEndHour = *f.NightEndHour
	}
	if f.VolumeBytes != nil {
		th.VolumeBytes = *f.VolumeBytes
	}
	if f.ShortDurationMs != nil {
		th.ShortDurationMs = *f.ShortDurationMs
	}
	if f.Confidence != nil {
		th.Confidence = *f.Confidence
	}

	if th.NightStartHour < 0 || th.NightStartHour > 23 {
		return th, eris.Errorf("classify: night_start_hour %d out of range", th.NightStartHour)
	}
	if th.NightEndHour < 0 || th.NightEndHour > 23 {
		return th, eris.Errorf("classify: night_end_hour %d out of range", th.NightEndHour)
	}
	if th.Confidence < 0 || th.Confidence > 1 {
		return th, eris.Errorf("classify: confidence %v out of range", th.Confidence)
	}
	return th, nil
}

// LoadRules reads a YAML rules file and returns thresholds with defaults
// applied. An empty path returns the defaults.
func LoadRules(path string) (Thresholds, error) {
	if path == "" {
		return DefaultThresholds(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Thresholds{}, eris.Wrapf(err, "classify: read rules file %s", path)
	}

	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Thresholds{}, eris.Wrapf(err, "classify: parse rules file %s", path)
	}
	return f.apply(DefaultThresholds())
}
