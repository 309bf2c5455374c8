// Package config loads and validates the detection configuration. A Config is
// constructed once per run, validated before any session is processed, and
// passed explicitly to every pipeline stage; it is never mutated afterwards.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	ErrMissingVersion = errors.New("config is missing a version")
	ErrNoFitWindows   = errors.New("config declares no fit windows")
)

type Config struct {
	// Version labels the threshold set for audit. Every interval record
	// carries the version that classified it.
	Version string `yaml:"version"`

	Peak      PeakConfig      `yaml:"peak"`
	Valley    ValleyConfig    `yaml:"valley"`
	Merge     MergeConfig     `yaml:"merge"`
	Onset     OnsetConfig     `yaml:"onset"`
	Extension ExtensionConfig `yaml:"extension"`
	Tau       TauBounds       `yaml:"tau"`
	Windows   []FitWindow     `yaml:"windows"`
}

// PeakConfig tunes prominence-based local-maximum detection.
type PeakConfig struct {
	Prominence   float64 `yaml:"prominence"`
	MinDistanceS float64 `yaml:"min_distance_s"`
}

// ValleyConfig tunes the valley-backtracking detector, which recovers
// plateau-then-decline recoveries that sharp-peak detection misses.
type ValleyConfig struct {
	Prominence          float64 `yaml:"prominence"`
	MinDistanceS        float64 `yaml:"min_distance_s"`
	LookbackS           float64 `yaml:"lookback_s"`
	MinDrop             float64 `yaml:"min_drop"`
	LocalPeakProminence float64 `yaml:"local_peak_prominence"`
	LocalPeakDistanceS  float64 `yaml:"local_peak_distance_s"`

	// BaselineElevation is how far above the session baseline a
	// backtracked peak must stand to count as elevated effort.
	BaselineElevation float64 `yaml:"baseline_elevation"`
}

type MergeConfig struct {
	// ToleranceS is the window within which two candidates are treated as
	// one physiological event (a double peak).
	ToleranceS float64 `yaml:"tolerance_s"`
}

type OnsetConfig struct {
	// ReviewThresholdS flags (not rejects) intervals whose plateau exceeds
	// this many seconds before decline begins.
	ReviewThresholdS float64 `yaml:"review_threshold_s"`
}

type ExtensionConfig struct {
	// CeilingS caps how far past onset an interval extends.
	CeilingS float64 `yaml:"ceiling_s"`
	// MinSamples is the fewest declining samples an interval may hold
	// before it is dropped as collapsed.
	MinSamples int `yaml:"min_samples"`
}

// TauBounds restricts fitted time constants to a plausible physiological
// range.
type TauBounds struct {
	MinS float64 `yaml:"min_s"`
	MaxS float64 `yaml:"max_s"`
}

// FitWindow declares one decay-fit sub-window relative to adjusted onset.
type FitWindow struct {
	Name       string  `yaml:"name"`
	StartS     float64 `yaml:"start_s"`
	EndS       float64 `yaml:"end_s"`
	MinR2      float64 `yaml:"min_r2"`
	MinSamples int     `yaml:"min_samples"`

	// Required windows participate in rejection; optional windows are
	// informational only.
	Required bool `yaml:"required"`
}

// CheckpointDelays are the fixed post-onset delays at which heart rate is
// reported, in seconds.
var CheckpointDelays = []float64{60, 120, 180, 240, 300}

// Default returns the threshold set shipped with the tool. Values were tuned
// against 1 Hz chest-strap recordings.
func Default() *Config {
	return &Config{
		Version: "default",
		Peak: PeakConfig{
			Prominence:   12,
			MinDistanceS: 60,
		},
		Valley: ValleyConfig{
			Prominence:          6,
			MinDistanceS:        60,
			LookbackS:           120,
			MinDrop:             15,
			LocalPeakProminence: 3,
			LocalPeakDistanceS:  10,
			BaselineElevation:   20,
		},
		Merge: MergeConfig{ToleranceS: 30},
		Onset: OnsetConfig{ReviewThresholdS: 20},
		Extension: ExtensionConfig{
			CeilingS:   300,
			MinSamples: 5,
		},
		Tau: TauBounds{MinS: 10, MaxS: 600},
		Windows: []FitWindow{
			{Name: "0-30", StartS: 0, EndS: 30, MinR2: 0.70, MinSamples: 5, Required: true},
			{Name: "30-60", StartS: 30, EndS: 60, MinR2: 0.75, MinSamples: 5, Required: true},
			{Name: "30-90", StartS: 30, EndS: 90, MinR2: 0.80, MinSamples: 8, Required: true},
			{Name: "full", StartS: 0, EndS: 300, MinR2: 0.85, MinSamples: 20, Required: false},
		},
	}
}

// Load reads a YAML config from path and validates it. Unknown fields are an
// error; a config that fails validation is fatal before any session runs.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks every threshold for presence and range. Missing or
// out-of-range values are never silently defaulted.
func (c *Config) Validate() error {
	if c.Version == "" {
		return ErrMissingVersion
	}
	if c.Peak.Prominence <= 0 {
		return errors.New("peak.prominence must be positive")
	}
	if c.Peak.MinDistanceS <= 0 {
		return errors.New("peak.min_distance_s must be positive")
	}
	if c.Valley.Prominence <= 0 {
		return errors.New("valley.prominence must be positive")
	}
	if c.Valley.MinDistanceS <= 0 {
		return errors.New("valley.min_distance_s must be positive")
	}
	if c.Valley.LookbackS <= 0 {
		return errors.New("valley.lookback_s must be positive")
	}
	if c.Valley.MinDrop <= 0 {
		return errors.New("valley.min_drop must be positive")
	}
	if c.Valley.LocalPeakProminence <= 0 {
		return errors.New("valley.local_peak_prominence must be positive")
	}
	if c.Valley.LocalPeakDistanceS <= 0 {
		return errors.New("valley.local_peak_distance_s must be positive")
	}
	if c.Valley.BaselineElevation <= 0 {
		return errors.New("valley.baseline_elevation must be positive")
	}
	if c.Merge.ToleranceS <= 0 {
		return errors.New("merge.tolerance_s must be positive")
	}
	if c.Onset.ReviewThresholdS <= 0 {
		return errors.New("onset.review_threshold_s must be positive")
	}
	if c.Extension.CeilingS <= 0 {
		return errors.New("extension.ceiling_s must be positive")
	}
	if c.Extension.MinSamples < 2 {
		return errors.New("extension.min_samples must be at least 2")
	}
	if c.Tau.MinS <= 0 || c.Tau.MaxS <= c.Tau.MinS {
		return errors.New("tau bounds must satisfy 0 < min_s < max_s")
	}
	if len(c.Windows) == 0 {
		return ErrNoFitWindows
	}
	seen := make(map[string]bool, len(c.Windows))
	for i, w := range c.Windows {
		if w.Name == "" {
			return fmt.Errorf("windows[%d] has no name", i)
		}
		if seen[w.Name] {
			return fmt.Errorf("windows[%d] duplicates name %q", i, w.Name)
		}
		seen[w.Name] = true
		if w.StartS < 0 || w.EndS <= w.StartS {
			return fmt.Errorf("window %q must satisfy 0 <= start_s < end_s", w.Name)
		}
		if w.MinR2 < 0 || w.MinR2 > 1 {
			return fmt.Errorf("window %q min_r2 must be in [0, 1]", w.Name)
		}
		if w.MinSamples < 2 {
			return fmt.Errorf("window %q min_samples must be at least 2", w.Name)
		}
	}
	return nil
}

// EarliestWindow returns the required window with the smallest start offset.
// Ties resolve to the narrower window.
func (c *Config) EarliestWindow() *FitWindow {
	var earliest *FitWindow
	for i := range c.Windows {
		w := &c.Windows[i]
		if !w.Required {
			continue
		}
		if earliest == nil ||
			w.StartS < earliest.StartS ||
			(w.StartS == earliest.StartS && w.EndS < earliest.EndS) {
			earliest = w
		}
	}
	return earliest
}

// Fingerprint returns a hex digest of the canonical encoding, stored
// alongside Version so a relabelled-but-unchanged threshold set is still
// distinguishable from a retuned one.
func (c *Config) Fingerprint() string {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
