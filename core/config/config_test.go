package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hrr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalYAML = `
version: "2026.1"
peak:
  prominence: 10
  min_distance_s: 45
valley:
  prominence: 5
  min_distance_s: 45
  lookback_s: 90
  min_drop: 12
  local_peak_prominence: 2
  local_peak_distance_s: 10
  baseline_elevation: 18
merge:
  tolerance_s: 25
onset:
  review_threshold_s: 15
extension:
  ceiling_s: 240
  min_samples: 4
tau:
  min_s: 8
  max_s: 500
windows:
  - name: "0-30"
    start_s: 0
    end_s: 30
    min_r2: 0.7
    min_samples: 5
    required: true
`

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "2026.1", cfg.Version)
	assert.Equal(t, 10.0, cfg.Peak.Prominence)
	assert.Equal(t, 18.0, cfg.Valley.BaselineElevation)
	assert.Equal(t, 240.0, cfg.Extension.CeilingS)
	require.Len(t, cfg.Windows, 1)
	assert.True(t, cfg.Windows[0].Required)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML+"\ntypo_field: 3\n"))
	assert.Error(t, err, "misspelled thresholds must not be silently dropped")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing version", func(c *Config) { c.Version = "" }, "version"},
		{"zero peak prominence", func(c *Config) { c.Peak.Prominence = 0 }, "peak.prominence"},
		{"negative min distance", func(c *Config) { c.Peak.MinDistanceS = -1 }, "peak.min_distance_s"},
		{"zero lookback", func(c *Config) { c.Valley.LookbackS = 0 }, "valley.lookback_s"},
		{"zero min drop", func(c *Config) { c.Valley.MinDrop = 0 }, "valley.min_drop"},
		{"zero baseline elevation", func(c *Config) { c.Valley.BaselineElevation = 0 }, "valley.baseline_elevation"},
		{"zero merge tolerance", func(c *Config) { c.Merge.ToleranceS = 0 }, "merge.tolerance_s"},
		{"zero onset threshold", func(c *Config) { c.Onset.ReviewThresholdS = 0 }, "onset.review_threshold_s"},
		{"zero ceiling", func(c *Config) { c.Extension.CeilingS = 0 }, "extension.ceiling_s"},
		{"one-sample intervals", func(c *Config) { c.Extension.MinSamples = 1 }, "extension.min_samples"},
		{"inverted tau bounds", func(c *Config) { c.Tau = TauBounds{MinS: 100, MaxS: 50} }, "tau"},
		{"no windows", func(c *Config) { c.Windows = nil }, "windows"},
		{"unnamed window", func(c *Config) { c.Windows[0].Name = "" }, "name"},
		{"duplicate window name", func(c *Config) { c.Windows[1].Name = c.Windows[0].Name }, "duplicates"},
		{"inverted window", func(c *Config) { c.Windows[0].EndS = c.Windows[0].StartS }, "start_s"},
		{"min_r2 above one", func(c *Config) { c.Windows[0].MinR2 = 1.5 }, "min_r2"},
		{"window min_samples too small", func(c *Config) { c.Windows[0].MinSamples = 1 }, "min_samples"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEarliestWindow(t *testing.T) {
	cfg := Default()
	w := cfg.EarliestWindow()
	require.NotNil(t, w)
	assert.Equal(t, "0-30", w.Name, "ties on start resolve to the narrower window")

	// Optional windows never count, even when they start earliest.
	for i := range cfg.Windows {
		cfg.Windows[i].Required = cfg.Windows[i].Name == "30-90"
	}
	assert.Equal(t, "30-90", cfg.EarliestWindow().Name)

	for i := range cfg.Windows {
		cfg.Windows[i].Required = false
	}
	assert.Nil(t, cfg.EarliestWindow())
}

func TestFingerprint(t *testing.T) {
	a := Default()
	b := Default()
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Peak.Prominence = 13
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint(),
		"a retuned threshold changes the fingerprint")

	c := Default()
	c.Version = "relabelled"
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}
