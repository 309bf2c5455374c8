package detect

import (
	"math"

	"github.com/strydelabs/hrrscan/core/config"
	"github.com/strydelabs/hrrscan/core/hrr"
)

// series builds a 1 Hz sample series starting at the given offset.
func series(start float64, values ...float64) []hrr.Sample {
	samples := make([]hrr.Sample, len(values))
	for i, v := range values {
		samples[i] = hrr.Sample{Offset: start + float64(i), HR: v, Source: "test"}
	}
	return samples
}

// ramp appends a linear climb from the last value toward target over n
// seconds, excluding the starting value.
func ramp(values []float64, target float64, n int) []float64 {
	from := values[len(values)-1]
	for i := 1; i <= n; i++ {
		values = append(values, math.Round((from+(target-from)*float64(i)/float64(n))*10)/10)
	}
	return values
}

// hold appends n copies of the last value.
func hold(values []float64, n int) []float64 {
	v := values[len(values)-1]
	for i := 0; i < n; i++ {
		values = append(values, v)
	}
	return values
}

// decayTo appends an exponential decline from the last value toward baseline
// with the given time constant, for n seconds.
func decayTo(values []float64, baseline, tau float64, n int) []float64 {
	peak := values[len(values)-1]
	for i := 1; i <= n; i++ {
		v := baseline + (peak-baseline)*math.Exp(-float64(i)/tau)
		values = append(values, math.Round(v*10)/10)
	}
	return values
}

// testConfig returns thresholds the detection tests share.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Version = "test"
	return cfg
}
