package detect

import (
	"github.com/strydelabs/hrrscan/core/config"
	"github.com/strydelabs/hrrscan/core/hrr"
)

// PeakDetector finds candidates with a sharp rise-then-fall signature:
// plateau-aware local maxima standing out by at least the configured
// prominence within the configured inter-peak distance.
type PeakDetector struct{}

// Detect implements Detector.
func (PeakDetector) Detect(samples []hrr.Sample, cfg *config.Config) []hrr.Candidate {
	if len(samples) < 3 {
		return nil
	}

	runs := compressRuns(samples)
	var maxima []int
	prominences := make(map[int]float64)
	for i := 1; i < len(runs)-1; i++ {
		if runs[i].hr <= runs[i-1].hr || runs[i].hr <= runs[i+1].hr {
			continue
		}
		// Onset anchors at the first occurrence of the maximum; the
		// onset adjuster later moves it to the last plateau sample.
		idx := runs[i].start
		p := peakProminence(samples, idx, cfg.Peak.MinDistanceS)
		if p < cfg.Peak.Prominence {
			continue
		}
		maxima = append(maxima, idx)
		prominences[idx] = p
	}

	kept := enforceMinDistance(samples, maxima, prominences, cfg.Peak.MinDistanceS)
	candidates := make([]hrr.Candidate, 0, len(kept))
	for _, idx := range kept {
		candidates = append(candidates, hrr.Candidate{
			OnsetIndex: idx,
			PeakHR:     samples[idx].HR,
			Origin:     hrr.OriginPeak,
		})
	}
	return candidates
}
