package detect

import (
	"sort"

	"github.com/strydelabs/hrrscan/core/config"
	"github.com/strydelabs/hrrscan/core/hrr"
)

// ValleyDetector recovers candidates missed by sharp-peak detection when the
// heart rate plateaus at a sustained high level before declining, as happens
// in steady-state efforts.
//
// It finds local minima with a shallower prominence, then backtracks within a
// bounded lookback window to the most recent elevated local maximum. The most
// recent maximum is chosen rather than the window's absolute maximum: the
// absolute maximum risks anchoring to an unrelated, older peak from a prior
// interval, while the most recent one marks the end of the current effort.
type ValleyDetector struct{}

// Detect implements Detector.
func (ValleyDetector) Detect(samples []hrr.Sample, cfg *config.Config) []hrr.Candidate {
	if len(samples) < 3 {
		return nil
	}

	baseline := sessionBaseline(samples)
	valleys := findValleys(samples, cfg)

	var candidates []hrr.Candidate
	seen := make(map[int]bool)
	for _, v := range valleys {
		onset, ok := backtrackToPeak(samples, v, cfg)
		if !ok {
			continue
		}
		peakHR := samples[onset].HR
		if peakHR < baseline+cfg.Valley.BaselineElevation {
			continue
		}
		if peakHR-samples[v].HR < cfg.Valley.MinDrop {
			continue
		}
		// Two valleys can backtrack to the same effort; report it once.
		if seen[onset] {
			continue
		}
		seen[onset] = true
		candidates = append(candidates, hrr.Candidate{
			OnsetIndex: onset,
			PeakHR:     peakHR,
			Origin:     hrr.OriginValley,
		})
	}
	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].OnsetIndex < candidates[b].OnsetIndex
	})
	return candidates
}

// findValleys returns plateau-aware local minima passing the valley
// prominence and inter-valley distance thresholds.
func findValleys(samples []hrr.Sample, cfg *config.Config) []int {
	runs := compressRuns(samples)
	var minima []int
	prominences := make(map[int]float64)
	for i := 1; i < len(runs); i++ {
		if runs[i].hr >= runs[i-1].hr {
			continue
		}
		// A trailing decline counts as a valley even without a rebound:
		// recoveries commonly end the session.
		if i+1 < len(runs) && runs[i].hr >= runs[i+1].hr {
			continue
		}
		idx := runs[i].start
		p := valleyProminence(samples, idx, cfg.Valley.MinDistanceS)
		if p < cfg.Valley.Prominence {
			continue
		}
		minima = append(minima, idx)
		prominences[idx] = p
	}
	return enforceMinDistance(samples, minima, prominences, cfg.Valley.MinDistanceS)
}

// backtrackToPeak searches the lookback window immediately before the valley
// for local maxima at the lower backtracking prominence, and selects the most
// recent one as the candidate onset.
func backtrackToPeak(samples []hrr.Sample, valley int, cfg *config.Config) (int, bool) {
	windowStart := samples[valley].Offset - cfg.Valley.LookbackS
	lo := sort.Search(len(samples), func(i int) bool {
		return samples[i].Offset >= windowStart
	})
	if lo >= valley {
		return 0, false
	}

	window := samples[lo:valley]
	runs := compressRuns(window)
	best, found := -1, false
	for i := range runs {
		higherLeft := i > 0 && runs[i].hr <= runs[i-1].hr
		higherRight := i+1 < len(runs) && runs[i].hr <= runs[i+1].hr
		if higherLeft || higherRight {
			continue
		}
		idx := runs[i].start
		if valleyPeakProminence(window, idx, cfg.Valley.LocalPeakDistanceS) < cfg.Valley.LocalPeakProminence {
			continue
		}
		if idx > best {
			best = idx
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return lo + best, true
}

// valleyPeakProminence measures backtracked maxima inside the lookback
// window. The window edge truncates the search, so the first and last runs
// are measurable against whichever side exists.
func valleyPeakProminence(window []hrr.Sample, peak int, radius float64) float64 {
	return peakProminence(window, peak, radius)
}
