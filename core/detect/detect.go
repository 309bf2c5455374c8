// Package detect finds recovery-onset candidates in a heart-rate series.
//
// Two independent, side-effect-free strategies feed one pipeline: a
// prominence-based local-maximum scan for sharp rise-then-fall efforts, and a
// valley-backtracking scan for plateau-then-decline efforts that lack a sharp
// peak. Both implement Detector and are composed only at Merge.
package detect

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/strydelabs/hrrscan/core/config"
	"github.com/strydelabs/hrrscan/core/hrr"
)

// Detector is one detection strategy over a complete session.
type Detector interface {
	// Detect returns candidate onsets sorted by onset index. Short, flat
	// or non-decreasing series yield zero candidates, never an error.
	Detect(samples []hrr.Sample, cfg *config.Config) []hrr.Candidate
}

// run is a maximal stretch of consecutive samples sharing one heart-rate
// value. Detection operates on runs so that plateaus behave as single
// extrema.
type run struct {
	start int // index of first sample in the run
	end   int // index of last sample in the run
	hr    float64
}

// compressRuns collapses the series into value runs.
func compressRuns(samples []hrr.Sample) []run {
	if len(samples) == 0 {
		return nil
	}
	runs := make([]run, 0, len(samples))
	cur := run{start: 0, end: 0, hr: samples[0].HR}
	for i := 1; i < len(samples); i++ {
		if samples[i].HR == cur.hr {
			cur.end = i
			continue
		}
		runs = append(runs, cur)
		cur = run{start: i, end: i, hr: samples[i].HR}
	}
	return append(runs, cur)
}

// windowBounds returns the index range [lo, hi] of samples whose offsets lie
// within radius seconds of the sample at center.
func windowBounds(samples []hrr.Sample, center int, radius float64) (int, int) {
	lo := sort.Search(len(samples), func(i int) bool {
		return samples[i].Offset >= samples[center].Offset-radius
	})
	hi := sort.Search(len(samples), func(i int) bool {
		return samples[i].Offset > samples[center].Offset+radius
	}) - 1
	return lo, hi
}

// peakProminence measures how far the maximum at index peak stands above its
// surroundings, searched within radius seconds on each side. The walk on each
// side stops at the first strictly higher sample; a side with no samples
// defers to the other, so session-boundary peaks are still measurable.
func peakProminence(samples []hrr.Sample, peak int, radius float64) float64 {
	lo, hi := windowBounds(samples, peak, radius)
	value := samples[peak].HR

	leftMin, leftSeen := value, false
	for i := peak - 1; i >= lo; i-- {
		if samples[i].HR > value {
			break
		}
		leftSeen = true
		if samples[i].HR < leftMin {
			leftMin = samples[i].HR
		}
	}
	rightMin, rightSeen := value, false
	for i := peak + 1; i <= hi; i++ {
		if samples[i].HR > value {
			break
		}
		rightSeen = true
		if samples[i].HR < rightMin {
			rightMin = samples[i].HR
		}
	}

	switch {
	case leftSeen && rightSeen:
		if leftMin > rightMin {
			return value - leftMin
		}
		return value - rightMin
	case leftSeen:
		return value - leftMin
	case rightSeen:
		return value - rightMin
	default:
		return 0
	}
}

// valleyProminence is the mirror of peakProminence for local minima.
func valleyProminence(samples []hrr.Sample, valley int, radius float64) float64 {
	lo, hi := windowBounds(samples, valley, radius)
	value := samples[valley].HR

	leftMax, leftSeen := value, false
	for i := valley - 1; i >= lo; i-- {
		if samples[i].HR < value {
			break
		}
		leftSeen = true
		if samples[i].HR > leftMax {
			leftMax = samples[i].HR
		}
	}
	rightMax, rightSeen := value, false
	for i := valley + 1; i <= hi; i++ {
		if samples[i].HR < value {
			break
		}
		rightSeen = true
		if samples[i].HR > rightMax {
			rightMax = samples[i].HR
		}
	}

	switch {
	case leftSeen && rightSeen:
		if leftMax < rightMax {
			return leftMax - value
		}
		return rightMax - value
	case leftSeen:
		return leftMax - value
	case rightSeen:
		return rightMax - value
	default:
		return 0
	}
}

// enforceMinDistance keeps the most prominent extremum of any cluster closer
// together than minDistance seconds. Ties resolve to the earlier index, so
// the result is deterministic for identical input.
func enforceMinDistance(samples []hrr.Sample, indices []int, prominences map[int]float64, minDistance float64) []int {
	if len(indices) == 0 {
		return nil
	}
	order := make([]int, len(indices))
	copy(order, indices)
	sort.SliceStable(order, func(a, b int) bool {
		pa, pb := prominences[order[a]], prominences[order[b]]
		if pa != pb {
			return pa > pb
		}
		return order[a] < order[b]
	})

	kept := make([]int, 0, len(order))
	for _, idx := range order {
		tooClose := false
		for _, k := range kept {
			d := samples[idx].Offset - samples[k].Offset
			if d < 0 {
				d = -d
			}
			if d < minDistance {
				tooClose = true
				break
			}
		}
		if !tooClose {
			kept = append(kept, idx)
		}
	}
	sort.Ints(kept)
	return kept
}

// sessionBaseline estimates the subject's unloaded heart rate for the session
// as the 10th-percentile sample value. A true resting heart rate is supplied
// upstream in the full product; the percentile is a stable session-local
// proxy for the elevation guard.
func sessionBaseline(samples []hrr.Sample) float64 {
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.HR
	}
	sort.Float64s(values)
	return stat.Quantile(0.10, stat.Empirical, values, nil)
}
