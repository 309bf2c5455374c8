package detect

import (
	"sort"

	"github.com/strydelabs/hrrscan/core/config"
	"github.com/strydelabs/hrrscan/core/hrr"
)

// MergeResult is the deduplicated union of both detectors' candidates.
type MergeResult struct {
	// Candidates is sorted by onset time ascending and free of
	// near-duplicates.
	Candidates []hrr.Candidate

	// Superseded holds the double-peak detections dropped during
	// deduplication, retained for audit and counted in the session
	// report. They do not become interval records.
	Superseded []hrr.Candidate
}

// Merge unions the two candidate lists, resolving candidates within the
// configured time tolerance of each other as duplicates of one physiological
// event. When a peak-origin and a valley-origin candidate collide, the
// peak-origin one wins: it has a true local maximum and is treated as higher
// confidence. The tie-break is deterministic, never an averaging merge.
func Merge(samples []hrr.Sample, peaks, valleys []hrr.Candidate, cfg *config.Config) MergeResult {
	all := make([]hrr.Candidate, 0, len(peaks)+len(valleys))
	all = append(all, peaks...)
	all = append(all, valleys...)
	sort.SliceStable(all, func(a, b int) bool {
		if all[a].OnsetIndex != all[b].OnsetIndex {
			return all[a].OnsetIndex < all[b].OnsetIndex
		}
		// Same onset from both detectors: peak first so it wins below.
		return all[a].Origin == hrr.OriginPeak && all[b].Origin == hrr.OriginValley
	})

	var result MergeResult
	for _, c := range all {
		if len(result.Candidates) == 0 {
			result.Candidates = append(result.Candidates, c)
			continue
		}
		last := &result.Candidates[len(result.Candidates)-1]
		gap := samples[c.OnsetIndex].Offset - samples[last.OnsetIndex].Offset
		if gap >= cfg.Merge.ToleranceS {
			result.Candidates = append(result.Candidates, c)
			continue
		}
		if last.Origin == hrr.OriginValley && c.Origin == hrr.OriginPeak {
			result.Superseded = append(result.Superseded, *last)
			*last = c
		} else {
			result.Superseded = append(result.Superseded, c)
		}
	}
	return result
}
