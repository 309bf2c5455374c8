package detect

import (
	"github.com/strydelabs/hrrscan/core/hrr"
)

// AdjustOnsets relocates each candidate's onset to the last sample still at
// the local maximum, before strict decline begins.
//
// Fitting decay from the first plateau sample biases the time-constant
// estimate and produces a spuriously poor fit in the earliest window, which
// historically caused correct recoveries to be misclassified as false double
// peaks. The skipped plateau length is reported as an onset-delay diagnostic;
// the quality gate flags deltas beyond the review threshold.
func AdjustOnsets(samples []hrr.Sample, candidates []hrr.Candidate) []hrr.Candidate {
	adjusted := make([]hrr.Candidate, 0, len(candidates))
	for _, c := range candidates {
		onset := c.OnsetIndex
		peak := samples[onset].HR
		for onset+1 < len(samples) && samples[onset+1].HR == peak {
			onset++
		}
		adjusted = append(adjusted, hrr.Candidate{
			OnsetIndex: onset,
			PeakHR:     peak,
			Origin:     c.Origin,
			OnsetDelay: samples[onset].Offset - samples[c.OnsetIndex].Offset,
		})
	}
	return adjusted
}
