package fitting

import (
	"math"

	"github.com/strydelabs/hrrscan/core/config"
	"github.com/strydelabs/hrrscan/core/hrr"
)

// Features is one onset-adjusted candidate extended to its bounded horizon,
// with checkpoints and window fits computed.
type Features struct {
	Candidate   hrr.Candidate
	StartOffset float64
	EndOffset   float64
	Checkpoints []hrr.Checkpoint
	Fits        []hrr.WindowFit
}

// Extractor extends candidates and computes their decay features. The fitter
// is a swappable dependency so detection and gating logic stay isolated from
// the solver.
type Extractor struct {
	cfg    *config.Config
	fitter DecayFitter
}

// NewExtractor builds an extractor. A nil fitter falls back to the gonum
// implementation.
func NewExtractor(cfg *config.Config, fitter DecayFitter) *Extractor {
	if fitter == nil {
		fitter = GonumFitter{}
	}
	return &Extractor{cfg: cfg, fitter: fitter}
}

// Extract extends each candidate forward to the lesser of the extension
// ceiling or the next candidate's onset, enforcing non-overlap at the window
// level. A candidate whose window collapses below the minimum sample count is
// dropped here; candidates that survive always end with an explicit gate
// status.
//
// Candidates must already be onset-adjusted and sorted by onset: every fit
// and checkpoint uses the adjusted start as time zero. Using the raw
// detection point instead was a long-standing bug that depressed
// early-window R² and caused false double-peak rejections.
func (e *Extractor) Extract(samples []hrr.Sample, candidates []hrr.Candidate) []Features {
	out := make([]Features, 0, len(candidates))
	for i, c := range candidates {
		start := samples[c.OnsetIndex].Offset
		end := start + e.cfg.Extension.CeilingS
		lastIndex := len(samples) - 1
		if i+1 < len(candidates) {
			next := candidates[i+1].OnsetIndex
			if samples[next].Offset < end {
				end = samples[next].Offset
			}
			if next-1 < lastIndex {
				lastIndex = next - 1
			}
		}

		span := sliceSpan(samples, c.OnsetIndex, lastIndex, end)
		if len(span) < e.cfg.Extension.MinSamples {
			continue
		}
		endOffset := span[len(span)-1].Offset

		f := Features{
			Candidate:   c,
			StartOffset: start,
			EndOffset:   endOffset,
			Checkpoints: e.checkpoints(span, c.PeakHR, start, endOffset),
			Fits:        e.fitWindows(span, c.PeakHR, start),
		}
		out = append(out, f)
	}
	return out
}

// sliceSpan returns the samples from first through lastIndex whose offsets do
// not exceed end.
func sliceSpan(samples []hrr.Sample, first, lastIndex int, end float64) []hrr.Sample {
	hi := first
	for hi < lastIndex && samples[hi+1].Offset <= end {
		hi++
	}
	return samples[first : hi+1]
}

// checkpoints reports the heart rate and drop at each fixed delay that fits
// within the interval. Delays beyond the interval remain nil: a short
// interval yields null checkpoints, never fabricated zeros.
func (e *Extractor) checkpoints(span []hrr.Sample, peak, start, end float64) []hrr.Checkpoint {
	cps := make([]hrr.Checkpoint, 0, len(config.CheckpointDelays))
	for _, delay := range config.CheckpointDelays {
		cp := hrr.Checkpoint{DelayS: delay}
		target := start + delay
		if target <= end {
			hr := nearestHR(span, target)
			drop := peak - hr
			pct := drop / peak * 100
			cp.HR = &hr
			cp.Drop = &drop
			cp.DropPct = &pct
		}
		cps = append(cps, cp)
	}
	return cps
}

// nearestHR returns the heart rate of the sample closest to target offset,
// preferring the earlier sample on ties.
func nearestHR(span []hrr.Sample, target float64) float64 {
	best := span[0]
	bestDist := math.Abs(span[0].Offset - target)
	for _, s := range span[1:] {
		d := math.Abs(s.Offset - target)
		if d < bestDist {
			best, bestDist = s, d
		}
	}
	return best.HR
}

// fitWindows runs the decay fitter over every configured sub-window. Windows
// with too few samples, or where the optimizer fails, are recorded as
// unavailable rather than fabricated.
func (e *Extractor) fitWindows(span []hrr.Sample, peak, start float64) []hrr.WindowFit {
	fits := make([]hrr.WindowFit, 0, len(e.cfg.Windows))
	for _, w := range e.cfg.Windows {
		fit := hrr.WindowFit{Name: w.Name, StartS: w.StartS, EndS: w.EndS}

		var t, hr []float64
		for _, s := range span {
			rel := s.Offset - start
			if rel < w.StartS || rel > w.EndS {
				continue
			}
			t = append(t, rel)
			hr = append(hr, s.HR)
		}
		fit.SampleCount = len(t)
		if len(t) < w.MinSamples {
			fits = append(fits, fit)
			continue
		}

		res, err := e.fitter.FitDecay(t, hr, peak, e.cfg.Tau)
		if err != nil || !res.Converged {
			fits = append(fits, fit)
			continue
		}
		tau, r2 := res.Tau, res.R2
		fit.Tau = &tau
		fit.R2 = &r2
		fit.Available = true
		fits = append(fits, fit)
	}
	return fits
}
