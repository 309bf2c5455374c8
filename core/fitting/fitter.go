// Package fitting computes interval features: fixed-delay heart-rate drops
// and bounded single-exponential decay fits with goodness-of-fit.
package fitting

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/strydelabs/hrrscan/core/config"
)

var (
	ErrTooFewSamples = errors.New("too few samples for a decay fit")
	ErrFlatWindow    = errors.New("window has no heart-rate variation")
)

// Result is one exponential-decay fit: HR(t) = baseline + (peak − baseline) ·
// e^(−t/τ), with t measured from the onset-adjusted start.
type Result struct {
	Tau       float64
	Baseline  float64
	R2        float64
	Converged bool
}

// DecayFitter fits an exponential decay over one window. Implementations must
// be deterministic: identical input yields an identical result, which is what
// makes session reprocessing reproducible.
type DecayFitter interface {
	// FitDecay fits the decay model to (t, hr) pairs, with t in seconds
	// from onset and peak the heart rate at onset. Tau is bounded to the
	// configured physiological range.
	FitDecay(t, hr []float64, peak float64, bounds config.TauBounds) (Result, error)
}

// minFitSamples is the hard floor below which the model is underdetermined.
const minFitSamples = 3

// lowestBaseline is the lowest baseline heart rate the optimizer may
// consider, in bpm.
const lowestBaseline = 25

// GonumFitter backs DecayFitter with a derivative-free Nelder-Mead search
// over (baseline, τ). Bounds are enforced with a quadratic penalty and a
// final clamp rather than a constrained method; the surface is smooth and
// two-dimensional, so the simplex converges in a handful of iterations.
type GonumFitter struct{}

// FitDecay implements DecayFitter.
func (GonumFitter) FitDecay(t, hr []float64, peak float64, bounds config.TauBounds) (Result, error) {
	if len(t) < minFitSamples || len(t) != len(hr) {
		return Result{}, ErrTooFewSamples
	}

	mean := stat.Mean(hr, nil)
	sst := 0.0
	for _, v := range hr {
		d := v - mean
		sst += d * d
	}
	if sst == 0 {
		// A perfectly flat window has no decay to fit.
		return Result{}, ErrFlatWindow
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return penalized(x, t, hr, peak, bounds)
		},
	}

	x0 := []float64{
		math.Max(floats.Min(hr), lowestBaseline),
		clamp((bounds.MinS+bounds.MaxS)/2, bounds.MinS, bounds.MaxS),
	}
	res, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err != nil || res == nil {
		// Non-convergence marks only this window unavailable; other
		// windows and the interval itself are unaffected.
		return Result{Converged: false}, nil
	}

	baseline := clamp(res.X[0], lowestBaseline, peak)
	tau := clamp(res.X[1], bounds.MinS, bounds.MaxS)

	sse := 0.0
	for i := range t {
		d := hr[i] - decay(t[i], baseline, peak, tau)
		sse += d * d
	}
	r2 := 1 - sse/sst
	if r2 < 0 {
		r2 = 0
	}
	return Result{
		Tau:       tau,
		Baseline:  baseline,
		R2:        r2,
		Converged: true,
	}, nil
}

func decay(t, baseline, peak, tau float64) float64 {
	return baseline + (peak-baseline)*math.Exp(-t/tau)
}

// penalized is the sum of squared residuals plus quadratic penalties pushing
// the simplex back inside the baseline and τ bounds.
func penalized(x, t, hr []float64, peak float64, bounds config.TauBounds) float64 {
	baseline, tau := x[0], x[1]

	penalty := 0.0
	penalty += boundPenalty(baseline, lowestBaseline, peak)
	penalty += boundPenalty(tau, bounds.MinS, bounds.MaxS)

	b := clamp(baseline, lowestBaseline, peak)
	tc := clamp(tau, bounds.MinS, bounds.MaxS)
	sse := 0.0
	for i := range t {
		d := hr[i] - decay(t[i], b, peak, tc)
		sse += d * d
	}
	return sse + penalty
}

func boundPenalty(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return (lo - v) * (lo - v) * 1e3
	case v > hi:
		return (v - hi) * (v - hi) * 1e3
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
