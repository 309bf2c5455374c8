// Package hrr defines the domain model for heart-rate-recovery extraction:
// samples, detection candidates, recovery intervals, and their quality
// dispositions.
package hrr

import (
	"errors"
	"fmt"
)

var (
	ErrEmptySeries        = errors.New("sample series is empty")
	ErrNonMonotonicSeries = errors.New("sample series is not monotonically increasing")
	ErrInvalidHeartRate   = errors.New("sample has a non-positive heart rate")
)

// Origin identifies which detection strategy produced a candidate.
type Origin string

const (
	// OriginPeak marks candidates found by prominence-based local-maximum
	// detection.
	OriginPeak Origin = "peak"

	// OriginValley marks candidates recovered by valley backtracking, used
	// for plateau-then-decline recoveries that lack a sharp peak.
	OriginValley Origin = "valley"
)

// Status is the quality disposition of a recovery interval.
type Status string

const (
	StatusPass     Status = "pass"
	StatusFlagged  Status = "flagged"
	StatusRejected Status = "rejected"
)

// Reason is a closed enumeration of non-pass dispositions.
type Reason string

const (
	// ReasonNone is carried by passing intervals.
	ReasonNone Reason = ""

	// ReasonLowR2 rejects an interval whose required fit window fell below
	// its configured minimum R².
	ReasonLowR2 Reason = "low_r2"

	// ReasonNoValidR2Windows rejects an interval for which no decay fit
	// could be computed in any configured window.
	ReasonNoValidR2Windows Reason = "no_valid_r2_windows"

	// ReasonOverlapDuplicate rejects an interval whose adjusted start does
	// not strictly follow the previous surviving interval's adjusted start.
	ReasonOverlapDuplicate Reason = "overlap_duplicate"

	// ReasonOnsetDelayReview flags an interval whose plateau exceeded the
	// onset review threshold.
	ReasonOnsetDelayReview Reason = "onset_delay_review"

	// ReasonEarlyWindowPoorFit flags an interval whose earliest fit window
	// is poor while every later window clears its threshold. This pattern
	// historically signals genuine secondary exertion and is preserved
	// rather than discarded.
	ReasonEarlyWindowPoorFit Reason = "early_window_poor_fit"
)

// Sample is one heart-rate reading within a session. Offset is seconds from
// session start. Samples are immutable once loaded.
type Sample struct {
	Offset float64 // seconds from session start
	HR     float64 // beats per minute
	Source string  // recording device tag, informational only
}

// Candidate is an ephemeral detection result: a possible recovery onset.
// Candidates are produced and consumed within one session run and are never
// persisted.
type Candidate struct {
	OnsetIndex int
	PeakHR     float64
	Origin     Origin

	// OnsetDelay is the plateau length in seconds that onset adjustment
	// skipped over. Zero until adjustment runs.
	OnsetDelay float64
}

// Checkpoint records the heart rate at a fixed delay after onset. HR, Drop
// and DropPct are nil when the delay falls beyond the interval's end; they
// are never fabricated as zero.
type Checkpoint struct {
	DelayS  float64
	HR      *float64
	Drop    *float64
	DropPct *float64
}

// WindowFit is the result of one exponential-decay fit over a configured
// sub-window. Tau and R2 are nil when the window held too few samples or the
// optimizer failed to converge; Available distinguishes "not computed" from
// "computed badly".
type WindowFit struct {
	Name        string
	StartS      float64
	EndS        float64
	Tau         *float64
	R2          *float64
	Available   bool
	SampleCount int
}

// RecoveryInterval is the output unit: one validated recovery event with its
// decay statistics and quality disposition.
type RecoveryInterval struct {
	SessionID string
	Seq       int

	StartOffset float64 // onset-adjusted, seconds from session start
	EndOffset   float64
	Duration    float64

	PeakHR      float64
	Checkpoints []Checkpoint
	Fits        []WindowFit

	Status       Status
	Reason       Reason
	ReasonWindow string  // fit window that tripped a low_r2 or early-window outcome
	OnsetDelay   float64 // diagnostic: seconds of plateau skipped by onset adjustment

	Origin        Origin
	ConfigVersion string
}

// Fit returns the named window fit, or nil if no window by that name was
// computed for the interval.
func (ri *RecoveryInterval) Fit(name string) *WindowFit {
	for i := range ri.Fits {
		if ri.Fits[i].Name == name {
			return &ri.Fits[i]
		}
	}
	return nil
}

// ValidateSeries checks that a sample series is usable for detection: it must
// be non-empty, strictly increasing in offset, and contain positive heart
// rates. Sessions failing validation are skipped, not processed partially.
func ValidateSeries(samples []Sample) error {
	if len(samples) == 0 {
		return ErrEmptySeries
	}
	for i, s := range samples {
		if s.HR <= 0 {
			return fmt.Errorf("%w: sample %d has hr %.1f", ErrInvalidHeartRate, i, s.HR)
		}
		if i > 0 && s.Offset <= samples[i-1].Offset {
			return fmt.Errorf("%w: offset %.1f at index %d does not follow %.1f",
				ErrNonMonotonicSeries, s.Offset, i, samples[i-1].Offset)
		}
	}
	return nil
}
