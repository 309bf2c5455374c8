// Package gate classifies extracted recovery intervals as pass, flagged or
// rejected via an ordered, declarative rule list, then cross-checks the
// session's surviving intervals for overlap.
package gate

import (
	"log/slog"

	"github.com/strydelabs/hrrscan/core/config"
	"github.com/strydelabs/hrrscan/core/hrr"
)

// Outcome is one rule's verdict on one interval.
type Outcome struct {
	Status hrr.Status
	Reason hrr.Reason
	Window string
}

// Rule is one interval-local classification rule. Apply returns the outcome
// and whether the rule matched; the first matching terminal (rejected)
// outcome wins, flags accumulate onto otherwise-passing intervals.
type Rule struct {
	Name  string
	Apply func(iv *hrr.RecoveryInterval, cfg *config.Config) (Outcome, bool)
}

// Evaluator applies the rule list per interval, then the cross-interval
// overlap check over the session.
type Evaluator struct {
	cfg    *config.Config
	rules  []Rule
	logger *slog.Logger
}

// New builds an evaluator with the standard rule list.
func New(cfg *config.Config, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		cfg:    cfg,
		logger: logger,
		rules: []Rule{
			{Name: "no_windows_computed", Apply: ruleNoWindowsComputed},
			{Name: "required_r2_minimum", Apply: ruleRequiredR2},
			{Name: "onset_delay_review", Apply: ruleOnsetDelay},
		},
	}
}

// EvaluateSession classifies every interval in place. Intervals must be
// sorted by adjusted start time. The overlap rule runs after all per-interval
// rules because it compares each interval against the previous surviving one.
// Every interval leaves with an explicit status.
func (e *Evaluator) EvaluateSession(intervals []hrr.RecoveryInterval) {
	for i := range intervals {
		e.evaluateInterval(&intervals[i])
	}

	// Cross-interval rule: an interval whose adjusted start does not
	// strictly follow the previous surviving interval's adjusted start is
	// an overlap or duplicate. Violators are rejected, never silently
	// truncated; both identities remain in the output for audit.
	lastStart := -1.0
	for i := range intervals {
		iv := &intervals[i]
		if iv.Status == hrr.StatusRejected {
			continue
		}
		if iv.StartOffset <= lastStart {
			iv.Status = hrr.StatusRejected
			iv.Reason = hrr.ReasonOverlapDuplicate
			e.logger.Warn("interval rejected as overlap duplicate",
				"session", iv.SessionID,
				"seq", iv.Seq,
				"start_offset_s", iv.StartOffset,
				"previous_start_s", lastStart,
			)
			continue
		}
		lastStart = iv.StartOffset
	}
}

func (e *Evaluator) evaluateInterval(iv *hrr.RecoveryInterval) {
	iv.Status = hrr.StatusPass
	iv.Reason = hrr.ReasonNone

	for _, rule := range e.rules {
		out, matched := rule.Apply(iv, e.cfg)
		if !matched {
			continue
		}
		if out.Status == hrr.StatusRejected {
			iv.Status = out.Status
			iv.Reason = out.Reason
			iv.ReasonWindow = out.Window
			return
		}
		// Flags do not override each other: the first flag in rule
		// order sticks.
		if iv.Status == hrr.StatusPass {
			iv.Status = out.Status
			iv.Reason = out.Reason
			iv.ReasonWindow = out.Window
		}
	}
}

// ruleNoWindowsComputed rejects intervals for which no decay fit exists in
// any window at all. Insufficient data is not an error, but an interval with
// zero valid windows has nothing to stand on.
func ruleNoWindowsComputed(iv *hrr.RecoveryInterval, _ *config.Config) (Outcome, bool) {
	for _, f := range iv.Fits {
		if f.Available {
			return Outcome{}, false
		}
	}
	return Outcome{Status: hrr.StatusRejected, Reason: hrr.ReasonNoValidR2Windows}, true
}

// ruleRequiredR2 rejects intervals whose required windows fall below their
// configured minimum R². Thresholds differ by window width.
//
// One carve-out, preserved from long observation of real sessions: when only
// the earliest window is poor and every later required window passes, the
// interval is flagged rather than rejected. That pattern often marks genuine
// secondary exertion at the start of a recovery, not a bad fit. Whether it
// could instead be a residual detection artifact is an open question; the
// distinct flag reason keeps the two cases separable downstream.
func ruleRequiredR2(iv *hrr.RecoveryInterval, cfg *config.Config) (Outcome, bool) {
	var failing []string
	for _, w := range cfg.Windows {
		if !w.Required {
			continue
		}
		f := iv.Fit(w.Name)
		if f == nil || !f.Available {
			// Unavailable windows are recorded, not judged; rule
			// coverage for empty fit sets lives in
			// ruleNoWindowsComputed.
			continue
		}
		if *f.R2 < w.MinR2 {
			failing = append(failing, w.Name)
		}
	}
	if len(failing) == 0 {
		return Outcome{}, false
	}

	earliest := cfg.EarliestWindow()
	if earliest != nil && len(failing) == 1 && failing[0] == earliest.Name && laterWindowPasses(iv, cfg, earliest) {
		return Outcome{
			Status: hrr.StatusFlagged,
			Reason: hrr.ReasonEarlyWindowPoorFit,
			Window: earliest.Name,
		}, true
	}
	return Outcome{
		Status: hrr.StatusRejected,
		Reason: hrr.ReasonLowR2,
		Window: failing[0],
	}, true
}

// laterWindowPasses reports whether at least one required window after the
// earliest is available and clears its threshold.
func laterWindowPasses(iv *hrr.RecoveryInterval, cfg *config.Config, earliest *config.FitWindow) bool {
	for _, w := range cfg.Windows {
		if !w.Required || w.Name == earliest.Name {
			continue
		}
		f := iv.Fit(w.Name)
		if f != nil && f.Available && *f.R2 >= w.MinR2 {
			return true
		}
	}
	return false
}

// ruleOnsetDelay flags intervals whose plateau exceeded the review threshold.
// Large plateaus may reflect a different effort structure than the decay
// model assumes, so they are surfaced for review rather than rejected.
func ruleOnsetDelay(iv *hrr.RecoveryInterval, cfg *config.Config) (Outcome, bool) {
	if iv.OnsetDelay <= cfg.Onset.ReviewThresholdS {
		return Outcome{}, false
	}
	return Outcome{Status: hrr.StatusFlagged, Reason: hrr.ReasonOnsetDelayReview}, true
}

// Describe returns the rule list in evaluation order, for operator output.
func (e *Evaluator) Describe() []string {
	names := make([]string, 0, len(e.rules)+1)
	for _, r := range e.rules {
		names = append(names, r.Name)
	}
	return append(names, "overlap_duplicate_check")
}
