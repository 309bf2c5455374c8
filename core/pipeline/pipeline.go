// Package pipeline orchestrates one session's pass through detection,
// merging, onset adjustment, feature extraction and the quality gate, and
// drives batches of sessions across workers.
package pipeline

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/strydelabs/hrrscan/core/config"
	"github.com/strydelabs/hrrscan/core/detect"
	"github.com/strydelabs/hrrscan/core/fitting"
	"github.com/strydelabs/hrrscan/core/gate"
	"github.com/strydelabs/hrrscan/core/hrr"
)

// Counts summarizes one session's (or one run's) classification outcomes.
type Counts struct {
	CandidatesFound  int
	MergedDuplicates int
	Collapsed        int
	Passed           int
	Flagged          int
	Rejected         int
	ByReason         map[hrr.Reason]int
}

// Add folds other into c.
func (c *Counts) Add(other Counts) {
	c.CandidatesFound += other.CandidatesFound
	c.MergedDuplicates += other.MergedDuplicates
	c.Collapsed += other.Collapsed
	c.Passed += other.Passed
	c.Flagged += other.Flagged
	c.Rejected += other.Rejected
	if c.ByReason == nil {
		c.ByReason = make(map[hrr.Reason]int)
	}
	for reason, n := range other.ByReason {
		c.ByReason[reason] += n
	}
}

// SessionResult is one session's complete output: every extracted interval
// with its explicit status, plus counters for the end-of-run report.
// ConfigVersion is the version that classified the session; it is set even
// when the session yields no intervals, so zero-interval sessions still
// register as processed for incremental runs.
type SessionResult struct {
	SessionID     string
	ConfigVersion string
	Intervals     []hrr.RecoveryInterval
	Counts        Counts
}

// Pipeline runs the detection-and-classification stages for single sessions.
// It performs no I/O and holds no mutable state across sessions, so one
// Pipeline may serve concurrent workers.
type Pipeline struct {
	cfg       *config.Config
	extractor *fitting.Extractor
	gate      *gate.Evaluator
	logger    *slog.Logger
}

// New builds a pipeline for one immutable config. A nil fitter selects the
// gonum-backed implementation and a nil logger selects slog.Default.
func New(cfg *config.Config, fitter fitting.DecayFitter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		extractor: fitting.NewExtractor(cfg, fitter),
		gate:      gate.New(cfg, logger),
		logger:    logger,
	}
}

// ProcessSession turns one session's raw samples into classified recovery
// intervals. The two detectors are independent and run concurrently; every
// later stage is sequential because it depends on the full ordered candidate
// list. The whole pass is deterministic for identical samples and config.
func (p *Pipeline) ProcessSession(sessionID string, samples []hrr.Sample) (*SessionResult, error) {
	if err := hrr.ValidateSeries(samples); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	var (
		peaks, valleys []hrr.Candidate
		wg             sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		peaks = detect.PeakDetector{}.Detect(samples, p.cfg)
	}()
	go func() {
		defer wg.Done()
		valleys = detect.ValleyDetector{}.Detect(samples, p.cfg)
	}()
	wg.Wait()

	merged := detect.Merge(samples, peaks, valleys, p.cfg)
	for _, s := range merged.Superseded {
		p.logger.Debug("double-peak detection superseded during merge",
			"session", sessionID,
			"onset_offset_s", samples[s.OnsetIndex].Offset,
			"origin", s.Origin,
		)
	}

	adjusted := detect.AdjustOnsets(samples, merged.Candidates)
	features := p.extractor.Extract(samples, adjusted)

	result := &SessionResult{
		SessionID:     sessionID,
		ConfigVersion: p.cfg.Version,
		Counts: Counts{
			CandidatesFound:  len(peaks) + len(valleys),
			MergedDuplicates: len(merged.Superseded),
			Collapsed:        len(merged.Candidates) - len(features),
			// ByReason holds rejection reasons only; superseded
			// detections are tallied in MergedDuplicates.
			ByReason: make(map[hrr.Reason]int),
		},
	}

	intervals := make([]hrr.RecoveryInterval, 0, len(features))
	for seq, f := range features {
		intervals = append(intervals, hrr.RecoveryInterval{
			SessionID:     sessionID,
			Seq:           seq,
			StartOffset:   f.StartOffset,
			EndOffset:     f.EndOffset,
			Duration:      f.EndOffset - f.StartOffset,
			PeakHR:        f.Candidate.PeakHR,
			Checkpoints:   f.Checkpoints,
			Fits:          f.Fits,
			OnsetDelay:    f.Candidate.OnsetDelay,
			Origin:        f.Candidate.Origin,
			ConfigVersion: p.cfg.Version,
		})
	}

	p.gate.EvaluateSession(intervals)
	for _, iv := range intervals {
		switch iv.Status {
		case hrr.StatusPass:
			result.Counts.Passed++
		case hrr.StatusFlagged:
			result.Counts.Flagged++
		case hrr.StatusRejected:
			result.Counts.Rejected++
			result.Counts.ByReason[iv.Reason]++
		}
	}
	result.Intervals = intervals

	p.logger.Info("session processed",
		"session", sessionID,
		"samples", len(samples),
		"candidates", result.Counts.CandidatesFound,
		"passed", result.Counts.Passed,
		"flagged", result.Counts.Flagged,
		"rejected", result.Counts.Rejected,
	)
	return result, nil
}
