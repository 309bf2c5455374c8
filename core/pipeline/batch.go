package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strydelabs/hrrscan/core/hrr"
)

// SessionRef identifies a stored session.
type SessionRef struct {
	ID        string
	StartedAt time.Time
}

// SampleSource supplies stored sessions and their samples.
type SampleSource interface {
	ListSessions(from, to *time.Time) ([]SessionRef, error)
	LoadSamples(sessionID string) ([]hrr.Sample, error)
}

// ResultSink persists classified intervals. Claim must be a compare-and-claim
// so concurrent workers (or concurrent batch processes) take disjoint
// sessions; SaveSession must commit a session's intervals atomically.
type ResultSink interface {
	Claim(sessionID, owner string) (bool, error)
	Release(sessionID, owner string) error
	Processed(sessionID, configVersion string) (bool, error)
	SaveSession(result *SessionResult, runID string) error
}

// BatchOptions tunes one batch run.
type BatchOptions struct {
	From    *time.Time
	To      *time.Time
	Force   bool // reprocess sessions already done under the current config version
	Workers int

	// RunID labels this run's interval records. Generated when empty.
	RunID string
}

// Report is the end-of-run summary.
type Report struct {
	RunID     string
	Sessions  int
	Skipped   int
	Claimed   int // sessions another worker got to first
	Failed    int
	Counts    Counts
	StartedAt time.Time
	Duration  time.Duration
}

// DefaultWorkers bounds batch concurrency when the caller does not choose.
const DefaultWorkers = 4

// Batch claims and processes sessions from the source, committing each
// session's results atomically to the sink. Per-session failures are logged
// and counted, never fatal to the batch; an input error on one session marks
// only that session failed.
func (p *Pipeline) Batch(source SampleSource, sink ResultSink, opts BatchOptions) (*Report, error) {
	sessions, err := source.ListSessions(opts.From, opts.To)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > len(sessions) && len(sessions) > 0 {
		workers = len(sessions)
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	report := &Report{
		RunID:     runID,
		Sessions:  len(sessions),
		StartedAt: time.Now(),
		Counts:    Counts{ByReason: make(map[hrr.Reason]int)},
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		work = make(chan SessionRef)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			owner := fmt.Sprintf("%s/%d", report.RunID, workerID)
			for ref := range work {
				outcome := p.processOne(source, sink, ref, owner, report.RunID, opts.Force)
				mu.Lock()
				switch outcome.kind {
				case sessionSkipped:
					report.Skipped++
				case sessionClaimedElsewhere:
					report.Claimed++
				case sessionFailed:
					report.Failed++
				case sessionDone:
					report.Counts.Add(outcome.counts)
				}
				mu.Unlock()
			}
		}(w)
	}
	for _, ref := range sessions {
		work <- ref
	}
	close(work)
	wg.Wait()

	report.Duration = time.Since(report.StartedAt)
	p.logger.Info("batch finished",
		"run_id", report.RunID,
		"sessions", report.Sessions,
		"skipped", report.Skipped,
		"claimed_elsewhere", report.Claimed,
		"failed", report.Failed,
		"passed", report.Counts.Passed,
		"flagged", report.Counts.Flagged,
		"rejected", report.Counts.Rejected,
		"duration", report.Duration,
	)
	return report, nil
}

type outcomeKind int

const (
	sessionDone outcomeKind = iota
	sessionSkipped
	sessionClaimedElsewhere
	sessionFailed
)

type sessionOutcome struct {
	kind   outcomeKind
	counts Counts
}

func (p *Pipeline) processOne(source SampleSource, sink ResultSink, ref SessionRef, owner, runID string, force bool) sessionOutcome {
	if !force {
		done, err := sink.Processed(ref.ID, p.cfg.Version)
		if err != nil {
			p.logger.Error("checking session state", "session", ref.ID, "error", err)
			return sessionOutcome{kind: sessionFailed}
		}
		if done {
			return sessionOutcome{kind: sessionSkipped}
		}
	}

	claimed, err := sink.Claim(ref.ID, owner)
	if err != nil {
		p.logger.Error("claiming session", "session", ref.ID, "error", err)
		return sessionOutcome{kind: sessionFailed}
	}
	if !claimed {
		return sessionOutcome{kind: sessionClaimedElsewhere}
	}
	defer func() {
		if err := sink.Release(ref.ID, owner); err != nil {
			p.logger.Warn("releasing session claim", "session", ref.ID, "error", err)
		}
	}()

	samples, err := source.LoadSamples(ref.ID)
	if err != nil {
		p.logger.Error("loading samples", "session", ref.ID, "error", err)
		return sessionOutcome{kind: sessionFailed}
	}

	result, err := p.ProcessSession(ref.ID, samples)
	if err != nil {
		// Malformed input skips the session and the batch continues.
		p.logger.Warn("session skipped", "session", ref.ID, "error", err)
		return sessionOutcome{kind: sessionFailed}
	}

	if err := sink.SaveSession(result, runID); err != nil {
		p.logger.Error("persisting session", "session", ref.ID, "error", err)
		return sessionOutcome{kind: sessionFailed}
	}
	return sessionOutcome{kind: sessionDone, counts: result.Counts}
}
