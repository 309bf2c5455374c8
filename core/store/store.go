// Package store persists sessions, raw samples and classified recovery
// intervals in SQLite. It is the pipeline's only I/O boundary: sample loading
// and persistence are synchronous calls at the edges of a run, and a
// session's intervals are committed in a single transaction.
package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/strydelabs/hrrscan/core/hrr"
	"github.com/strydelabs/hrrscan/core/pipeline"
)

//go:embed schema.sql
var schemaSQL string

var ErrUnknownSession = errors.New("unknown session")

// claimStaleAfter is how long a claim may sit before another worker may take
// it over, covering workers that died mid-session.
const claimStaleAfter = 15 * time.Minute

// Store wraps one SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ImportSamples inserts a session and its samples in one transaction,
// replacing any previous samples for the same session.
func (s *Store) ImportSamples(sessionID string, startedAt time.Time, samples []hrr.Sample) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO sessions (id, started_at, sample_count, status)
		VALUES (?, ?, ?, 'pending')
		ON CONFLICT(id) DO UPDATE SET
			started_at = excluded.started_at,
			sample_count = excluded.sample_count,
			status = 'pending',
			config_version = NULL`,
		sessionID, startedAt.UTC().Format(time.RFC3339), len(samples))
	if err != nil {
		return fmt.Errorf("upserting session %s: %w", sessionID, err)
	}
	if _, err := tx.Exec(`DELETE FROM samples WHERE session_id = ?`, sessionID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO samples (session_id, offset_s, hr_bpm, source) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, sm := range samples {
		if _, err := stmt.Exec(sessionID, sm.Offset, sm.HR, sm.Source); err != nil {
			return fmt.Errorf("inserting sample at %.1fs: %w", sm.Offset, err)
		}
	}
	return tx.Commit()
}

// ListSessions returns sessions whose start time falls within [from, to].
// Nil bounds are open.
func (s *Store) ListSessions(from, to *time.Time) ([]pipeline.SessionRef, error) {
	query := `SELECT id, started_at FROM sessions`
	var (
		conds []string
		args  []any
	)
	if from != nil {
		conds = append(conds, `started_at >= ?`)
		args = append(args, from.UTC().Format(time.RFC3339))
	}
	if to != nil {
		conds = append(conds, `started_at <= ?`)
		args = append(args, to.UTC().Format(time.RFC3339))
	}
	for i, c := range conds {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}
	query += ` ORDER BY started_at, id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []pipeline.SessionRef
	for rows.Next() {
		var (
			ref pipeline.SessionRef
			ts  string
		)
		if err := rows.Scan(&ref.ID, &ts); err != nil {
			return nil, err
		}
		ref.StartedAt, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("session %s has malformed started_at %q: %w", ref.ID, ts, err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// LoadSamples returns a session's samples ordered by offset.
func (s *Store) LoadSamples(sessionID string) ([]hrr.Sample, error) {
	rows, err := s.db.Query(`
		SELECT offset_s, hr_bpm, source FROM samples
		WHERE session_id = ? ORDER BY offset_s`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []hrr.Sample
	for rows.Next() {
		var sm hrr.Sample
		if err := rows.Scan(&sm.Offset, &sm.HR, &sm.Source); err != nil {
			return nil, err
		}
		samples = append(samples, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return samples, nil
}

// Claim takes the session for owner if it is unclaimed, already ours, or the
// previous claim went stale. Returns false when another live worker holds it.
func (s *Store) Claim(sessionID, owner string) (bool, error) {
	now := time.Now().UTC()
	stale := now.Add(-claimStaleAfter).Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE sessions SET claimed_by = ?, claimed_at = ?
		WHERE id = ? AND (claimed_by IS NULL OR claimed_by = ? OR claimed_at < ?)`,
		owner, now.Format(time.RFC3339), sessionID, owner, stale)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Release drops owner's claim. Another worker's claim is left alone.
func (s *Store) Release(sessionID, owner string) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET claimed_by = NULL, claimed_at = NULL
		WHERE id = ? AND claimed_by = ?`, sessionID, owner)
	return err
}

// Processed reports whether the session was already classified under the
// given config version, supporting incremental batch runs.
func (s *Store) Processed(sessionID, configVersion string) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sessions
		WHERE id = ? AND status = 'processed' AND config_version = ?`,
		sessionID, configVersion).Scan(&n)
	return n > 0, err
}

// BeginRun records a run's identity and the exact thresholds behind it.
func (s *Store) BeginRun(runID, configVersion, fingerprint string) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, config_version, config_fingerprint)
		VALUES (?, ?, ?, ?)`,
		runID, time.Now().UTC().Format(time.RFC3339), configVersion, fingerprint)
	return err
}

// SaveSession commits one session's intervals atomically: previous intervals
// are deleted and the new set inserted in a single transaction, and the
// session is marked processed under the classifying config version.
// Reclassification is always delete-then-reinsert, never partial mutation.
func (s *Store) SaveSession(result *pipeline.SessionResult, runID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM intervals WHERE session_id = ?`, result.SessionID); err != nil {
		return err
	}

	ivStmt, err := tx.Prepare(`
		INSERT INTO intervals (session_id, seq, start_offset_s, end_offset_s,
			duration_s, peak_hr, status, reason, reason_window,
			onset_delay_s, origin, config_version, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer ivStmt.Close()

	cpStmt, err := tx.Prepare(`
		INSERT INTO interval_checkpoints (session_id, seq, delay_s, hr_bpm, drop_bpm, drop_pct)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer cpStmt.Close()

	fitStmt, err := tx.Prepare(`
		INSERT INTO interval_fits (session_id, seq, window, start_s, end_s, tau_s, r2, available, sample_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer fitStmt.Close()

	for _, iv := range result.Intervals {
		_, err := ivStmt.Exec(iv.SessionID, iv.Seq, iv.StartOffset, iv.EndOffset,
			iv.Duration, iv.PeakHR, string(iv.Status), string(iv.Reason), iv.ReasonWindow,
			iv.OnsetDelay, string(iv.Origin), iv.ConfigVersion, runID)
		if err != nil {
			return fmt.Errorf("inserting interval %d: %w", iv.Seq, err)
		}
		for _, cp := range iv.Checkpoints {
			// Nil checkpoint values persist as NULL, never zero.
			if _, err := cpStmt.Exec(iv.SessionID, iv.Seq, cp.DelayS, cp.HR, cp.Drop, cp.DropPct); err != nil {
				return fmt.Errorf("inserting checkpoint %.0fs: %w", cp.DelayS, err)
			}
		}
		for _, f := range iv.Fits {
			if _, err := fitStmt.Exec(iv.SessionID, iv.Seq, f.Name, f.StartS, f.EndS,
				f.Tau, f.R2, f.Available, f.SampleCount); err != nil {
				return fmt.Errorf("inserting fit %s: %w", f.Name, err)
			}
		}
	}

	if _, err := tx.Exec(`
		UPDATE sessions SET status = 'processed', config_version = ?,
			claimed_by = NULL, claimed_at = NULL
		WHERE id = ?`, result.ConfigVersion, result.SessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadIntervals returns a session's stored intervals with checkpoints and
// fits, ordered by sequence.
func (s *Store) LoadIntervals(sessionID string) ([]hrr.RecoveryInterval, error) {
	rows, err := s.db.Query(`
		SELECT seq, start_offset_s, end_offset_s, duration_s, peak_hr,
			status, reason, reason_window, onset_delay_s, origin, config_version
		FROM intervals WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intervals []hrr.RecoveryInterval
	for rows.Next() {
		iv := hrr.RecoveryInterval{SessionID: sessionID}
		var status, reason, origin string
		if err := rows.Scan(&iv.Seq, &iv.StartOffset, &iv.EndOffset, &iv.Duration,
			&iv.PeakHR, &status, &reason, &iv.ReasonWindow, &iv.OnsetDelay,
			&origin, &iv.ConfigVersion); err != nil {
			return nil, err
		}
		iv.Status = hrr.Status(status)
		iv.Reason = hrr.Reason(reason)
		iv.Origin = hrr.Origin(origin)
		intervals = append(intervals, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range intervals {
		if err := s.loadCheckpoints(&intervals[i]); err != nil {
			return nil, err
		}
		if err := s.loadFits(&intervals[i]); err != nil {
			return nil, err
		}
	}
	return intervals, nil
}

func (s *Store) loadCheckpoints(iv *hrr.RecoveryInterval) error {
	rows, err := s.db.Query(`
		SELECT delay_s, hr_bpm, drop_bpm, drop_pct FROM interval_checkpoints
		WHERE session_id = ? AND seq = ? ORDER BY delay_s`, iv.SessionID, iv.Seq)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var cp hrr.Checkpoint
		if err := rows.Scan(&cp.DelayS, &cp.HR, &cp.Drop, &cp.DropPct); err != nil {
			return err
		}
		iv.Checkpoints = append(iv.Checkpoints, cp)
	}
	return rows.Err()
}

func (s *Store) loadFits(iv *hrr.RecoveryInterval) error {
	rows, err := s.db.Query(`
		SELECT window, start_s, end_s, tau_s, r2, available, sample_count
		FROM interval_fits WHERE session_id = ? AND seq = ? ORDER BY start_s, end_s`,
		iv.SessionID, iv.Seq)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var f hrr.WindowFit
		if err := rows.Scan(&f.Name, &f.StartS, &f.EndS, &f.Tau, &f.R2,
			&f.Available, &f.SampleCount); err != nil {
			return err
		}
		iv.Fits = append(iv.Fits, f)
	}
	return rows.Err()
}
