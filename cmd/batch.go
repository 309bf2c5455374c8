package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/strydelabs/hrrscan/core/pipeline"
	"github.com/strydelabs/hrrscan/core/store"
)

var (
	batchFrom    string
	batchTo      string
	batchForce   bool
	batchWorkers int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process a range of sessions",
	Long: `Process every stored session in a date range.

Sessions already classified under the current config version are skipped
unless --force is given. Workers claim disjoint sessions before starting, so
several batch processes may safely share one database.

Examples:
  hrrscan batch
  hrrscan batch --from 2026-08-01T00:00:00Z --to 2026-08-31T23:59:59Z
  hrrscan batch --force --workers 8`,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVar(&batchFrom, "from", "", "earliest session start (RFC3339)")
	batchCmd.Flags().StringVar(&batchTo, "to", "", "latest session start (RFC3339)")
	batchCmd.Flags().BoolVar(&batchForce, "force", false, "reprocess sessions already done under this config version")
	batchCmd.Flags().IntVar(&batchWorkers, "workers", pipeline.DefaultWorkers, "concurrent session workers")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := pipeline.BatchOptions{
		Force:   batchForce,
		Workers: batchWorkers,
		RunID:   uuid.NewString(),
	}
	if batchFrom != "" {
		t, err := time.Parse(time.RFC3339, batchFrom)
		if err != nil {
			return fmt.Errorf("parsing --from: %w", err)
		}
		opts.From = &t
	}
	if batchTo != "" {
		t, err := time.Parse(time.RFC3339, batchTo)
		if err != nil {
			return fmt.Errorf("parsing --to: %w", err)
		}
		opts.To = &t
	}

	if err := st.BeginRun(opts.RunID, cfg.Version, cfg.Fingerprint()); err != nil {
		return err
	}

	p := pipeline.New(cfg, nil, slog.Default())
	report, err := p.Batch(st, st, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s (config %s)\n", report.RunID, cfg.Version)
	fmt.Fprintf(out, "sessions: %d  skipped: %d  claimed elsewhere: %d  failed: %d\n",
		report.Sessions, report.Skipped, report.Claimed, report.Failed)
	fmt.Fprintf(out, "candidates: %d  merged duplicates: %d  collapsed: %d\n",
		report.Counts.CandidatesFound, report.Counts.MergedDuplicates, report.Counts.Collapsed)
	fmt.Fprintf(out, "passed: %d  flagged: %d  rejected: %d\n",
		report.Counts.Passed, report.Counts.Flagged, report.Counts.Rejected)
	if len(report.Counts.ByReason) > 0 {
		fmt.Fprintln(out, "rejected by reason:")
		printReasons(out, report.Counts.ByReason)
	}
	return nil
}
