package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/strydelabs/hrrscan/core/hrr"
	"github.com/strydelabs/hrrscan/core/pipeline"
	"github.com/strydelabs/hrrscan/core/store"
)

var (
	runSessionID string
	runPreview   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a single session",
	Long: `Process one stored session through the full pipeline.

With --preview the classification is printed but nothing is persisted, which
is the intended way to inspect the effect of retuned thresholds before a
reprocessing batch.

Examples:
  hrrscan run --session 2026-08-12-morning
  hrrscan run --session 2026-08-12-morning --preview
  hrrscan run --session 2026-08-12-morning --config tuned.yaml --preview`,
	RunE: runSingle,
}

func init() {
	runCmd.Flags().StringVar(&runSessionID, "session", "", "session identifier (required)")
	runCmd.Flags().BoolVar(&runPreview, "preview", false, "classify without persisting")
	runCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(runCmd)
}

func runSingle(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	samples, err := st.LoadSamples(runSessionID)
	if err != nil {
		return err
	}

	p := pipeline.New(cfg, nil, slog.Default())
	result, err := p.ProcessSession(runSessionID, samples)
	if err != nil {
		return err
	}

	if !runPreview {
		runID := uuid.NewString()
		if err := st.BeginRun(runID, cfg.Version, cfg.Fingerprint()); err != nil {
			return err
		}
		if err := st.SaveSession(result, runID); err != nil {
			return err
		}
	}

	printSession(cmd.OutOrStdout(), result)
	if runPreview {
		fmt.Fprintln(cmd.OutOrStdout(), "\npreview mode: nothing persisted")
	}
	return nil
}

func printSession(out io.Writer, result *pipeline.SessionResult) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "session %s: %d candidates, %d merged duplicates, %d collapsed\n",
		result.SessionID, result.Counts.CandidatesFound,
		result.Counts.MergedDuplicates, result.Counts.Collapsed)
	fmt.Fprintln(w, "seq\tstart\tend\tpeak\tstatus\treason\torigin\tonset_delay")
	for _, iv := range result.Intervals {
		reason := string(iv.Reason)
		if iv.ReasonWindow != "" {
			reason = fmt.Sprintf("%s(%s)", reason, iv.ReasonWindow)
		}
		fmt.Fprintf(w, "%d\t%.0fs\t%.0fs\t%.0f\t%s\t%s\t%s\t%.0fs\n",
			iv.Seq, iv.StartOffset, iv.EndOffset, iv.PeakHR,
			iv.Status, reason, iv.Origin, iv.OnsetDelay)
		for _, f := range iv.Fits {
			if !f.Available {
				fmt.Fprintf(w, "\t%s\tn/a\t(%d samples)\n", f.Name, f.SampleCount)
				continue
			}
			fmt.Fprintf(w, "\t%s\ttau=%.1fs\tr2=%.3f\n", f.Name, *f.Tau, *f.R2)
		}
	}
	w.Flush()
}

func printReasons(out io.Writer, counts map[hrr.Reason]int) {
	reasons := make([]string, 0, len(counts))
	for reason := range counts {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(out, "  %-24s %d\n", reason, counts[hrr.Reason(reason)])
	}
}
