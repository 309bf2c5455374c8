package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/strydelabs/hrrscan/core/hrr"
	"github.com/strydelabs/hrrscan/core/store"
)

var importFile string

// importColumns is the expected CSV header. The source column is optional.
const importColumns = "session_id,offset_s,hr_bpm[,source]"

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import heart-rate samples from CSV",
	Long: fmt.Sprintf(`Import sessions from a CSV export with columns %s.

Malformed rows are logged and skipped. Sessions whose samples are not
monotonically increasing in offset are rejected whole: the pipeline never
processes a partially valid session.`, importColumns),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "CSV file to import (required)")
	importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	f, err := os.Open(importFile)
	if err != nil {
		return err
	}
	defer f.Close()

	sessions, err := readSampleCSV(f)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(sessions))
	for sessionID := range sessions {
		ids = append(ids, sessionID)
	}
	sort.Strings(ids)

	imported := 0
	for _, sessionID := range ids {
		samples := sessions[sessionID]
		if err := hrr.ValidateSeries(samples); err != nil {
			slog.Warn("session rejected at import", "session", sessionID, "error", err)
			continue
		}
		if err := st.ImportSamples(sessionID, time.Now().UTC(), samples); err != nil {
			return fmt.Errorf("importing session %s: %w", sessionID, err)
		}
		imported++
		fmt.Fprintf(cmd.OutOrStdout(), "imported %s: %d samples\n", sessionID, len(samples))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d sessions imported\n", imported, len(sessions))
	return nil
}

// readSampleCSV parses rows into per-session sample slices, preserving file
// order within each session.
func readSampleCSV(r io.Reader) (map[string][]hrr.Sample, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	if len(header) < 3 || header[0] != "session_id" || header[1] != "offset_s" || header[2] != "hr_bpm" {
		return nil, fmt.Errorf("unexpected CSV header %v, want %s", header, importColumns)
	}

	sessions := make(map[string][]hrr.Sample)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			slog.Warn("skipping malformed CSV row", "line", line, "error", err)
			continue
		}
		if len(record) < 3 {
			slog.Warn("skipping short CSV row", "line", line)
			continue
		}
		offset, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			slog.Warn("skipping row with bad offset", "line", line, "offset", record[1])
			continue
		}
		bpm, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			slog.Warn("skipping row with bad heart rate", "line", line, "hr", record[2])
			continue
		}
		source := ""
		if len(record) > 3 {
			source = record[3]
		}
		sessions[record[0]] = append(sessions[record[0]], hrr.Sample{
			Offset: offset,
			HR:     bpm,
			Source: source,
		})
	}
	return sessions, nil
}
