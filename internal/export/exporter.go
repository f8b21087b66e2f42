// Package export writes reconciliation results for downstream consumers and curators.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/nged-substations/internal/logging"
	"github.com/nged-substations/internal/override"
	"github.com/nged-substations/internal/reconcile"
)

// Exporter writes result files into a directory
type Exporter struct {
	dir    string
	logger zerolog.Logger
}

// NewExporter creates an exporter writing under dir
func NewExporter(dir string, logger *zerolog.Logger) *Exporter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Exporter{dir: dir, logger: *logger}
}

// Files lists what ExportAll wrote
type Files struct {
	Matches    string `json:"matches"`
	Unresolved string `json:"unresolved"`
	Result     string `json:"result"`
}

// ExportAll writes the mapping CSV, the unresolved report CSV and the full
// result as JSON. File names carry the live source id.
func (e *Exporter) ExportAll(res *reconcile.Result) (Files, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	files := Files{
		Matches:    filepath.Join(e.dir, fmt.Sprintf("%s_matches.csv", res.Live)),
		Unresolved: filepath.Join(e.dir, fmt.Sprintf("%s_unresolved.csv", res.Live)),
		Result:     filepath.Join(e.dir, fmt.Sprintf("%s_result.json", res.Live)),
	}

	if err := writeFile(files.Matches, func(w io.Writer) error { return WriteMatchesCSV(w, res.Matches) }); err != nil {
		return files, err
	}
	if err := writeFile(files.Unresolved, func(w io.Writer) error { return WriteUnresolvedCSV(w, res.Unresolved) }); err != nil {
		return files, err
	}
	if err := writeFile(files.Result, func(w io.Writer) error { return WriteJSON(w, res) }); err != nil {
		return files, err
	}

	e.logger.Info().
		Str("dir", e.dir).
		Int("matches", len(res.Matches)).
		Int("unresolved", len(res.Unresolved)).
		Msg("export complete")
	return files, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := write(file); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}

// MatchHeader is the column order of the mapping CSV
var MatchHeader = []string{
	"flow_raw_name", "flow_simplified_name", "canonical_id", "resolution", "reason", "reference_raw_name",
}

// WriteMatchesCSV writes one row per live record
func WriteMatchesCSV(w io.Writer, matches []reconcile.Match) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(MatchHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, m := range matches {
		row := []string{
			m.FlowRawName,
			m.FlowSimplifiedName,
			m.CanonicalID,
			string(m.Resolution),
			string(m.Reason),
			m.ReferenceRawName,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for %q: %w", m.FlowRawName, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// UnresolvedHeader is the column order of the triage report
var UnresolvedHeader = []string{"simplified_name", "raw_name", "source_dataset_id", "reason"}

// WriteUnresolvedCSV writes the curator triage report
func WriteUnresolvedCSV(w io.Writer, rows []reconcile.Unresolved) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(UnresolvedHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, u := range rows {
		if err := writer.Write([]string{u.SimplifiedName, u.RawName, string(u.Source), string(u.Reason)}); err != nil {
			return fmt.Errorf("failed to write row for %q: %w", u.RawName, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// HistoryHeader is the column order of the override audit export
var HistoryHeader = []string{
	"changed_at", "source_dataset_id", "simplified_name", "action", "old_canonical_id", "new_canonical_id", "changed_by", "note",
}

// WriteHistoryCSV writes override audit rows, oldest first as given
func WriteHistoryCSV(w io.Writer, records []override.AuditRecord) error {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(HistoryHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.ChangedAt.UTC().Format(time.RFC3339),
			string(r.Source),
			r.SimplifiedName,
			r.Action,
			deref(r.OldCanonicalID),
			deref(r.NewCanonicalID),
			r.ChangedBy,
			r.Note,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write audit row %d: %w", r.AuditID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteJSON writes v as indented JSON
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
