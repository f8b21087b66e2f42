// Package source loads the input tables from local files.
//
// Location tables come from the substation location CSV, flow tables from
// either a plain CSV of names or a CKAN package_search JSON document.
package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/errors"
)

// Columns names the header columns a CSV loader reads. Header matching is done
// on snake_cased names, so "Substation Name" matches "substation_name".
type Columns struct {
	Name string `mapstructure:"name"`
	ID   string `mapstructure:"id"`
	Type string `mapstructure:"type"`
}

// LocationColumns are the columns of the substation location CSV
var LocationColumns = Columns{Name: "substation_name", ID: "substation_number", Type: "substation_type"}

// FlowColumns are the columns of a flow name CSV
var FlowColumns = Columns{Name: "name"}

// Options controls a CSV load
type Options struct {
	Source  dataset.SourceID
	Columns Columns
	// TypeContains keeps only rows whose type column contains this text (case-insensitive)
	TypeContains string
	Logger       *zerolog.Logger
}

// Skipped is a row the loader could not use
type Skipped struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Report summarises a load
type Report struct {
	Read     int       `json:"read"`
	Loaded   int       `json:"loaded"`
	Filtered int       `json:"filtered"`
	Skipped  []Skipped `json:"skipped,omitempty"`
}

// LoadCSVFile opens path and calls LoadCSV
func LoadCSVFile(path string, opts Options) (dataset.Table, Report, error) {
	file, err := os.Open(path)
	if err != nil {
		return dataset.Table{}, Report{}, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()
	return LoadCSV(file, opts)
}

// LoadCSV reads a table from CSV. Rows with an empty name are skipped and
// reported. When an ID column is configured every kept row needs a unique id.
func LoadCSV(r io.Reader, opts Options) (dataset.Table, Report, error) {
	table := dataset.Table{Source: opts.Source}
	var report Report

	if opts.Source == "" {
		return table, report, errors.NewValidationError("source", "", "source dataset id is required")
	}
	if opts.Columns.Name == "" {
		return table, report, errors.NewValidationError("columns.name", "", "name column is required")
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return table, report, nil
	}
	if err != nil {
		return table, report, fmt.Errorf("failed to read header: %w", err)
	}

	col, err := mapColumns(header, opts.Columns)
	if err != nil {
		return table, report, err
	}

	seen := make(map[string]int)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return table, report, fmt.Errorf("failed to read CSV record: %w", err)
		}
		line, _ := reader.FieldPos(0)
		report.Read++

		if col.typ >= 0 && opts.TypeContains != "" {
			if !strings.Contains(strings.ToLower(field(record, col.typ)), strings.ToLower(opts.TypeContains)) {
				report.Filtered++
				continue
			}
		}

		name := field(record, col.name)
		if name == "" {
			report.Skipped = append(report.Skipped, Skipped{Line: line, Reason: "empty name"})
			logger.Warn().Int("line", line).Str("source", string(opts.Source)).Msg("skipping row with empty name")
			continue
		}

		row := dataset.Row{RawName: name}
		if col.id >= 0 {
			row.CanonicalID = field(record, col.id)
			if row.CanonicalID == "" {
				report.Skipped = append(report.Skipped, Skipped{Line: line, Reason: "empty id"})
				logger.Warn().Int("line", line).Str("name", name).Msg("skipping row with empty id")
				continue
			}
			if first, dup := seen[row.CanonicalID]; dup {
				return table, report, errors.NewValidationError(opts.Columns.ID, row.CanonicalID,
					fmt.Sprintf("id %q on line %d already used on line %d", row.CanonicalID, line, first))
			}
			seen[row.CanonicalID] = line
		}

		table.Rows = append(table.Rows, row)
		report.Loaded++
	}

	logger.Debug().
		Str("source", string(opts.Source)).
		Int("read", report.Read).
		Int("loaded", report.Loaded).
		Int("filtered", report.Filtered).
		Int("skipped", len(report.Skipped)).
		Msg("table loaded")
	return table, report, nil
}

type columnIndex struct {
	name, id, typ int
}

func mapColumns(header []string, cols Columns) (columnIndex, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[SnakeCase(h)] = i
	}

	lookup := func(name string, required bool) (int, error) {
		if name == "" {
			return -1, nil
		}
		i, ok := index[SnakeCase(name)]
		if !ok {
			if required {
				return -1, errors.NewValidationError("header", header,
					fmt.Sprintf("missing required column %q", name))
			}
			return -1, nil
		}
		return i, nil
	}

	var ci columnIndex
	var err error
	if ci.name, err = lookup(cols.Name, true); err != nil {
		return ci, err
	}
	if ci.id, err = lookup(cols.ID, true); err != nil {
		return ci, err
	}
	if ci.typ, err = lookup(cols.Type, false); err != nil {
		return ci, err
	}
	return ci, nil
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// SnakeCase turns a header like "Substation Name" or "SubstationNumber" into
// "substation_name" / "substation_number".
func SnakeCase(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "\ufeff")
	var b strings.Builder
	prevLower := false
	pendingSep := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && prevLower {
				pendingSep = true
			}
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		default:
			pendingSep = true
			prevLower = false
		}
	}
	return b.String()
}
