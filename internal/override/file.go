package override

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/errors"
)

// Format of an override file
type Format string

const (
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var csvHeader = []string{"source_dataset_id", "simplified_name", "canonical_id", "updated_by", "updated_at", "note"}

// fileDocument is the on-disk YAML and JSON layout
type fileDocument struct {
	Overrides []Entry `yaml:"overrides" json:"overrides"`
}

// FileStore is a human-editable override table on disk. The whole file is
// loaded at open; every write re-persists the full table to a temporary file
// which is synced and renamed over the original, so a crash mid-write leaves
// the previously committed file intact.
type FileStore struct {
	*MemoryStore
	path   string
	format Format
}

// FormatFor picks the format from the file extension
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", errors.NewValidationError("path", path, "override file must end in .csv, .yaml, .yml or .json")
}

// OpenFile loads an override file. A missing file is an empty store that is
// created on first write. Keys stored twice with different canonical ids make
// the open fail with OverrideCollisionError values.
func OpenFile(path string) (*FileStore, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read override file %s: %w", path, err)
	default:
		entries, err = decode(format, data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse override file %s: %w", path, err)
		}
	}

	mem, err := NewMemoryStore(entries...)
	if err != nil {
		return nil, fmt.Errorf("override file %s: %w", path, err)
	}
	return &FileStore{MemoryStore: mem, path: path, format: format}, nil
}

// Path returns the backing file
func (f *FileStore) Path() string {
	return f.path
}

// Upsert writes an entry and persists the table before it becomes visible
func (f *FileStore) Upsert(_ context.Context, entry Entry, opts ...WriteOption) error {
	return f.apply(entry, opts, f.persist)
}

// Delete removes an entry and persists the table
func (f *FileStore) Delete(_ context.Context, source dataset.SourceID, simplifiedName string) error {
	return f.remove(Key{Source: source, SimplifiedName: simplifiedName}, f.persist)
}

func (f *FileStore) persist(next snapshot) error {
	data, err := encode(f.format, next.all())
	if err != nil {
		return fmt.Errorf("failed to encode overrides: %w", err)
	}
	return writeAtomic(f.path, data)
}

// writeAtomic replaces path with data via a synced temp file and rename
func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write overrides: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync overrides: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close overrides: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	if d, derr := os.Open(dir); derr == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

func decode(format Format, data []byte) ([]Entry, error) {
	var doc fileDocument
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	case FormatJSON:
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, nil
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		return decodeCSV(bytes.NewReader(data))
	}
	return doc.Overrides, nil
}

func encode(format Format, entries []Entry) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(fileDocument{Overrides: entries})
	case FormatJSON:
		if entries == nil {
			entries = []Entry{}
		}
		data, err := json.MarshalIndent(fileDocument{Overrides: entries}, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
	var buf bytes.Buffer
	if err := encodeCSV(&buf, entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCSV(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range csvHeader[:3] {
		if _, ok := cols[required]; !ok {
			return nil, errors.NewValidationError("header", header, "missing column "+required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var entries []Entry
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}

		e := Entry{
			Source:         dataset.SourceID(field(record, "source_dataset_id")),
			SimplifiedName: field(record, "simplified_name"),
			CanonicalID:    field(record, "canonical_id"),
			UpdatedBy:      field(record, "updated_by"),
			Note:           field(record, "note"),
		}
		if ts := field(record, "updated_at"); ts != "" {
			e.UpdatedAt, err = time.Parse(time.RFC3339, ts)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid updated_at %q: %w", line, ts, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func encodeCSV(w io.Writer, entries []Entry) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		updated := ""
		if !e.UpdatedAt.IsZero() {
			updated = e.UpdatedAt.UTC().Format(time.RFC3339)
		}
		record := []string{string(e.Source), e.SimplifiedName, e.CanonicalID, e.UpdatedBy, updated, e.Note}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
