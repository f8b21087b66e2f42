package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/logging"
	"github.com/nged-substations/internal/override"
	"github.com/nged-substations/internal/reconcile"
)

func sampleResult() *reconcile.Result {
	return &reconcile.Result{
		State:     reconcile.PartialUnresolved,
		Live:      dataset.LivePrimaryFlows,
		Reference: dataset.SubstationLocations,
		Matches: []reconcile.Match{
			{
				FlowRawName:        "Alliance & Leicester Primary Transformer Flows",
				FlowSimplifiedName: "alliance and leicester",
				CanonicalID:        "LOC-00001",
				Resolution:         reconcile.ResolutionAutomatic,
				ReferenceRawName:   "Alliance And Leicester 33 11kv S Stn",
			},
			{
				FlowRawName:        "Deanshanger Primary Transformer Flows",
				FlowSimplifiedName: "deanshanger",
				Resolution:         reconcile.ResolutionUnresolved,
				Reason:             reconcile.ReasonNoMatch,
			},
		},
		Unresolved: []reconcile.Unresolved{{
			SimplifiedName: "deanshanger",
			RawName:        "Deanshanger Primary Transformer Flows",
			Source:         dataset.LivePrimaryFlows,
			Reason:         reconcile.ReasonNoMatch,
		}},
	}
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestWriteMatchesCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMatchesCSV(&buf, sampleResult().Matches))

	records := readCSV(t, buf.Bytes())
	require.Len(t, records, 3)
	assert.Equal(t, MatchHeader, records[0])
	assert.Equal(t, []string{
		"Alliance & Leicester Primary Transformer Flows", "alliance and leicester", "LOC-00001",
		"automatic", "", "Alliance And Leicester 33 11kv S Stn",
	}, records[1])
	assert.Equal(t, "unresolved", records[2][3])
	assert.Equal(t, "no_match", records[2][4])
}

func TestWriteUnresolvedCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteUnresolvedCSV(&buf, sampleResult().Unresolved))

	records := readCSV(t, buf.Bytes())
	assert.Equal(t, [][]string{
		UnresolvedHeader,
		{"deanshanger", "Deanshanger Primary Transformer Flows", "live_primary_flows", "no_match"},
	}, records)
}

func TestExportAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	logger := logging.Nop()

	files, err := NewExporter(dir, &logger).ExportAll(sampleResult())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "live_primary_flows_matches.csv"), files.Matches)

	data, err := os.ReadFile(files.Result)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "partial_unresolved", decoded["state"])

	for _, path := range []string{files.Matches, files.Unresolved} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestWriteHistoryCSV(t *testing.T) {
	oldID, newID := "110417", "110418"
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	records := []override.AuditRecord{
		{AuditID: 1, Source: dataset.LivePrimaryFlows, SimplifiedName: "deanshanger", Action: "insert", NewCanonicalID: &oldID, ChangedBy: "curator", ChangedAt: at},
		{AuditID: 2, Source: dataset.LivePrimaryFlows, SimplifiedName: "deanshanger", Action: "replace", OldCanonicalID: &oldID, NewCanonicalID: &newID, ChangedAt: at.Add(time.Hour), Note: "moved"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteHistoryCSV(&buf, records))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, HistoryHeader, rows[0])
	assert.Equal(t, []string{"2024-03-01T09:30:00Z", "live_primary_flows", "deanshanger", "insert", "", "110417", "curator", ""}, rows[1])
	assert.Equal(t, "110417", rows[2][4])
	assert.Equal(t, "moved", rows[2][7])
}
