package dataset

// SourceID identifies the dataset a name came from. Override entries are scoped per source.
type SourceID string

// Well-known sources
const (
	SubstationLocations SourceID = "substation_locations"
	LivePrimaryFlows    SourceID = "live_primary_flows"
)

// Row is one record of an input table as supplied by a loader.
// CanonicalID is set on the location table and empty on the flow table.
type Row struct {
	RawName     string `json:"raw_name"`
	CanonicalID string `json:"canonical_id,omitempty"`
}

// Table is an already-materialized input dataset
type Table struct {
	Source SourceID `json:"source_dataset_id"`
	Rows   []Row    `json:"rows"`
}

// Record is a row after normalization. Index is the position in the input table
// and is used to break ordering ties.
type Record struct {
	Source         SourceID `json:"source_dataset_id"`
	Index          int      `json:"index"`
	RawName        string   `json:"raw_name"`
	SimplifiedName string   `json:"simplified_name"`
	CanonicalID    string   `json:"canonical_id,omitempty"`
}

// CanonicalIDs returns the set of non-empty canonical ids in the table
func (t Table) CanonicalIDs() map[string]bool {
	ids := make(map[string]bool, len(t.Rows))
	for _, row := range t.Rows {
		if row.CanonicalID != "" {
			ids[row.CanonicalID] = true
		}
	}
	return ids
}

// Len returns the number of rows
func (t Table) Len() int {
	return len(t.Rows)
}
