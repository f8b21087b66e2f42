package source

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/nged-substations/internal/dataset"
)

// CKANResource is one resource entry of a CKAN package
type CKANResource struct {
	Name         string   `json:"name"`
	Format       string   `json:"format"`
	URL          string   `json:"url"`
	Size         *int64   `json:"size"`
	LastModified ckanTime `json:"last_modified"`
}

type ckanPackage struct {
	Name      string         `json:"name"`
	Title     string         `json:"title"`
	Resources []CKANResource `json:"resources"`
}

type packageSearch struct {
	Count   int           `json:"count"`
	Results []ckanPackage `json:"results"`
}

// packageSearchResponse accepts either the full action API envelope or its
// bare result object.
type packageSearchResponse struct {
	Success *bool          `json:"success"`
	Result  *packageSearch `json:"result"`
	packageSearch
}

// ckanTime parses CKAN timestamps, which usually carry no zone and are UTC
type ckanTime struct {
	time.Time
}

var ckanLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02",
}

func (t *ckanTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil || s == "" {
		return nil
	}
	for _, layout := range ckanLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised CKAN timestamp %q", s)
}

// CKANOptions filters the resources of a package search
type CKANOptions struct {
	Source dataset.SourceID
	// MinSize drops resources at or below this many bytes; placeholder files are tiny
	MinSize int64
	// MaxAge drops resources not modified within this window of Now
	MaxAge time.Duration
	Now    func() time.Time
}

// DefaultCKANOptions mirrors the live primary flows feed
func DefaultCKANOptions() CKANOptions {
	return CKANOptions{
		Source:  dataset.LivePrimaryFlows,
		MinSize: 100,
		MaxAge:  48 * time.Hour,
	}
}

// LoadCKANResourcesFile opens path and calls LoadCKANResources
func LoadCKANResourcesFile(path string, opts CKANOptions) (dataset.Table, Report, error) {
	file, err := os.Open(path)
	if err != nil {
		return dataset.Table{}, Report{}, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()
	return LoadCKANResources(file, opts)
}

// LoadCKANResources builds a flow table from a saved package_search response.
// Only CSV resources are kept; names are de-duplicated keeping the first.
func LoadCKANResources(r io.Reader, opts CKANOptions) (dataset.Table, Report, error) {
	table := dataset.Table{Source: opts.Source}
	var report Report

	var resp packageSearchResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return table, report, fmt.Errorf("failed to decode CKAN package search: %w", err)
	}
	if resp.Success != nil && !*resp.Success {
		return table, report, fmt.Errorf("CKAN package search reported failure")
	}
	search := resp.packageSearch
	if resp.Result != nil {
		search = *resp.Result
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	var cutoff time.Time
	if opts.MaxAge > 0 {
		cutoff = now().Add(-opts.MaxAge)
	}

	seen := make(map[string]bool)
	for _, pkg := range search.Results {
		for i, res := range pkg.Resources {
			report.Read++
			name := strings.TrimSpace(res.Name)

			switch {
			case !strings.EqualFold(res.Format, "csv"):
				report.Filtered++
			case res.Size != nil && *res.Size <= opts.MinSize:
				report.Filtered++
			case !cutoff.IsZero() && !res.LastModified.IsZero() && res.LastModified.Before(cutoff):
				report.Filtered++
			case name == "":
				report.Skipped = append(report.Skipped, Skipped{Line: i, Reason: "empty name in package " + pkg.Name})
			case seen[name]:
				report.Filtered++
			default:
				seen[name] = true
				table.Rows = append(table.Rows, dataset.Row{RawName: name})
				report.Loaded++
			}
		}
	}
	return table, report, nil
}
