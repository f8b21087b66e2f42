package match

import (
	"sort"

	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/normalize"
)

// Match joins left and right on SimplifiedName. Residuals are found by key set
// difference, not by comparing row counts, so collisions that happen to cancel
// out cannot hide a missing record.
//
// Records with degenerate keys never join and are returned as residuals.
// Output is ordered by simplified name then input index.
func Match(left, right []dataset.Record) Result {
	leftByKey, leftDegenerate := group(left)
	rightByKey, rightDegenerate := group(right)

	var result Result
	result.LeftOnly = append(result.LeftOnly, leftDegenerate...)
	result.RightOnly = append(result.RightOnly, rightDegenerate...)

	for key, ls := range leftByKey {
		rs := rightByKey[key]
		switch {
		case len(ls) > 1 || len(rs) > 1:
			result.Collisions = append(result.Collisions, Collision{
				SimplifiedName: key,
				Left:           ls,
				Right:          rs,
			})
		case len(rs) == 0:
			result.LeftOnly = append(result.LeftOnly, ls...)
		default:
			result.Matched = append(result.Matched, Pair{Left: ls[0], Right: rs[0]})
		}
	}

	for key, rs := range rightByKey {
		if _, ok := leftByKey[key]; ok {
			continue
		}
		if len(rs) > 1 {
			result.Collisions = append(result.Collisions, Collision{
				SimplifiedName: key,
				Right:          rs,
			})
			continue
		}
		result.RightOnly = append(result.RightOnly, rs...)
	}

	sort.Slice(result.Matched, func(i, j int) bool {
		return less(result.Matched[i].Left, result.Matched[j].Left)
	})
	sortRecords(result.LeftOnly)
	sortRecords(result.RightOnly)
	sort.Slice(result.Collisions, func(i, j int) bool {
		return result.Collisions[i].SimplifiedName < result.Collisions[j].SimplifiedName
	})
	return result
}

// group buckets records by key, keeping input order inside each bucket
func group(records []dataset.Record) (map[string][]dataset.Record, []dataset.Record) {
	byKey := make(map[string][]dataset.Record, len(records))
	var degenerate []dataset.Record
	for _, r := range records {
		if normalize.IsDegenerate(r.SimplifiedName) {
			degenerate = append(degenerate, r)
			continue
		}
		byKey[r.SimplifiedName] = append(byKey[r.SimplifiedName], r)
	}
	for _, rs := range byKey {
		sortRecords(rs)
	}
	return byKey, degenerate
}

func sortRecords(records []dataset.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return less(records[i], records[j])
	})
}

func less(a, b dataset.Record) bool {
	if a.SimplifiedName != b.SimplifiedName {
		return a.SimplifiedName < b.SimplifiedName
	}
	return a.Index < b.Index
}
