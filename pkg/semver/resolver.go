package semver

import (
	"sort"

	masterminds "github.com/Masterminds/semver/v3"
)

// VersionRecord pairs an instance with its reported version for resolution.
type VersionRecord struct {
	ID            string
	VersionString string
	Status        string // "active", "draining", "expired"
}

// ResolveParams holds parameters for Resolve.
type ResolveParams struct {
	Versions []VersionRecord
	Range    string // SemVer range, major-only, exact version, or empty
	// ActiveOnly drops records whose status is not "active".
	ActiveOnly bool
}

// Resolve returns all records matching the range, sorted by version
// descending. An empty range matches everything. Records whose version does
// not parse as SemVer only match the empty range.
func Resolve(params ResolveParams) []VersionRecord {
	filtered := make([]VersionRecord, 0, len(params.Versions))
	for _, v := range params.Versions {
		if params.ActiveOnly && v.Status != "active" {
			continue
		}
		filtered = append(filtered, v)
	}

	if len(filtered) == 0 {
		return nil
	}

	if params.Range == "" {
		sortVersionsDesc(filtered)
		return filtered
	}

	var matching []VersionRecord
	for _, v := range filtered {
		if SatisfiesRange(v.VersionString, params.Range) {
			matching = append(matching, v)
		}
	}

	sortVersionsDesc(matching)
	return matching
}

// Best returns the highest-versioned record matching the range, or nil.
func Best(params ResolveParams) *VersionRecord {
	matching := Resolve(params)
	if len(matching) == 0 {
		return nil
	}
	return &matching[0]
}

// SatisfiesRange checks if a version string satisfies a range.
func SatisfiesRange(version, rangeStr string) bool {
	if IsMajorOnly(rangeStr) {
		sv, err := masterminds.NewVersion(version)
		if err != nil {
			return false
		}
		return int(sv.Major()) == ExtractMajorFromRange(rangeStr)
	}

	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false
	}

	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}

	return constraint.Check(sv)
}

// HighestVersion returns the highest version string among records, or "".
func HighestVersion(records []VersionRecord) string {
	if len(records) == 0 {
		return ""
	}
	sorted := make([]VersionRecord, len(records))
	copy(sorted, records)
	sortVersionsDesc(sorted)
	return sorted[0].VersionString
}

// --- internal helpers ---

func sortVersionsDesc(records []VersionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		vi, erri := masterminds.NewVersion(records[i].VersionString)
		vj, errj := masterminds.NewVersion(records[j].VersionString)
		if erri != nil || errj != nil {
			// Unparseable versions sort last
			return errj != nil && erri == nil
		}
		return vi.GreaterThan(vj)
	})
}
