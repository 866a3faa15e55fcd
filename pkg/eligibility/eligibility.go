// Package eligibility decides which matched records are safe to remediate.
//
// Every record of every filename is classified. A filename is approved only
// when it has at least one record and none of its records is flagged; when
// one record is flagged the whole filename is withheld, because an ambiguous
// match must not be resolved silently.
package eligibility

import (
	"sort"

	"drivebyfix/pkg/types"
)

type VerdictKind int

const (
	VerdictEligible VerdictKind = iota
	VerdictNoMatch
	VerdictMissingCapability
	VerdictShared
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictEligible:
		return "eligible"
	case VerdictNoMatch:
		return "no_match"
	case VerdictMissingCapability:
		return "missing_capability"
	case VerdictShared:
		return "shared"
	default:
		return "unknown"
	}
}

// Verdict is one classification. NoMatch verdicts carry no File. A record
// that is both shared and missing capabilities gets one verdict of each kind.
type Verdict struct {
	Filename string
	Kind     VerdictKind
	File     *types.RemoteFile
	Missing  []types.Capability
}

// CapabilityGap names the capabilities a record lacks.
type CapabilityGap struct {
	File    types.RemoteFile
	Missing []types.Capability
}

type Report struct {
	// Filenames lists every evaluated name in ascending order.
	Filenames []string

	NoMatch             []string
	MissingCapabilities []CapabilityGap
	Shared              []types.RemoteFile

	// Held lists clean records withheld because another record with the same
	// name was flagged.
	Held []types.RemoteFile

	Approved []types.RemoteFile

	Verdicts map[string][]Verdict
}

// Evaluate classifies every filename in filenames against matches. Names that
// were never looked up are treated as having no match. When filenames is
// nil, the names in matches are used.
func Evaluate(filenames []string, matches types.MatchSet) *Report {
	if filenames == nil {
		filenames = matches.Names()
	}

	report := &Report{
		Filenames: dedupeSorted(filenames),
		Verdicts:  make(map[string][]Verdict),
	}

	for _, name := range report.Filenames {
		files := matches[name]
		if len(files) == 0 {
			report.NoMatch = append(report.NoMatch, name)
			report.Verdicts[name] = []Verdict{{Filename: name, Kind: VerdictNoMatch}}
			continue
		}

		var (
			verdicts []Verdict
			clean    []types.RemoteFile
		)
		for i := range files {
			file := files[i]
			flagged := false

			if missing := file.Capabilities.Missing(); len(missing) > 0 {
				report.MissingCapabilities = append(report.MissingCapabilities, CapabilityGap{File: file, Missing: missing})
				verdicts = append(verdicts, Verdict{Filename: name, Kind: VerdictMissingCapability, File: &file, Missing: missing})
				flagged = true
			}
			if file.IsShared() {
				report.Shared = append(report.Shared, file)
				verdicts = append(verdicts, Verdict{Filename: name, Kind: VerdictShared, File: &file})
				flagged = true
			}
			if !flagged {
				verdicts = append(verdicts, Verdict{Filename: name, Kind: VerdictEligible, File: &file})
				clean = append(clean, file)
			}
		}

		if len(clean) == len(files) {
			report.Approved = append(report.Approved, clean...)
		} else {
			report.Held = append(report.Held, clean...)
		}
		report.Verdicts[name] = verdicts
	}

	return report
}

// Clean reports whether nothing was flagged.
func (r *Report) Clean() bool {
	return len(r.NoMatch) == 0 && len(r.MissingCapabilities) == 0 && len(r.Shared) == 0
}

// Blocked reports whether name was excluded from the approved list.
func (r *Report) Blocked(name string) bool {
	for _, v := range r.Verdicts[name] {
		if v.Kind != VerdictEligible {
			return true
		}
	}
	_, evaluated := r.Verdicts[name]
	return !evaluated
}

// BlockedNames returns the excluded filenames in ascending order.
func (r *Report) BlockedNames() []string {
	var names []string
	for _, name := range r.Filenames {
		if r.Blocked(name) {
			names = append(names, name)
		}
	}
	return names
}

// Reasons returns the distinct verdict kinds that blocked name.
func (r *Report) Reasons(name string) []VerdictKind {
	seen := make(map[VerdictKind]bool)
	var kinds []VerdictKind
	for _, v := range r.Verdicts[name] {
		if v.Kind != VerdictEligible && !seen[v.Kind] {
			seen[v.Kind] = true
			kinds = append(kinds, v.Kind)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func dedupeSorted(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
