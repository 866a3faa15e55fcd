package eligibility

import (
	"testing"
	"time"

	"drivebyfix/pkg/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id, name string, opts ...func(*types.RemoteFile)) types.RemoteFile {
	f := types.RemoteFile{
		ID:           types.FileID(id),
		Name:         name,
		Size:         10,
		Parents:      []string{"root"},
		Capabilities: types.FullCapabilities(),
	}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

func caps(c types.Capabilities) func(*types.RemoteFile) {
	return func(f *types.RemoteFile) { f.Capabilities = c }
}

func shared(f *types.RemoteFile) {
	f.SharedWithMe = time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
}

func ids(files []types.RemoteFile) []types.FileID {
	var out []types.FileID
	for _, f := range files {
		out = append(out, f.ID)
	}
	return out
}

func TestEvaluate_AllClean(t *testing.T) {
	matches := types.MatchSet{
		"a.mp4": {record("1", "a.mp4")},
		"b.mp4": {record("2", "b.mp4"), record("3", "b.mp4")},
	}

	report := Evaluate([]string{"b.mp4", "a.mp4"}, matches)

	assert.True(t, report.Clean())
	assert.Equal(t, []string{"a.mp4", "b.mp4"}, report.Filenames)
	assert.Equal(t, []types.FileID{"1", "2", "3"}, ids(report.Approved))
	assert.Empty(t, report.Held)
	assert.Empty(t, report.BlockedNames())
}

func TestEvaluate_NoMatch(t *testing.T) {
	matches := types.MatchSet{
		"empty.mp4": {},
	}

	report := Evaluate([]string{"empty.mp4", "never-looked-up.mp4"}, matches)

	assert.Equal(t, []string{"empty.mp4", "never-looked-up.mp4"}, report.NoMatch)
	assert.Empty(t, report.Approved)
	assert.True(t, report.Blocked("empty.mp4"))
	assert.Equal(t, []VerdictKind{VerdictNoMatch}, report.Reasons("empty.mp4"))
}

func TestEvaluate_MissingCapabilitiesNamesExactlyTheFalseOnes(t *testing.T) {
	tests := []struct {
		name     string
		caps     types.Capabilities
		expected []types.Capability
	}{
		{"no edit", types.Capabilities{CanCopy: true, CanDelete: true, CanDownload: true}, []types.Capability{types.CapabilityEdit}},
		{"no delete or download", types.Capabilities{CanEdit: true, CanCopy: true}, []types.Capability{types.CapabilityDelete, types.CapabilityDownload}},
		{"nothing", types.Capabilities{}, types.RequiredCapabilities},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := types.MatchSet{"x.mov": {record("1", "x.mov", caps(tt.caps))}}
			report := Evaluate(nil, matches)

			require.Len(t, report.MissingCapabilities, 1)
			assert.Equal(t, tt.expected, report.MissingCapabilities[0].Missing)
			assert.Empty(t, report.Approved)
			assert.True(t, report.Blocked("x.mov"))
		})
	}
}

func TestEvaluate_SharedRecord(t *testing.T) {
	matches := types.MatchSet{"s.jpg": {record("1", "s.jpg", shared)}}

	report := Evaluate(nil, matches)

	assert.Equal(t, []types.FileID{"1"}, ids(report.Shared))
	assert.Empty(t, report.MissingCapabilities)
	assert.Empty(t, report.Approved)
}

func TestEvaluate_OneBadRecordBlocksWholeFilename(t *testing.T) {
	matches := types.MatchSet{
		"dup.mp4": {
			record("good", "dup.mp4"),
			record("bad", "dup.mp4", caps(types.Capabilities{CanEdit: true, CanCopy: true, CanDownload: true})),
		},
		"ok.mp4": {record("ok", "ok.mp4")},
	}

	report := Evaluate(nil, matches)

	assert.Equal(t, []types.FileID{"ok"}, ids(report.Approved))
	assert.Equal(t, []types.FileID{"good"}, ids(report.Held))
	assert.Equal(t, []string{"dup.mp4"}, report.BlockedNames())
}

func TestEvaluate_RecordInSeveralSkipCategories(t *testing.T) {
	matches := types.MatchSet{
		"both.mp4": {record("1", "both.mp4", shared, caps(types.Capabilities{CanDownload: true}))},
	}

	report := Evaluate(nil, matches)

	assert.Len(t, report.MissingCapabilities, 1)
	assert.Len(t, report.Shared, 1)
	assert.Equal(t, []VerdictKind{VerdictMissingCapability, VerdictShared}, report.Reasons("both.mp4"))
}

func TestEvaluate_VerdictsPerFilename(t *testing.T) {
	good := record("1", "a")
	matches := types.MatchSet{"a": {good}, "b": {}}

	report := Evaluate(nil, matches)

	want := map[string][]Verdict{
		"a": {{Filename: "a", Kind: VerdictEligible, File: &good}},
		"b": {{Filename: "b", Kind: VerdictNoMatch}},
	}
	assert.Empty(t, cmp.Diff(want, report.Verdicts))
}

func TestEvaluate_DeduplicatesFilenames(t *testing.T) {
	matches := types.MatchSet{"a": {record("1", "a")}}
	report := Evaluate([]string{"a", "a"}, matches)

	assert.Equal(t, []string{"a"}, report.Filenames)
	assert.Len(t, report.Approved, 1)
}

func TestVerdictKindString(t *testing.T) {
	assert.Equal(t, "eligible", VerdictEligible.String())
	assert.Equal(t, "no_match", VerdictNoMatch.String())
	assert.Equal(t, "missing_capability", VerdictMissingCapability.String())
	assert.Equal(t, "shared", VerdictShared.String())
}
