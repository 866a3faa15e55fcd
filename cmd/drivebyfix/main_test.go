package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"drivebyfix/pkg/auth"
	"drivebyfix/pkg/config"
	"drivebyfix/pkg/pipeline"
	"drivebyfix/pkg/remediation"
	"drivebyfix/pkg/remote/memstore"
	"drivebyfix/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `2024-05-01 10:00:00 INFO sync started
2024-05-01 10:00:01 ERROR 'CONTENT_METADATA_MISMATCH' CloudFilename: filename="b.mp4" size=10
2024-05-01 10:00:02 ERROR 'CONTENT_METADATA_MISMATCH' CloudFilename: filename="a.mp4" size=12
2024-05-01 10:00:03 ERROR 'CONTENT_METADATA_MISMATCH' truncated
2024-05-01 10:00:04 ERROR 'CONTENT_METADATA_MISMATCH' CloudFilename: filename="b.mp4" size=10
`

func TestScanCmd_ReadsFilesAndStdin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")
	require.NoError(t, os.WriteFile(path, []byte(sampleLog), 0600))

	tests := []struct {
		name  string
		args  []string
		stdin string
	}{
		{"file argument", []string{path}, ""},
		{"stdin by default", nil, sampleLog},
		{"explicit dash", []string{"-"}, sampleLog},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := scanCmd()
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetIn(strings.NewReader(tt.stdin))
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			assert.Equal(t, "a.mp4\nb.mp4\n", out.String())
		})
	}
}

func TestScanCmd_MissingFile(t *testing.T) {
	cmd := scanCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "nope.log")})
	assert.Error(t, cmd.Execute())
}

func TestCollectFilenames_NamesOverrideLogs(t *testing.T) {
	names, err := collectFilenames(&inputFlags{names: []string{"x.mp4"}}, []string{"ignored.log"}, strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, []string{"x.mp4"}, names)
}

func TestBackendFlags_Apply(t *testing.T) {
	cfg := config.Default()
	flags := backendFlags{backend: "s3", concurrency: 3, metricsFile: "/tmp/m.prom"}
	flags.apply(cfg)

	assert.Equal(t, config.BackendS3, cfg.Backend)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, "/tmp/m.prom", cfg.MetricsFile)

	untouched := config.Default()
	(&backendFlags{}).apply(untouched)
	assert.Equal(t, config.Default(), untouched)
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			ok, err := confirm(strings.NewReader(tt.input), &out, "Proceed?")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
			assert.Equal(t, "Proceed? [y/N] ", out.String())
		})
	}
}

func TestSelectionFlags(t *testing.T) {
	f := selectionFlags{only: "a,b", exclude: "b"}
	sel := f.selection()
	assert.True(t, sel.Includes("a"))
	assert.False(t, sel.Includes("b"))
	assert.False(t, sel.Includes("c"))
}

func TestRenderProgressBar(t *testing.T) {
	assert.Contains(t, renderProgressBar(50, 10), " 50%")
	assert.Contains(t, renderProgressBar(150, 10), "100%")
	assert.Contains(t, renderProgressBar(-5, 10), "  0%")
}

func planAndFix(t *testing.T) (*pipeline.Plan, *pipeline.Report) {
	t.Helper()
	store := memstore.New()
	store.Put("good.mp4", []byte("fine"))
	store.Put("bad.mp4", []byte("served"), memstore.WithDeclaredMD5("00000000000000000000000000000000"))
	store.Put("locked.mp4", []byte("z"), memstore.WithCapabilities(types.Capabilities{CanDownload: true}))
	store.FailOn(memstore.OpFind, "broken.mp4", errors.New("backend unavailable"))

	p := pipeline.New(store)
	plan := p.Plan(context.Background(), []string{"good.mp4", "bad.mp4", "locked.mp4", "missing.mp4", "broken.mp4"})
	report, err := p.Fix(context.Background(), plan, pipeline.Selection{}, nil)
	require.NoError(t, err)
	return plan, report
}

func TestRenderPlan(t *testing.T) {
	plan, _ := planAndFix(t)
	out := renderPlan(plan)

	assert.Contains(t, out, "5 filename(s)")
	assert.Contains(t, out, "Approved: 2 record(s)")
	assert.Contains(t, out, "No match: 1")
	assert.Contains(t, out, "missing.mp4")
	assert.Contains(t, out, "Lookup failed: 1")
	assert.Contains(t, out, "broken.mp4: backend unavailable")
	assert.Contains(t, out, "cannot Edit, Copy, Delete")
	assert.NotContains(t, out, "Shared with me")
}

func TestRenderReport(t *testing.T) {
	_, report := planAndFix(t)
	out := renderReport(report)

	assert.Contains(t, out, "FILE")
	assert.Contains(t, out, "bad.mp4")
	assert.Contains(t, out, "backup bad.backup.mp4")
	assert.Contains(t, out, "checksum matches")
	assert.Contains(t, out, "lookup failed")
	assert.Contains(t, out, "missing capabilities")
	assert.Contains(t, out, "Backups: "+remediation.DefaultBackupFolder)
	assert.Contains(t, out, "1 repaired")
	assert.Contains(t, out, "1 unmodified")
	assert.Contains(t, out, "3 skipped")
}

func TestRenderReport_ListsUnselectedRecords(t *testing.T) {
	report := &pipeline.Report{Files: []pipeline.FileReport{{
		Filename: "dup.mp4",
		State:    pipeline.StateRepaired,
		Outcomes: []remediation.Outcome{{
			File: types.RemoteFile{ID: "id-kept", Name: "dup.mp4"},
			Kind: remediation.OutcomeRepaired,
		}},
		Unselected: []types.RemoteFile{{ID: "id-left", Name: "dup.mp4"}},
	}}}
	out := renderReport(report)

	assert.Contains(t, out, "id-kept")
	assert.Contains(t, out, "id-left")
	assert.Contains(t, out, "not selected")
	assert.Contains(t, out, "1 repaired")
}

func TestRenderReport_Empty(t *testing.T) {
	assert.Contains(t, renderReport(&pipeline.Report{}), "nothing to do")
}

func TestRenderStatusRows(t *testing.T) {
	ids := []types.FileID{"q", "d", "v", "c"}
	snapshot := map[types.FileID]remediation.Status{
		"q": {Phase: remediation.PhaseQueued, Progress: remediation.NoProgress},
		"d": {Phase: remediation.PhaseDownloading, Progress: 40},
		"v": {Phase: remediation.PhaseVerifying, Progress: remediation.NoProgress},
		"c": {Phase: remediation.PhaseCompleted, Progress: remediation.NoProgress},
	}
	rows := renderStatusRows(ids, snapshot, map[types.FileID]string{"d": "clip.mp4"})

	require.Len(t, rows, 2)
	assert.Contains(t, rows[0], "clip.mp4")
	assert.Contains(t, rows[0], " 40%")
	assert.Contains(t, rows[1], "v ")
	assert.Contains(t, rows[1], "verifying checksum")
	assert.NotContains(t, rows[1], "%")
}

func TestRenderAuthStatus(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	out := renderAuthStatus(auth.Status{TokenFile: "/tmp/token.json"}, now)
	assert.Contains(t, out, "Not signed in")
	assert.Contains(t, out, "/tmp/token.json")

	out = renderAuthStatus(auth.Status{SignedIn: true, Expiry: now.Add(-time.Hour), Refreshable: true}, now)
	assert.Contains(t, out, "Signed in")
	assert.Contains(t, out, "expired")
	assert.Contains(t, out, "Refresh token: present")

	out = renderAuthStatus(auth.Status{SignedIn: true, Expiry: now.Add(time.Hour)}, now)
	assert.Contains(t, out, "valid until")
	assert.Contains(t, out, "Refresh token: missing")
}

func TestVersionCmd(t *testing.T) {
	cmd := versionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "drivebyfix v"+version+"\n", out.String())
}
