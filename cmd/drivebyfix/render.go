package main

import (
	"fmt"
	"sort"
	"strings"

	"drivebyfix/pkg/pipeline"
	"drivebyfix/pkg/remediation"
	"drivebyfix/pkg/types"
	"drivebyfix/pkg/utils"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/disiqueira/gotree/v3"
)

var (
	primaryColor   = lipgloss.Color("#FF79C6")
	secondaryColor = lipgloss.Color("#8BE9FD")
	accentColor    = lipgloss.Color("#50FA7B")
	warningColor   = lipgloss.Color("#FFB86C")
	dangerColor    = lipgloss.Color("#FF5555")
	mutedColor     = lipgloss.Color("#6272A4")
	bgLightColor   = lipgloss.Color("#44475A")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1).
			MarginBottom(1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor).
			Background(bgLightColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 1)

	stateStyles = map[pipeline.State]lipgloss.Style{
		pipeline.StateUnmodified: lipgloss.NewStyle().Foreground(accentColor),
		pipeline.StateRepaired:   lipgloss.NewStyle().Foreground(accentColor).Bold(true),
		pipeline.StateMismatch:   lipgloss.NewStyle().Foreground(warningColor).Bold(true),
		pipeline.StateFailed:     lipgloss.NewStyle().Foreground(dangerColor).Bold(true),
		pipeline.StateSkipped:    lipgloss.NewStyle().Foreground(mutedColor),
	}
)

func createPanel(title, content string) string {
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), content))
}

func renderProgressBar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := width * percent / 100

	bar := lipgloss.NewStyle().Foreground(accentColor).Render(strings.Repeat("█", filled))
	bar += lipgloss.NewStyle().Foreground(bgLightColor).Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %3d%%", bar, percent)
}

func describeRecord(f types.RemoteFile) string {
	return fmt.Sprintf("%s (%s, modified %s)", f.ID, utils.FormatDataSize(f.Size), f.ModifiedTime.Local().Format("2006-01-02 15:04"))
}

// renderPlan draws the lookup and eligibility result as a tree grouped by
// verdict.
func renderPlan(plan *pipeline.Plan) string {
	report := plan.Eligibility
	root := gotree.New(fmt.Sprintf("%d filename(s)", len(plan.Filenames)))

	approved := root.Add(fmt.Sprintf("Approved: %d record(s)", len(report.Approved)))
	byName := make(map[string]gotree.Tree)
	for _, f := range report.Approved {
		node, ok := byName[f.Name]
		if !ok {
			node = approved.Add(f.Name)
			byName[f.Name] = node
		}
		node.Add(describeRecord(f))
	}

	var failed []string
	for name := range plan.LookupErrors {
		failed = append(failed, name)
	}
	sort.Strings(failed)
	if len(failed) > 0 {
		branch := root.Add(fmt.Sprintf("Lookup failed: %d", len(failed)))
		for _, name := range failed {
			branch.Add(fmt.Sprintf("%s: %v", name, plan.LookupErrors[name]))
		}
	}

	var noMatch []string
	for _, name := range report.NoMatch {
		if _, lookupFailed := plan.LookupErrors[name]; !lookupFailed {
			noMatch = append(noMatch, name)
		}
	}
	if len(noMatch) > 0 {
		branch := root.Add(fmt.Sprintf("No match: %d", len(noMatch)))
		for _, name := range noMatch {
			branch.Add(name)
		}
	}

	if len(report.MissingCapabilities) > 0 {
		branch := root.Add(fmt.Sprintf("Missing capabilities: %d record(s)", len(report.MissingCapabilities)))
		for _, gap := range report.MissingCapabilities {
			missing := make([]string, len(gap.Missing))
			for i, c := range gap.Missing {
				missing[i] = string(c)
			}
			branch.Add(fmt.Sprintf("%s [%s]: cannot %s", gap.File.Name, gap.File.ID, strings.Join(missing, ", ")))
		}
	}

	if len(report.Shared) > 0 {
		branch := root.Add(fmt.Sprintf("Shared with me: %d record(s)", len(report.Shared)))
		for _, f := range report.Shared {
			branch.Add(fmt.Sprintf("%s [%s]: shared %s", f.Name, f.ID, f.SharedWithMe.Local().Format("2006-01-02")))
		}
	}

	if len(report.Held) > 0 {
		branch := root.Add(fmt.Sprintf("Held back with a flagged duplicate: %d record(s)", len(report.Held)))
		for _, f := range report.Held {
			branch.Add(fmt.Sprintf("%s [%s]", f.Name, f.ID))
		}
	}

	return createPanel("Lookup", strings.TrimRight(root.Print(), "\n")) + "\n"
}

func outcomeDetail(o remediation.Outcome) string {
	switch o.Kind {
	case remediation.OutcomeFailed:
		return fmt.Sprintf("%s: %v", o.Step, o.Err)
	case remediation.OutcomeMismatch:
		return fmt.Sprintf("declared %s, content %s", o.File.MD5Checksum, o.ComputedMD5)
	case remediation.OutcomeRepaired:
		if o.Backup != nil {
			return "backup " + o.Backup.Name
		}
		return ""
	default:
		return "checksum matches"
	}
}

// renderReport draws one table row per record outcome, or per skipped
// filename, followed by totals.
func renderReport(report *pipeline.Report) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return rowStyle
		})
	t.Headers("FILE", "ID", "STATE", "DETAIL")

	for _, f := range report.Files {
		style := stateStyles[f.State]
		if len(f.Outcomes) == 0 {
			t.Row(f.Filename, "", style.Render(string(f.State)), string(f.Reason))
			continue
		}
		for _, o := range f.Outcomes {
			t.Row(f.Filename, string(o.File.ID), stateStyles[stateOf(o)].Render(o.Kind.String()), outcomeDetail(o))
		}
		for _, rec := range f.Unselected {
			t.Row(f.Filename, string(rec.ID), stateStyles[pipeline.StateSkipped].Render(string(pipeline.StateSkipped)), string(pipeline.ReasonNotSelected))
		}
	}

	var b strings.Builder
	b.WriteString(t.Render())
	b.WriteString("\n")
	if report.BackupFolderName != "" {
		b.WriteString(mutedStyle.Render("Backups: "+report.BackupFolderName) + "\n")
	}

	var totals []string
	for _, state := range []pipeline.State{
		pipeline.StateRepaired,
		pipeline.StateUnmodified,
		pipeline.StateMismatch,
		pipeline.StateFailed,
		pipeline.StateSkipped,
	} {
		if n := report.Count(state); n > 0 {
			totals = append(totals, stateStyles[state].Render(fmt.Sprintf("%d %s", n, state)))
		}
	}
	if len(totals) == 0 {
		totals = append(totals, mutedStyle.Render("nothing to do"))
	}
	b.WriteString(strings.Join(totals, mutedStyle.Render(" · ")) + "\n")
	return b.String()
}

func stateOf(o remediation.Outcome) pipeline.State {
	switch o.Kind {
	case remediation.OutcomeRepaired:
		return pipeline.StateRepaired
	case remediation.OutcomeFailed:
		return pipeline.StateFailed
	case remediation.OutcomeMismatch:
		return pipeline.StateMismatch
	default:
		return pipeline.StateUnmodified
	}
}
