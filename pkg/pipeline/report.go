package pipeline

import (
	"drivebyfix/pkg/eligibility"
	"drivebyfix/pkg/remediation"
	"drivebyfix/pkg/types"
)

// State is the single terminal state shown for a filename.
type State string

const (
	StateUnmodified State = "unmodified"
	StateRepaired   State = "repaired"
	StateMismatch   State = "mismatch"
	StateFailed     State = "failed"
	StateSkipped    State = "skipped"
)

type SkipReason string

const (
	ReasonNoMatch             SkipReason = "no match"
	ReasonLookupFailed        SkipReason = "lookup failed"
	ReasonMissingCapabilities SkipReason = "missing capabilities"
	ReasonShared              SkipReason = "shared with me"
	ReasonNotSelected         SkipReason = "not selected"
)

type FileReport struct {
	Filename string
	State    State
	Reason   SkipReason
	Outcomes []remediation.Outcome
	// Unselected lists approved records of this filename that the selection
	// left out while a sibling was processed.
	Unselected []types.RemoteFile
}

type Report struct {
	RunID            string
	BackupFolderName string
	Files            []FileReport
}

// Count returns the number of filenames in state.
func (r *Report) Count(state State) int {
	n := 0
	for _, f := range r.Files {
		if f.State == state {
			n++
		}
	}
	return n
}

func buildReport(plan *Plan, result *remediation.Result) *Report {
	report := &Report{
		RunID:            result.RunID,
		BackupFolderName: result.BackupFolderName,
	}

	for _, name := range plan.Filenames {
		file := FileReport{Filename: name}

		if plan.Eligibility.Blocked(name) {
			file.State = StateSkipped
			file.Reason = skipReason(plan.Eligibility, plan.LookupErrors, name)
			report.Files = append(report.Files, file)
			continue
		}

		for _, rec := range plan.Matches[name] {
			if o, ok := result.Outcomes[rec.ID]; ok {
				file.Outcomes = append(file.Outcomes, o)
			} else {
				file.Unselected = append(file.Unselected, rec)
			}
		}
		if len(file.Outcomes) == 0 {
			file.State = StateSkipped
			file.Reason = ReasonNotSelected
			file.Unselected = nil
		} else {
			file.State = aggregate(file.Outcomes)
		}
		report.Files = append(report.Files, file)
	}
	return report
}

// aggregate picks the most severe outcome among a filename's records.
func aggregate(outcomes []remediation.Outcome) State {
	state := StateUnmodified
	for _, o := range outcomes {
		switch o.Kind {
		case remediation.OutcomeFailed:
			return StateFailed
		case remediation.OutcomeMismatch:
			state = StateMismatch
		case remediation.OutcomeRepaired:
			if state != StateMismatch {
				state = StateRepaired
			}
		}
	}
	return state
}

// skipReason names the first reason a blocked filename was excluded.
func skipReason(report *eligibility.Report, lookupErrors map[string]error, name string) SkipReason {
	if _, failed := lookupErrors[name]; failed {
		return ReasonLookupFailed
	}
	reasons := report.Reasons(name)
	if len(reasons) == 0 {
		return ReasonNoMatch
	}
	switch reasons[0] {
	case eligibility.VerdictMissingCapability:
		return ReasonMissingCapabilities
	case eligibility.VerdictShared:
		return ReasonShared
	default:
		return ReasonNoMatch
	}
}
