package remediation

import (
	"time"

	"drivebyfix/pkg/remote"
	"drivebyfix/pkg/types"
)

type OutcomeKind int

const (
	// OutcomeUnmodified means the downloaded bytes already matched the
	// declared checksum and nothing was written.
	OutcomeUnmodified OutcomeKind = iota
	OutcomeRepaired
	OutcomeFailed
	// OutcomeMismatch is the verify-only counterpart of a repair.
	OutcomeMismatch
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeUnmodified:
		return "unmodified"
	case OutcomeRepaired:
		return "repaired"
	case OutcomeFailed:
		return "failed"
	case OutcomeMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Step names the part of the procedure an error came from.
type Step string

const (
	StepPrecheck Step = "precheck"
	StepDownload Step = "download"
	StepBackup   Step = "backup"
	StepUpload   Step = "upload"
	StepAdmit    Step = "admit"
)

// Outcome is the terminal result for one file.
type Outcome struct {
	File        types.RemoteFile
	Kind        OutcomeKind
	ComputedMD5 string

	Err   error
	Class remote.FailureClass
	Step  Step

	// Backup is the copy made before the overwrite; Updated is the original
	// after the overwrite. Both are set only for OutcomeRepaired.
	Backup  *types.RemoteFile
	Updated *types.RemoteFile

	Elapsed time.Duration
}

// Succeeded reports whether the file can be carried forward.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeUnmodified || o.Kind == OutcomeRepaired
}

// Result collects the outcomes of one run, keyed by file ID.
type Result struct {
	RunID string

	// BackupFolderID and BackupFolderName are empty when no folder was needed.
	BackupFolderID   string
	BackupFolderName string

	Outcomes map[types.FileID]Outcome
	order    []types.FileID
}

func newResult(runID string, files []types.RemoteFile) *Result {
	r := &Result{
		RunID:    runID,
		Outcomes: make(map[types.FileID]Outcome, len(files)),
	}
	for _, f := range files {
		r.order = append(r.order, f.ID)
	}
	return r
}

// Ordered returns outcomes in submission order.
func (r *Result) Ordered() []Outcome {
	out := make([]Outcome, 0, len(r.order))
	for _, id := range r.order {
		if o, ok := r.Outcomes[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

// Count returns the number of outcomes of kind.
func (r *Result) Count(kind OutcomeKind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}
