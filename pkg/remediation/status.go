package remediation

import (
	"sync"

	"drivebyfix/pkg/types"
)

// Phase is the human-readable label of a file's current step.
type Phase string

const (
	PhaseQueued       Phase = "queued"
	PhaseInitializing Phase = "initializing download"
	PhaseDownloading  Phase = "downloading"
	PhaseVerifying    Phase = "verifying checksum"
	PhaseBackingUp    Phase = "backing up"
	PhaseUploading    Phase = "uploading"

	PhaseUnmodified Phase = "not corrupted, left alone"
	PhaseCompleted  Phase = "completed"
	PhaseMismatch   Phase = "checksum mismatch"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether no further updates may follow p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseUnmodified, PhaseCompleted, PhaseMismatch, PhaseFailed:
		return true
	default:
		return false
	}
}

// NoProgress marks a status without a percentage.
const NoProgress = -1

type Status struct {
	Phase    Phase
	Progress int    // 0-100, or NoProgress
	Detail   string // error text for PhaseFailed
}

// Tracker holds the latest status of every file in a run. Each key is written
// only by the task that owns the file; readers take snapshots.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[types.FileID]Status
	order    []types.FileID
	onChange func(types.FileID, Status)
}

// NewTracker returns an empty tracker. onChange, when non-nil, is called
// after every accepted update, from the writing goroutine.
func NewTracker(onChange func(types.FileID, Status)) *Tracker {
	return &Tracker{
		statuses: make(map[types.FileID]Status),
		onChange: onChange,
	}
}

func (t *Tracker) register(id types.FileID) {
	t.mu.Lock()
	if _, ok := t.statuses[id]; !ok {
		t.order = append(t.order, id)
	}
	t.statuses[id] = Status{Phase: PhaseQueued, Progress: NoProgress}
	t.mu.Unlock()
}

// set stores status for id unless the file is already terminal or the update
// would move progress backwards within the same phase.
func (t *Tracker) set(id types.FileID, status Status) bool {
	if status.Progress > 100 {
		status.Progress = 100
	}

	t.mu.Lock()
	current, ok := t.statuses[id]
	if ok && current.Phase.Terminal() {
		t.mu.Unlock()
		return false
	}
	if ok && current.Phase == status.Phase && status.Progress < current.Progress {
		t.mu.Unlock()
		return false
	}
	if !ok {
		t.order = append(t.order, id)
	}
	t.statuses[id] = status
	t.mu.Unlock()

	if t.onChange != nil {
		t.onChange(id, status)
	}
	return true
}

// Get returns the current status of id.
func (t *Tracker) Get(id types.FileID) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.statuses[id]
	return s, ok
}

// Snapshot returns a copy of every status.
func (t *Tracker) Snapshot() map[types.FileID]Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[types.FileID]Status, len(t.statuses))
	for id, s := range t.statuses {
		out[id] = s
	}
	return out
}

// IDs returns tracked file IDs in registration order.
func (t *Tracker) IDs() []types.FileID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]types.FileID(nil), t.order...)
}

// Done reports whether every tracked file is terminal.
func (t *Tracker) Done() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.statuses {
		if !s.Phase.Terminal() {
			return false
		}
	}
	return true
}

// statusWriter is the single writer for one file's status.
type statusWriter struct {
	tracker *Tracker
	id      types.FileID
}

func (w statusWriter) phase(p Phase) {
	w.tracker.set(w.id, Status{Phase: p, Progress: NoProgress})
}

func (w statusWriter) progress(p Phase, percent int) {
	w.tracker.set(w.id, Status{Phase: p, Progress: percent})
}

func (w statusWriter) fail(err error) {
	w.tracker.set(w.id, Status{Phase: PhaseFailed, Progress: NoProgress, Detail: err.Error()})
}
