package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"drivebyfix/pkg/remediation"
	"drivebyfix/pkg/types"
)

const liveRefresh = 150 * time.Millisecond

// liveView redraws the status of running files in place until stopped.
type liveView struct {
	out     io.Writer
	tracker *remediation.Tracker
	names   map[types.FileID]string
	total   int
	lines   int

	stop chan struct{}
	wg   sync.WaitGroup
}

func startLiveView(out io.Writer, tracker *remediation.Tracker, files []types.RemoteFile) *liveView {
	v := &liveView{
		out:     out,
		tracker: tracker,
		names:   make(map[types.FileID]string, len(files)),
		total:   len(files),
		stop:    make(chan struct{}),
	}
	for _, f := range files {
		v.names[f.ID] = f.Name
	}

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		ticker := time.NewTicker(liveRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-v.stop:
				v.clear()
				return
			case <-ticker.C:
				v.draw()
			}
		}
	}()
	return v
}

func (v *liveView) Stop() {
	close(v.stop)
	v.wg.Wait()
}

func (v *liveView) clear() {
	if v.lines > 0 {
		fmt.Fprintf(v.out, "\x1b[%dA\x1b[J", v.lines)
		v.lines = 0
	}
}

func (v *liveView) draw() {
	snapshot := v.tracker.Snapshot()
	rows := renderStatusRows(v.tracker.IDs(), snapshot, v.names)

	done := 0
	for _, s := range snapshot {
		if s.Phase.Terminal() {
			done++
		}
	}

	v.clear()
	fmt.Fprintf(v.out, "%s %d/%d done\n", titleStyle.Render("Remediating"), done, v.total)
	for _, row := range rows {
		fmt.Fprintln(v.out, row)
	}
	v.lines = len(rows) + 1
}

// renderStatusRows formats every file that is neither queued nor terminal.
func renderStatusRows(ids []types.FileID, snapshot map[types.FileID]remediation.Status, names map[types.FileID]string) []string {
	var rows []string
	for _, id := range ids {
		s := snapshot[id]
		if s.Phase == remediation.PhaseQueued || s.Phase.Terminal() {
			continue
		}
		name := names[id]
		if name == "" {
			name = string(id)
		}
		row := fmt.Sprintf("  %-32.32s %-22s", name, s.Phase)
		if s.Progress != remediation.NoProgress {
			row += " " + renderProgressBar(s.Progress, 20)
		}
		rows = append(rows, row)
	}
	return rows
}
