package remote

import (
	"io"
	"sync/atomic"
)

// ProgressFunc receives a transfer percentage in [0, 100]. Values passed to a
// single ProgressFunc never decrease.
type ProgressFunc func(percent int)

// progressTracker converts byte counts into non-decreasing percentages and
// only reports when the integer percentage changes.
type progressTracker struct {
	total    int64
	done     int64
	last     int
	progress ProgressFunc
}

func newProgressTracker(total int64, progress ProgressFunc) *progressTracker {
	return &progressTracker{total: total, last: -1, progress: progress}
}

func (t *progressTracker) add(n int) {
	if n <= 0 {
		return
	}
	t.done += int64(n)
	t.report()
}

func (t *progressTracker) report() {
	if t.progress == nil || t.total <= 0 {
		return
	}
	percent := int(t.done * 100 / t.total)
	if percent > 100 {
		percent = 100
	}
	if percent > t.last {
		t.last = percent
		t.progress(percent)
	}
}

// ProgressReader reports read progress against a declared total. A total of
// zero or less disables percentage reporting but still counts bytes.
type ProgressReader struct {
	r       io.Reader
	tracker *progressTracker
	count   atomic.Int64
}

func NewProgressReader(r io.Reader, total int64, progress ProgressFunc) *ProgressReader {
	return &ProgressReader{r: r, tracker: newProgressTracker(total, progress)}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.count.Add(int64(n))
	p.tracker.add(n)
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (p *ProgressReader) BytesRead() int64 {
	return p.count.Load()
}

// ProgressReadSeeker is a ProgressReader that keeps its source seekable, as
// SDKs that sign or retry request bodies require.
type ProgressReadSeeker struct {
	rs       io.ReadSeeker
	tracker  *progressTracker
	position int64
}

func NewProgressReadSeeker(rs io.ReadSeeker, total int64, progress ProgressFunc) *ProgressReadSeeker {
	return &ProgressReadSeeker{rs: rs, tracker: newProgressTracker(total, progress)}
}

func (p *ProgressReadSeeker) Read(b []byte) (int, error) {
	n, err := p.rs.Read(b)
	if n > 0 {
		p.position += int64(n)
		// Re-reads after a rewind are not counted twice.
		if p.position > p.tracker.done {
			p.tracker.add(int(p.position - p.tracker.done))
		}
	}
	return n, err
}

func (p *ProgressReadSeeker) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.rs.Seek(offset, whence)
	if err == nil {
		p.position = pos
	}
	return pos, err
}
