// Package spool buffers downloaded file content so it can be uploaded again.
// Small payloads stay in memory; larger ones spill into a temporary file.
package spool

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

const DefaultThreshold int64 = 64 * 1024 * 1024

var ErrClosed = errors.New("spool is closed")

// Spool is an io.Writer whose content can be re-read from the start any
// number of times. It is not safe for concurrent use.
type Spool struct {
	threshold int64
	dir       string
	buf       bytes.Buffer
	file      *os.File
	size      int64
	closed    bool
}

// New returns a Spool that keeps up to threshold bytes in memory before
// moving to a temp file in dir ("" means os.TempDir). A threshold of zero or
// less spills on the first write.
func New(threshold int64, dir string) *Spool {
	return &Spool{threshold: threshold, dir: dir}
}

func (s *Spool) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if s.file == nil && s.size+int64(len(p)) > s.threshold {
		if err := s.spill(); err != nil {
			return 0, err
		}
	}

	var (
		n   int
		err error
	)
	if s.file != nil {
		n, err = s.file.Write(p)
	} else {
		n, err = s.buf.Write(p)
	}
	s.size += int64(n)
	return n, err
}

func (s *Spool) spill() error {
	f, err := os.CreateTemp(s.dir, "drivebyfix-spool-*")
	if err != nil {
		return fmt.Errorf("failed to create spool file: %w", err)
	}
	if _, err := f.Write(s.buf.Bytes()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("failed to write spool file: %w", err)
	}
	s.buf = bytes.Buffer{}
	s.file = f
	return nil
}

// Size returns the number of bytes written.
func (s *Spool) Size() int64 {
	return s.size
}

// OnDisk reports whether the content spilled to a temp file.
func (s *Spool) OnDisk() bool {
	return s.file != nil
}

// Reader returns a reader positioned at the start of the content. Earlier
// readers must not be used after calling Reader again.
func (s *Spool) Reader() (io.ReadSeeker, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.file == nil {
		return bytes.NewReader(s.buf.Bytes()), nil
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind spool file: %w", err)
	}
	return io.NewSectionReader(s.file, 0, s.size), nil
}

// Close releases memory and removes the temp file, if any.
func (s *Spool) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.buf = bytes.Buffer{}
	if s.file == nil {
		return nil
	}
	name := s.file.Name()
	closeErr := s.file.Close()
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove spool file: %w", err)
	}
	return closeErr
}
