// Package logscan pulls the names of files the sync agent failed to
// materialize out of its diagnostic logs.
package logscan

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
)

const (
	// MismatchMarker appears on every log line reporting that a file's content
	// did not match its cloud metadata.
	MismatchMarker = "'CONTENT_METADATA_MISMATCH'"

	// Sync agent lines easily exceed bufio's default 64KB token limit.
	maxLineSize = 4 * 1024 * 1024
)

var filenamePattern = regexp.MustCompile(`CloudFilename: filename="([^"]+)"`)

// FileReader abstracts file access for testability.
type FileReader interface {
	Open(path string) (io.ReadCloser, error)
}

type osFileReader struct{}

func (osFileReader) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Extractor collects filenames from log text. The zero value is not usable;
// call New.
type Extractor struct {
	reader FileReader
	names  map[string]struct{}
}

// New creates an Extractor reading files from the local filesystem.
func New() *Extractor {
	return NewWithReader(osFileReader{})
}

// NewWithReader creates an Extractor with a custom FileReader.
func NewWithReader(reader FileReader) *Extractor {
	return &Extractor{
		reader: reader,
		names:  make(map[string]struct{}),
	}
}

// AddText scans one log's full text.
func (e *Extractor) AddText(text string) {
	for _, line := range strings.Split(text, "\n") {
		e.addLine(line)
	}
}

// AddReader scans log content from r line by line. Only read errors are
// returned; lines that do not parse are skipped, and lines longer than
// maxLineSize are dropped without stopping the scan.
func (e *Extractor) AddReader(r io.Reader) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		line     []byte
		overlong bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if !overlong {
			line = append(line, chunk...)
			if len(line) > maxLineSize {
				overlong = true
				line = line[:0]
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}

		if !overlong {
			e.addLine(strings.TrimSuffix(string(line), "\n"))
		}
		line = line[:0]
		overlong = false

		if err != nil {
			return nil
		}
	}
}

// AddFile scans the log file at path.
func (e *Extractor) AddFile(path string) error {
	f, err := e.reader.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log %s: %w", path, err)
	}
	defer f.Close()

	if err := e.AddReader(f); err != nil {
		return fmt.Errorf("failed to read log %s: %w", path, err)
	}
	return nil
}

// Names returns the distinct filenames seen so far in ascending order.
func (e *Extractor) Names() []string {
	names := make([]string, 0, len(e.names))
	for name := range e.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Extractor) addLine(line string) {
	if name, ok := ParseLine(line); ok {
		e.names[name] = struct{}{}
	}
}

// ParseLine returns the filename reported by a metadata mismatch line.
func ParseLine(line string) (string, bool) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.Contains(line, MismatchMarker) {
		return "", false
	}
	match := filenamePattern.FindStringSubmatch(line)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// Extract returns the sorted, deduplicated filenames found across texts.
func Extract(texts ...string) []string {
	e := NewWithReader(osFileReader{})
	for _, text := range texts {
		e.AddText(text)
	}
	return e.Names()
}

// ExtractFiles reads every path and returns the union of their filenames.
func ExtractFiles(paths ...string) ([]string, error) {
	e := New()
	for _, path := range paths {
		if err := e.AddFile(path); err != nil {
			return nil, err
		}
	}
	return e.Names(), nil
}
