// Package memstore is an in-memory remote.Store with call recording and
// fault injection, used to exercise the pipeline without a network.
package memstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"drivebyfix/pkg/remote"
	"drivebyfix/pkg/types"
)

type Op string

const (
	OpFind         Op = "find"
	OpDownload     Op = "download"
	OpCopy         Op = "copy"
	OpUpload       Op = "upload"
	OpCreateFolder Op = "create_folder"
)

// Call is one recorded operation.
type Call struct {
	Op     Op
	Target string // file ID, or the name for find and create_folder
}

type entry struct {
	file    types.RemoteFile
	content []byte
	owned   bool
	trashed bool
}

// Store keeps files in memory. All methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	entries  map[types.FileID]*entry
	order    []types.FileID
	folders  map[string]string
	failures map[Op]map[string]error
	calls    []Call
	nextID   int

	// Hook, when set, runs at the start of every operation outside the lock.
	// Tests use it to block or observe concurrency.
	Hook func(ctx context.Context, op Op, target string) error
}

func New() *Store {
	return &Store{
		entries:  make(map[types.FileID]*entry),
		folders:  make(map[string]string),
		failures: make(map[Op]map[string]error),
	}
}

// FileOption adjusts a file added with Put.
type FileOption func(*entry)

// WithDeclaredMD5 overrides the checksum the store reports for the file.
func WithDeclaredMD5(sum string) FileOption {
	return func(e *entry) { e.file.MD5Checksum = sum }
}

func WithCapabilities(c types.Capabilities) FileOption {
	return func(e *entry) { e.file.Capabilities = c }
}

func WithSharedWithMe(t time.Time) FileOption {
	return func(e *entry) { e.file.SharedWithMe = t }
}

func WithParents(parents ...string) FileOption {
	return func(e *entry) { e.file.Parents = parents }
}

func WithDeclaredSize(size int64) FileOption {
	return func(e *entry) { e.file.Size = size }
}

func NotOwned() FileOption {
	return func(e *entry) { e.owned = false }
}

func Trashed() FileOption {
	return func(e *entry) { e.trashed = true }
}

// Put adds a file with content and returns its record. By default the
// declared checksum matches the content.
func (s *Store) Put(name string, content []byte, opts ...FileOption) types.RemoteFile {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := types.FileID(fmt.Sprintf("file-%d", s.nextID))
	e := &entry{
		file: types.RemoteFile{
			ID:           id,
			Name:         name,
			MimeType:     "application/octet-stream",
			MD5Checksum:  Checksum(content),
			Size:         int64(len(content)),
			Version:      1,
			Parents:      []string{"root"},
			ModifiedTime: time.Now().UTC(),
			Capabilities: types.FullCapabilities(),
		},
		content: append([]byte(nil), content...),
		owned:   true,
	}
	for _, opt := range opts {
		opt(e)
	}
	s.entries[id] = e
	s.order = append(s.order, id)
	return e.file
}

// FailOn makes every op against target fail with err. Use "*" to match any
// target.
func (s *Store) FailOn(op Op, target string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[op] == nil {
		s.failures[op] = make(map[string]error)
	}
	s.failures[op][target] = err
}

// Calls returns a copy of the recorded operations in order.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsFor returns the recorded operations against target.
func (s *Store) CallsFor(target string) []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ops []Op
	for _, c := range s.calls {
		if c.Target == target {
			ops = append(ops, c.Op)
		}
	}
	return ops
}

// Count returns how many times op was called.
func (s *Store) Count(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Content returns the current bytes of a file.
func (s *Store) Content(id types.FileID) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.content...), true
}

// File returns the current record of a file.
func (s *Store) File(id types.FileID) (types.RemoteFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return types.RemoteFile{}, false
	}
	return e.file, true
}

// Folders returns created folder IDs keyed by name.
func (s *Store) Folders() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.folders))
	for name, id := range s.folders {
		out[name] = id
	}
	return out
}

// FilesIn returns the records whose first parent is folderID.
func (s *Store) FilesIn(folderID string) []types.RemoteFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	var files []types.RemoteFile
	for _, id := range s.order {
		if e := s.entries[id]; e.file.PrimaryParent() == folderID {
			files = append(files, e.file)
		}
	}
	return files
}

func (s *Store) begin(ctx context.Context, op Op, target string) error {
	if s.Hook != nil {
		if err := s.Hook(ctx, op, target); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: op, Target: target})
	if byTarget := s.failures[op]; byTarget != nil {
		if err, ok := byTarget[target]; ok {
			return err
		}
		if err, ok := byTarget["*"]; ok {
			return err
		}
	}
	return nil
}

func (s *Store) FindByName(ctx context.Context, name string) ([]types.RemoteFile, error) {
	if err := s.begin(ctx, OpFind, name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	files := []types.RemoteFile{}
	for _, id := range s.order {
		e := s.entries[id]
		if e.file.Name == name && e.owned && !e.trashed {
			files = append(files, e.file)
		}
	}
	return files, nil
}

func (s *Store) Download(ctx context.Context, file types.RemoteFile) (io.ReadCloser, error) {
	if err := s.begin(ctx, OpDownload, string(file.ID)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[file.ID]
	if !ok {
		return nil, fmt.Errorf("download %s: %w", file.ID, remote.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), e.content...))), nil
}

func (s *Store) Copy(ctx context.Context, file types.RemoteFile, name, sourceParent, destParent string) (types.RemoteFile, error) {
	if err := s.begin(ctx, OpCopy, string(file.ID)); err != nil {
		return types.RemoteFile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.entries[file.ID]
	if !ok {
		return types.RemoteFile{}, fmt.Errorf("copy %s: %w", file.ID, remote.ErrNotFound)
	}

	s.nextID++
	copied := src.file
	copied.ID = types.FileID(fmt.Sprintf("file-%d", s.nextID))
	copied.Name = name
	copied.Version = 1
	copied.ModifiedTime = time.Now().UTC()
	copied.Parents = moveParent(src.file.Parents, sourceParent, destParent)

	s.entries[copied.ID] = &entry{file: copied, content: append([]byte(nil), src.content...), owned: true}
	s.order = append(s.order, copied.ID)
	return copied, nil
}

func (s *Store) Upload(ctx context.Context, file types.RemoteFile, content io.ReadSeeker, size int64) (types.RemoteFile, error) {
	if err := s.begin(ctx, OpUpload, string(file.ID)); err != nil {
		return types.RemoteFile{}, err
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return types.RemoteFile{}, fmt.Errorf("upload %s: %w", file.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[file.ID]
	if !ok {
		return types.RemoteFile{}, fmt.Errorf("upload %s: %w", file.ID, remote.ErrNotFound)
	}
	e.content = data
	updated := e.file
	updated.MD5Checksum = Checksum(data)
	updated.Size = int64(len(data))
	updated.Version++
	updated.ModifiedTime = time.Now().UTC()
	e.file = updated
	return updated, nil
}

func (s *Store) CreateFolder(ctx context.Context, name string) (string, error) {
	if err := s.begin(ctx, OpCreateFolder, name); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("folder-%d", s.nextID)
	s.folders[name] = id
	return id, nil
}

// Checksum returns the lowercase hex MD5 of data.
func Checksum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func moveParent(parents []string, from, to string) []string {
	out := []string{to}
	for _, p := range parents {
		if p != from && p != to {
			out = append(out, p)
		}
	}
	return out
}

var _ remote.Store = (*Store)(nil)
