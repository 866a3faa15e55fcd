// Package remediation repairs files whose stored metadata disagrees with
// their content: download, verify, back up, then overwrite in place.
package remediation

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"drivebyfix/pkg/metrics"
	"drivebyfix/pkg/remote"
	"drivebyfix/pkg/spool"
	"drivebyfix/pkg/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultWidth        = 10
	DefaultBackupFolder = "drive-by-fix backups"

	backupTimeLayout = "2006-01-02 15.04.05"
)

var errNoChecksum = fmt.Errorf("store declares no checksum: %w", remote.ErrUnsupportedContent)

type Scheduler struct {
	store          remote.Store
	width          int
	logger         *zap.Logger
	metrics        *metrics.Metrics
	spoolThreshold int64
	spoolDir       string
	backupPrefix   string
	now            func() time.Time
	verifyOnly     bool
}

type Option func(*Scheduler)

func WithWidth(width int) Option {
	return func(s *Scheduler) {
		if width > 0 {
			s.width = width
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithSpool sets how many downloaded bytes are kept in memory before the
// rest goes to a temp file in dir.
func WithSpool(threshold int64, dir string) Option {
	return func(s *Scheduler) {
		s.spoolThreshold = threshold
		s.spoolDir = dir
	}
}

// WithBackupFolder sets the name prefix of the per-run backup folder.
func WithBackupFolder(prefix string) Option {
	return func(s *Scheduler) {
		if prefix != "" {
			s.backupPrefix = prefix
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// VerifyOnly stops every procedure after the checksum comparison.
func VerifyOnly() Option {
	return func(s *Scheduler) { s.verifyOnly = true }
}

func New(store remote.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:          store,
		width:          DefaultWidth,
		logger:         zap.NewNop(),
		spoolThreshold: spool.DefaultThreshold,
		backupPrefix:   DefaultBackupFolder,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BackupName returns the name given to the backup copy of name.
func BackupName(name string) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		return name + ".backup"
	}
	return stem + ".backup" + ext
}

// Run repairs every file with at most width procedures in flight. Files are
// admitted in the order given. It returns once every file has a terminal
// outcome; the only error it returns is a failure to create the backup
// folder, in which case no file was touched.
//
// tracker may be nil. Files with the same ID are processed once.
func (s *Scheduler) Run(ctx context.Context, files []types.RemoteFile, tracker *Tracker) (*Result, error) {
	if tracker == nil {
		tracker = NewTracker(nil)
	}
	files = dedupe(files)

	runID := uuid.NewString()
	logger := s.logger.With(zap.String("run_id", runID))
	result := newResult(runID, files)

	for _, f := range files {
		tracker.register(f.ID)
	}
	if len(files) == 0 {
		return result, nil
	}

	var folderID string
	if !s.verifyOnly {
		name := fmt.Sprintf("%s %s", s.backupPrefix, s.now().UTC().Format(backupTimeLayout))
		id, err := s.store.CreateFolder(ctx, name)
		if err != nil {
			logger.Error("Failed to create backup folder",
				zap.String("backup_folder", name),
				zap.Error(err))
			return nil, abort(tracker, files, fmt.Errorf("failed to create backup folder %q: %w", name, err))
		}
		for _, f := range files {
			if f.PrimaryParent() == id {
				return nil, abort(tracker, files, fmt.Errorf("backup folder %s is the parent of %s", id, f.ID))
			}
		}
		folderID = id
		result.BackupFolderID = id
		result.BackupFolderName = name
		if s.metrics != nil {
			s.metrics.BackupFolders.Inc()
		}
		logger.Info("Backup folder created",
			zap.String("backup_folder", name),
			zap.String("folder_id", id))
	}

	if s.metrics != nil {
		s.metrics.FilesScheduled.Add(float64(len(files)))
	}
	logger.Info("Starting remediation",
		zap.Int("files", len(files)),
		zap.Int("width", s.width),
		zap.Bool("verify_only", s.verifyOnly))

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = semaphore.NewWeighted(int64(s.width))
	)
	record := func(o Outcome) {
		mu.Lock()
		result.Outcomes[o.File.ID] = o
		mu.Unlock()
	}

	// Acquire blocks in submission order, so waiting files are admitted FIFO.
	for _, file := range files {
		w := statusWriter{tracker: tracker, id: file.ID}
		if err := sem.Acquire(ctx, 1); err != nil {
			w.fail(err)
			record(s.finish(logger, Outcome{File: file, Kind: OutcomeFailed, Err: err, Class: remote.Classify(err), Step: StepAdmit}))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			record(s.process(ctx, logger, file, folderID, w))
		}()
	}
	wg.Wait()

	logger.Info("Remediation finished",
		zap.Int("repaired", result.Count(OutcomeRepaired)),
		zap.Int("unmodified", result.Count(OutcomeUnmodified)),
		zap.Int("mismatched", result.Count(OutcomeMismatch)),
		zap.Int("failed", result.Count(OutcomeFailed)))

	return result, nil
}

// abort marks every file failed with err so the tracker reaches a terminal
// state when the run never starts.
func abort(tracker *Tracker, files []types.RemoteFile, err error) error {
	for _, f := range files {
		statusWriter{tracker: tracker, id: f.ID}.fail(err)
	}
	return err
}

func (s *Scheduler) process(ctx context.Context, logger *zap.Logger, file types.RemoteFile, folderID string, w statusWriter) Outcome {
	start := s.now()
	if s.metrics != nil {
		s.metrics.FilesInFlight.Inc()
		defer s.metrics.FilesInFlight.Dec()
	}

	outcome := s.remediate(ctx, logger, file, folderID, w)
	outcome.Elapsed = s.now().Sub(start)

	switch outcome.Kind {
	case OutcomeUnmodified:
		w.phase(PhaseUnmodified)
	case OutcomeRepaired:
		w.phase(PhaseCompleted)
	case OutcomeMismatch:
		w.phase(PhaseMismatch)
	case OutcomeFailed:
		w.fail(outcome.Err)
	}
	return s.finish(logger, outcome)
}

func (s *Scheduler) finish(logger *zap.Logger, o Outcome) Outcome {
	fields := []zap.Field{
		zap.String("file_id", string(o.File.ID)),
		zap.String("file_name", o.File.Name),
		zap.String("outcome", o.Kind.String()),
		zap.Duration("elapsed", o.Elapsed),
	}
	if o.Kind == OutcomeFailed {
		logger.Warn("File remediation failed", append(fields,
			zap.String("step", string(o.Step)),
			zap.String("class", string(o.Class)),
			zap.Error(o.Err))...)
	} else {
		logger.Info("File remediation finished", fields...)
	}
	s.metrics.ObserveOutcome(o.Kind.String(), string(o.Class), o.Elapsed)
	return o
}

func (s *Scheduler) remediate(ctx context.Context, logger *zap.Logger, file types.RemoteFile, folderID string, w statusWriter) Outcome {
	failed := func(step Step, err error) Outcome {
		return Outcome{File: file, Kind: OutcomeFailed, Err: err, Class: remote.Classify(err), Step: step}
	}

	w.phase(PhaseInitializing)
	if file.MD5Checksum == "" {
		return failed(StepPrecheck, errNoChecksum)
	}

	buf := spool.New(s.spoolThreshold, s.spoolDir)
	defer func() {
		if err := buf.Close(); err != nil {
			logger.Warn("Failed to release download buffer",
				zap.String("file_id", string(file.ID)),
				zap.Error(err))
		}
	}()

	computed, err := s.download(ctx, file, buf, w)
	if err != nil {
		return failed(StepDownload, err)
	}

	w.phase(PhaseVerifying)
	if strings.EqualFold(computed, file.MD5Checksum) {
		return Outcome{File: file, Kind: OutcomeUnmodified, ComputedMD5: computed}
	}
	logger.Info("Checksum mismatch",
		zap.String("file_id", string(file.ID)),
		zap.String("declared_md5", file.MD5Checksum),
		zap.String("computed_md5", computed))
	if s.verifyOnly {
		return Outcome{File: file, Kind: OutcomeMismatch, ComputedMD5: computed}
	}

	w.phase(PhaseBackingUp)
	backup, err := s.store.Copy(ctx, file, BackupName(file.Name), file.PrimaryParent(), folderID)
	if err != nil {
		o := failed(StepBackup, fmt.Errorf("failed to back up %s: %w", file.ID, err))
		o.ComputedMD5 = computed
		return o
	}

	w.progress(PhaseUploading, 0)
	updated, err := s.upload(ctx, file, buf, w)
	if err != nil {
		o := failed(StepUpload, err)
		o.ComputedMD5 = computed
		o.Backup = &backup
		return o
	}

	return Outcome{
		File:        file,
		Kind:        OutcomeRepaired,
		ComputedMD5: computed,
		Backup:      &backup,
		Updated:     &updated,
	}
}

func (s *Scheduler) download(ctx context.Context, file types.RemoteFile, buf *spool.Spool, w statusWriter) (string, error) {
	body, err := s.store.Download(ctx, file)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", file.ID, err)
	}
	defer body.Close()

	if file.HasKnownSize() {
		w.progress(PhaseDownloading, 0)
	} else {
		w.phase(PhaseDownloading)
	}

	hash := md5.New()
	reader := remote.NewProgressReader(body, file.Size, func(percent int) {
		w.progress(PhaseDownloading, percent)
	})
	_, err = io.Copy(buf, io.TeeReader(reader, hash))
	if s.metrics != nil {
		s.metrics.BytesDownloaded.Add(float64(reader.BytesRead()))
	}
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", file.ID, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func (s *Scheduler) upload(ctx context.Context, file types.RemoteFile, buf *spool.Spool, w statusWriter) (types.RemoteFile, error) {
	content, err := buf.Reader()
	if err != nil {
		return types.RemoteFile{}, fmt.Errorf("failed to reopen downloaded content: %w", err)
	}

	size := buf.Size()
	reader := remote.NewProgressReadSeeker(content, size, func(percent int) {
		w.progress(PhaseUploading, percent)
	})
	updated, err := s.store.Upload(ctx, file, reader, size)
	if err != nil {
		return types.RemoteFile{}, fmt.Errorf("failed to upload %s: %w", file.ID, err)
	}
	if s.metrics != nil {
		s.metrics.BytesUploaded.Add(float64(size))
	}
	w.progress(PhaseUploading, 100)
	return updated, nil
}

func dedupe(files []types.RemoteFile) []types.RemoteFile {
	seen := make(map[types.FileID]struct{}, len(files))
	out := make([]types.RemoteFile, 0, len(files))
	for _, f := range files {
		if _, ok := seen[f.ID]; ok {
			continue
		}
		seen[f.ID] = struct{}{}
		out = append(out, f)
	}
	return out
}

