package matcher

import (
	"context"
	"sync"

	"drivebyfix/pkg/metrics"
	"drivebyfix/pkg/remote"
	"drivebyfix/pkg/types"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultWidth bounds concurrent lookups against the remote API.
const DefaultWidth = 10

// Result holds the lookups for every requested filename. Names whose lookup
// failed are present in Matches with no records and carry the cause in
// Errors.
type Result struct {
	Matches types.MatchSet
	Errors  map[string]error
}

// Matcher resolves filenames to remote records.
type Matcher struct {
	finder     remote.Finder
	width      int
	logger     *zap.Logger
	metrics    *metrics.Metrics
	onProgress func(done, total int)
}

type Option func(*Matcher)

func WithWidth(width int) Option {
	return func(m *Matcher) {
		if width > 0 {
			m.width = width
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Matcher) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Matcher) { m.metrics = mt }
}

// WithProgress registers a callback invoked after each lookup completes.
// Calls are serialized and done increases by one each time.
func WithProgress(fn func(done, total int)) Option {
	return func(m *Matcher) { m.onProgress = fn }
}

func New(finder remote.Finder, opts ...Option) *Matcher {
	m := &Matcher{
		finder: finder,
		width:  DefaultWidth,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match looks up every filename with at most width lookups in flight. A
// failing lookup never affects the others.
func (m *Matcher) Match(ctx context.Context, filenames []string) *Result {
	result := &Result{
		Matches: make(types.MatchSet, len(filenames)),
		Errors:  make(map[string]error),
	}
	if len(filenames) == 0 {
		return result
	}

	var (
		mu   sync.Mutex
		done int
	)
	total := len(filenames)

	g := new(errgroup.Group)
	g.SetLimit(m.width)

	for _, name := range filenames {
		g.Go(func() error {
			files, err := m.lookup(ctx, name)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[name] = err
				files = []types.RemoteFile{}
			}
			result.Matches[name] = files
			done++
			if m.onProgress != nil {
				m.onProgress(done, total)
			}
			return nil
		})
	}

	// Tasks never return errors; failures live in result.Errors.
	_ = g.Wait()

	m.logger.Info("Lookups completed",
		zap.Int("filenames", total),
		zap.Int("records", result.Matches.Count()),
		zap.Int("failures", len(result.Errors)))

	return result
}

func (m *Matcher) lookup(ctx context.Context, name string) ([]types.RemoteFile, error) {
	if m.metrics != nil {
		m.metrics.LookupsTotal.Inc()
	}

	files, err := m.finder.FindByName(ctx, name)
	if err != nil {
		m.logger.Warn("Lookup failed",
			zap.String("file_name", name),
			zap.Error(err))
		if m.metrics != nil {
			m.metrics.LookupFailures.Inc()
		}
		return nil, err
	}

	if files == nil {
		files = []types.RemoteFile{}
	}
	if m.metrics != nil {
		m.metrics.RecordsFound.Add(float64(len(files)))
	}
	m.logger.Debug("Lookup completed",
		zap.String("file_name", name),
		zap.Int("records", len(files)))
	return files, nil
}
