// Package pipeline ties lookup, eligibility and remediation together. It
// holds no state between calls: filenames and a selection go in, a report
// with one terminal state per filename comes out.
package pipeline

import (
	"context"
	"sort"

	"drivebyfix/pkg/eligibility"
	"drivebyfix/pkg/matcher"
	"drivebyfix/pkg/metrics"
	"drivebyfix/pkg/remediation"
	"drivebyfix/pkg/remote"
	"drivebyfix/pkg/types"

	"go.uber.org/zap"
)

type Pipeline struct {
	store          remote.Store
	logger         *zap.Logger
	metrics        *metrics.Metrics
	width          int
	lookupProgress func(done, total int)
	schedulerOpts  []remediation.Option
}

type Option func(*Pipeline)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithWidth bounds both concurrent lookups and concurrent repairs.
func WithWidth(width int) Option {
	return func(p *Pipeline) {
		if width > 0 {
			p.width = width
		}
	}
}

func WithLookupProgress(fn func(done, total int)) Option {
	return func(p *Pipeline) { p.lookupProgress = fn }
}

// WithSchedulerOptions passes extra options to every remediation run.
func WithSchedulerOptions(opts ...remediation.Option) Option {
	return func(p *Pipeline) { p.schedulerOpts = append(p.schedulerOpts, opts...) }
}

func New(store remote.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:  store,
		logger: zap.NewNop(),
		width:  remediation.DefaultWidth,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan is the result of looking up and gating a set of filenames.
type Plan struct {
	Filenames    []string
	Matches      types.MatchSet
	LookupErrors map[string]error
	Eligibility  *eligibility.Report
}

// Approved returns the records cleared for remediation.
func (p *Plan) Approved() []types.RemoteFile {
	return p.Eligibility.Approved
}

// Plan looks up every filename and classifies the matches.
func (p *Pipeline) Plan(ctx context.Context, filenames []string) *Plan {
	names := uniqueSorted(filenames)

	opts := []matcher.Option{
		matcher.WithWidth(p.width),
		matcher.WithLogger(p.logger),
		matcher.WithMetrics(p.metrics),
	}
	if p.lookupProgress != nil {
		opts = append(opts, matcher.WithProgress(p.lookupProgress))
	}
	result := matcher.New(p.store, opts...).Match(ctx, names)
	report := eligibility.Evaluate(names, result.Matches)

	if p.metrics != nil {
		for _, name := range report.BlockedNames() {
			p.metrics.SkippedTotal.WithLabelValues(string(skipReason(report, result.Errors, name))).Inc()
		}
		p.metrics.ApprovedTotal.Add(float64(len(report.Approved)))
	}
	p.logger.Info("Plan ready",
		zap.Int("filenames", len(names)),
		zap.Int("approved", len(report.Approved)),
		zap.Int("no_match", len(report.NoMatch)),
		zap.Int("missing_capabilities", len(report.MissingCapabilities)),
		zap.Int("shared", len(report.Shared)),
		zap.Int("held", len(report.Held)))

	return &Plan{
		Filenames:    names,
		Matches:      result.Matches,
		LookupErrors: result.Errors,
		Eligibility:  report,
	}
}

// Fix repairs the selected approved records.
func (p *Pipeline) Fix(ctx context.Context, plan *Plan, sel Selection, tracker *remediation.Tracker) (*Report, error) {
	return p.run(ctx, plan, sel, tracker, false)
}

// Verify checks the selected approved records without changing anything.
func (p *Pipeline) Verify(ctx context.Context, plan *Plan, sel Selection, tracker *remediation.Tracker) (*Report, error) {
	return p.run(ctx, plan, sel, tracker, true)
}

func (p *Pipeline) run(ctx context.Context, plan *Plan, sel Selection, tracker *remediation.Tracker, verifyOnly bool) (*Report, error) {
	selected := sel.Filter(plan.Approved())

	opts := []remediation.Option{
		remediation.WithWidth(p.width),
		remediation.WithLogger(p.logger),
		remediation.WithMetrics(p.metrics),
	}
	opts = append(opts, p.schedulerOpts...)
	if verifyOnly {
		opts = append(opts, remediation.VerifyOnly())
	}

	result, err := remediation.New(p.store, opts...).Run(ctx, selected, tracker)
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		if skipped := len(plan.Approved()) - len(selected); skipped > 0 {
			p.metrics.SkippedTotal.WithLabelValues(string(ReasonNotSelected)).Add(float64(skipped))
		}
	}
	return buildReport(plan, result), nil
}

func uniqueSorted(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
