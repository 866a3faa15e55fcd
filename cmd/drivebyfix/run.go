package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"drivebyfix/pkg/config"
	"drivebyfix/pkg/metrics"
	"drivebyfix/pkg/pipeline"
	"drivebyfix/pkg/remediation"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// session holds what one lookup, verify or fix invocation needs.
type session struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	pipeline *pipeline.Pipeline
}

func newSession(ctx context.Context, flags *backendFlags, extra ...remediation.Option) (*session, error) {
	logger := setupLogger(verbose)

	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	threshold, err := cfg.SpoolThresholdBytes()
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	opts := append([]remediation.Option{
		remediation.WithSpool(threshold, cfg.SpoolDir),
		remediation.WithBackupFolder(cfg.BackupFolder),
	}, extra...)

	pipelineOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics.New(registry)),
		pipeline.WithWidth(cfg.Concurrency),
		pipeline.WithSchedulerOptions(opts...),
	}
	if isTerminal(os.Stderr) {
		pipelineOpts = append(pipelineOpts, pipeline.WithLookupProgress(func(done, total int) {
			fmt.Fprintf(os.Stderr, "\rLooking up  %s %d/%d", renderProgressBar(done*100/max(total, 1), 30), done, total)
			if done == total {
				fmt.Fprintln(os.Stderr)
			}
		}))
	}

	logger.Debug("Session ready",
		zap.String("backend", string(cfg.Backend)),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Int64("spool_threshold", threshold))

	return &session{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		pipeline: pipeline.New(store, pipelineOpts...),
	}, nil
}

// close flushes logs and writes the metrics file when one is configured.
func (s *session) close() {
	if s.cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(s.cfg.MetricsFile, s.registry); err != nil {
			s.logger.Warn("Failed to write metrics", zap.Error(err))
		}
	}
	_ = s.logger.Sync()
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func lookupCmd() *cobra.Command {
	var (
		input inputFlags
		flags backendFlags
	)

	cmd := &cobra.Command{
		Use:   "lookup [LOG_FILE...]",
		Short: "Find flagged files in remote storage and show which can be repaired",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := collectFilenames(&input, args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			s, err := newSession(cmd.Context(), &flags)
			if err != nil {
				return err
			}
			defer s.close()

			plan := s.pipeline.Plan(cmd.Context(), names)
			fmt.Fprint(cmd.OutOrStdout(), renderPlan(plan))
			return nil
		},
	}

	input.bind(cmd)
	flags.bind(cmd)
	return cmd
}

func verifyCmd() *cobra.Command {
	var (
		input     inputFlags
		flags     backendFlags
		selection selectionFlags
	)

	cmd := &cobra.Command{
		Use:   "verify [LOG_FILE...]",
		Short: "Download flagged files and compare them to their declared checksum",
		Long: `Verify downloads every approved file and reports whether its content matches
the checksum remote storage declares. Nothing is backed up or written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := collectFilenames(&input, args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			s, err := newSession(cmd.Context(), &flags)
			if err != nil {
				return err
			}
			defer s.close()

			plan := s.pipeline.Plan(cmd.Context(), names)
			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderPlan(plan))

			report, err := execute(cmd.Context(), out, plan, func(ctx context.Context, tracker *remediation.Tracker) (*pipeline.Report, error) {
				return s.pipeline.Verify(ctx, plan, selection.selection(), tracker)
			})
			if err != nil {
				return err
			}
			fmt.Fprint(out, renderReport(report))

			if n := report.Count(pipeline.StateFailed) + report.Count(pipeline.StateMismatch); n > 0 {
				return fmt.Errorf("%d file(s) failed verification", n)
			}
			return nil
		},
	}

	input.bind(cmd)
	flags.bind(cmd)
	selection.bind(cmd)
	return cmd
}

func fixCmd() *cobra.Command {
	var (
		input        inputFlags
		flags        backendFlags
		selection    selectionFlags
		yes          bool
		backupFolder string
	)

	cmd := &cobra.Command{
		Use:   "fix [LOG_FILE...]",
		Short: "Repair flagged files whose content does not match their checksum",
		Long: `Fix verifies every approved file. Files whose content does not match the
declared checksum are copied into a new backup folder and then re-uploaded
in place, which makes remote storage recompute their metadata.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := collectFilenames(&input, args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			var extra []remediation.Option
			if backupFolder != "" {
				extra = append(extra, remediation.WithBackupFolder(backupFolder))
			}
			s, err := newSession(cmd.Context(), &flags, extra...)
			if err != nil {
				return err
			}
			defer s.close()

			plan := s.pipeline.Plan(cmd.Context(), names)
			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderPlan(plan))

			sel := selection.selection()
			selected := len(sel.Filter(plan.Approved()))
			if selected > 0 && !yes {
				if !isTerminal(os.Stdin) {
					return fmt.Errorf("refusing to modify %d file(s) without --yes when stdin is not a terminal", selected)
				}
				ok, err := confirm(cmd.InOrStdin(), out, fmt.Sprintf("Verify and repair %d file(s)?", selected))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, mutedStyle.Render("Aborted, nothing was changed."))
					return nil
				}
			}

			report, err := execute(cmd.Context(), out, plan, func(ctx context.Context, tracker *remediation.Tracker) (*pipeline.Report, error) {
				return s.pipeline.Fix(ctx, plan, sel, tracker)
			})
			if err != nil {
				return err
			}
			fmt.Fprint(out, renderReport(report))

			if n := report.Count(pipeline.StateFailed); n > 0 {
				return fmt.Errorf("%d file(s) could not be repaired", n)
			}
			return nil
		},
	}

	input.bind(cmd)
	flags.bind(cmd)
	selection.bind(cmd)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	cmd.Flags().StringVar(&backupFolder, "backup-folder", "", "name prefix of the backup folder")
	return cmd
}

type selectionFlags struct {
	only    string
	exclude string
}

func (f *selectionFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.only, "only", "", "comma-separated file IDs to act on")
	cmd.Flags().StringVar(&f.exclude, "exclude", "", "comma-separated file IDs to leave alone")
}

func (f *selectionFlags) selection() pipeline.Selection {
	return pipeline.Selection{
		Only:    pipeline.ParseIDs(f.only),
		Exclude: pipeline.ParseIDs(f.exclude),
	}
}

// execute runs fn with a tracker, drawing live progress when stdout is a
// terminal.
func execute(ctx context.Context, out io.Writer, plan *pipeline.Plan, fn func(context.Context, *remediation.Tracker) (*pipeline.Report, error)) (*pipeline.Report, error) {
	tracker := remediation.NewTracker(nil)

	var view *liveView
	if f, ok := out.(*os.File); ok && isTerminal(f) {
		view = startLiveView(f, tracker, plan.Approved())
	}
	report, err := fn(ctx, tracker)
	if view != nil {
		view.Stop()
	}
	return report, err
}

// confirm asks a yes/no question; anything but y or yes is no.
func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
