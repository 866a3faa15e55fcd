package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"drivebyfix/pkg/auth"
	"drivebyfix/pkg/config"
	"drivebyfix/pkg/remote"
	"drivebyfix/pkg/remote/drive"
	"drivebyfix/pkg/remote/s3store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/api/option"
)

var version = "0.1.0"

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "drivebyfix",
		Short: "Repair cloud files flagged as corrupted by the sync client",
		Long: `drivebyfix reads sync client logs for CONTENT_METADATA_MISMATCH failures,
finds the matching files in remote storage, verifies their content against the
declared checksum and, where they differ, backs up and re-uploads them.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (JSON or YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		scanCmd(),
		lookupCmd(),
		verifyCmd(),
		fixCmd(),
		authCmd(),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "drivebyfix v%s\n", version)
		},
	}
}

// setupLogger writes JSON logs to stderr so reports on stdout stay clean.
func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// backendFlags are the config overrides shared by every command that talks
// to remote storage.
type backendFlags struct {
	backend     string
	concurrency int
	metricsFile string
}

func (f *backendFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.backend, "backend", "", "remote storage backend: drive or s3")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "maximum concurrent lookups and repairs")
	cmd.Flags().StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this file when done")
}

func (f *backendFlags) apply(cfg *config.Config) {
	if f.backend != "" {
		cfg.Backend = config.Backend(f.backend)
	}
	if f.concurrency != 0 {
		cfg.Concurrency = f.concurrency
	}
	if f.metricsFile != "" {
		cfg.MetricsFile = f.metricsFile
	}
}

// loadConfig resolves file, environment and flag settings and validates them.
func loadConfig(flags *backendFlags) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags != nil {
		flags.apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newAuthenticator(cfg *config.Config, logger *zap.Logger) (*auth.Authenticator, error) {
	oauthCfg, err := auth.LoadOAuthConfig(cfg.Drive.CredentialsFile)
	if err != nil {
		return nil, err
	}
	return auth.NewAuthenticator(oauthCfg, auth.NewTokenStore(cfg.Drive.TokenFile), logger), nil
}

// openStore connects to the configured backend.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (remote.Store, error) {
	switch cfg.Backend {
	case config.BackendS3:
		store, err := s3store.Open(ctx, s3store.Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	case config.BackendDrive:
		authn, err := newAuthenticator(cfg, logger)
		if err != nil {
			return nil, err
		}
		client, err := authn.Client(ctx)
		if errors.Is(err, remote.ErrNotSignedIn) {
			return nil, fmt.Errorf("%w: run 'drivebyfix auth login' first", err)
		}
		if err != nil {
			return nil, err
		}
		store, err := drive.New(ctx, logger, option.WithHTTPClient(client))
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
