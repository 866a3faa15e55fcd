package main

import (
	"fmt"
	"io"

	"drivebyfix/pkg/logscan"

	"github.com/spf13/cobra"
)

// inputFlags select where filenames come from.
type inputFlags struct {
	names []string
}

func (f *inputFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.names, "name", "n", nil, "filename to process instead of scanning logs (repeatable)")
}

// collectFilenames returns the filenames named with --name, or else those
// extracted from the log files in args. No args, or "-", reads stdin.
func collectFilenames(f *inputFlags, args []string, stdin io.Reader) ([]string, error) {
	if f != nil && len(f.names) > 0 {
		return f.names, nil
	}

	e := logscan.New()
	if len(args) == 0 {
		args = []string{"-"}
	}
	for _, path := range args {
		if path == "-" {
			if err := e.AddReader(stdin); err != nil {
				return nil, fmt.Errorf("failed to read stdin: %w", err)
			}
			continue
		}
		if err := e.AddFile(path); err != nil {
			return nil, err
		}
	}
	return e.Names(), nil
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan [LOG_FILE...]",
		Short: "List filenames reported as mismatched in sync client logs",
		Long: `Scan sync client logs for CONTENT_METADATA_MISMATCH failures and print each
affected filename once, sorted. Reads stdin when no file is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := collectFilenames(nil, args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			return nil
		},
	}
}
