// Package cli wires the taskmirror commands: one-shot and watch-mode
// syncing, the OAuth flow, calendar listing, the review queues, and the
// audit log.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wrenware/taskmirror/internal/auth"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // config file path
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the taskmirror root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "taskmirror",
		Short: "Mirror plain-text tasks into a remote calendar",
		Long: `taskmirror keeps a calendar consistent with the dated task lines in a
markdown vault. The vault is the source of truth: local edits propagate
outward, remote drift is detected and queued for review, and deletions
pass through a safety net before anything is removed.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			configureLogging(opts.Verbose)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "config file (default ~/.config/taskmirror/config.yaml)")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewAuthCommand(opts))
	cmd.AddCommand(NewCalendarsCommand(opts))
	cmd.AddCommand(NewReviewCommand(opts))
	cmd.AddCommand(NewSeveranceCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func configureLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// configPath resolves the config file location.
func configPath(opts *RootOptions) (string, error) {
	if opts.Config != "" {
		return opts.Config, nil
	}
	dir, err := auth.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}
