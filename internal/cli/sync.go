package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/wrenware/taskmirror/internal/auth"
	"github.com/wrenware/taskmirror/internal/daemon"
	"github.com/wrenware/taskmirror/internal/engine"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Watch    bool
	Interval time.Duration
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle, or keep syncing with --watch",
		Long: `Run a reconciliation cycle against the configured vault and calendar.

With --watch, taskmirror stays running: vault changes trigger a cycle
after a short debounce, and a periodic timer catches anything missed.

Example:
  taskmirror sync
  taskmirror sync --watch --interval 15m`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "watch the vault and sync continuously")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "timer interval in watch mode (default from config)")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	if opts.Watch {
		return runWatch(opts, a, cmd)
	}

	eng, err := a.buildEngine(cmd.Context())
	if err != nil {
		return err
	}
	rep, err := eng.RunCycle(cmd.Context())
	if err != nil {
		return f.Fail(ExitFailure, "sync cycle failed", err)
	}
	return f.Emit(rep, func(w io.Writer) { renderReport(w, rep) })
}

func runWatch(opts *SyncOptions, a *app, cmd *cobra.Command) error {
	// Long-running sessions log to a rotating file as well as stderr.
	if dir, err := auth.ConfigDir(); err == nil {
		level := slog.LevelInfo
		if opts.Verbose {
			level = slog.LevelDebug
		}
		w := daemon.LogWriter(filepath.Join(dir, "taskmirror.log"))
		a.logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}

	eng, err := a.buildEngine(cmd.Context())
	if err != nil {
		return err
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = a.cfg.SyncInterval()
	}
	runner := &daemon.Runner{
		Syncer:   eng,
		VaultDir: a.cfg.VaultDir,
		Interval: interval,
		Logger:   a.logger,
	}
	fmt.Fprintf(os.Stderr, "watching %s (interval %s), ctrl-c to stop\n", a.cfg.VaultDir, interval)
	if err := runner.Run(cmd.Context()); err != nil && cmd.Context().Err() == nil {
		return WrapExitError(ExitFailure, "watch mode stopped", err)
	}
	return nil
}

func renderReport(w io.Writer, rep *engine.CycleReport) {
	fmt.Fprintf(w, "synced %d tasks in %s\n", rep.TasksSeen, rep.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  created:   %d\n", rep.Created)
	fmt.Fprintf(w, "  updated:   %d\n", rep.Updated)
	fmt.Fprintf(w, "  completed: %d\n", rep.Completed)
	fmt.Fprintf(w, "  deleted:   %d\n", rep.Deleted)
	fmt.Fprintf(w, "  moved:     %d\n", rep.Moved)
	if rep.Requeued > 0 {
		fmt.Fprintf(w, "  requeued for retry: %d\n", rep.Requeued)
	}
	if rep.DroppedRetries > 0 {
		fmt.Fprintf(w, "  dropped after retry ceiling: %d\n", rep.DroppedRetries)
	}
	if rep.PendingDeletions > 0 {
		fmt.Fprintf(w, "  awaiting deletion review: %d (taskmirror review list)\n", rep.PendingDeletions)
	}
	if rep.PendingSeverances > 0 {
		fmt.Fprintf(w, "  drift awaiting resolution: %d (taskmirror severance list)\n", rep.PendingSeverances)
	}
	for _, warn := range rep.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
	for _, sk := range rep.Skipped {
		fmt.Fprintf(w, "  skipped %q: %s\n", sk.Title, sk.Reason)
	}
}
