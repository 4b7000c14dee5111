package cli

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wrenware/taskmirror/internal/engine"
	"github.com/wrenware/taskmirror/internal/state"
)

// NewSeveranceCommand creates the severance command group for drifted
// events awaiting a decision.
func NewSeveranceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "severance",
		Short: "Review events that drifted from their task",
		Long: `When a tracked event is deleted or edited remotely, the pair can be
queued here instead of being repaired automatically. Recreate rebuilds
the event from the task; sever stops tracking the task entirely.`,
	}
	cmd.AddCommand(newSeveranceListCommand(rootOpts))
	cmd.AddCommand(newSeveranceResolveCommand(rootOpts, "recreate", engine.SeveranceRecreate,
		"Rebuild the event from the local task"))
	cmd.AddCommand(newSeveranceResolveCommand(rootOpts, "sever", engine.SeveranceSever,
		"Stop tracking the task"))
	return cmd
}

func newSeveranceListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List queued severances",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := &Formatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			st, err := a.store.Load(cmd.Context())
			if err != nil {
				return f.Fail(ExitFailure, "loading state", err)
			}
			return f.Emit(st.PendingSeverances, func(w io.Writer) {
				renderPendingSeverances(w, st.PendingSeverances)
			})
		},
	}
}

func newSeveranceResolveCommand(rootOpts *RootOptions, use string, choice engine.SeveranceChoice, short string) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:           use + " [id]",
		Short:         short,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if !all {
				if len(args) != 1 {
					return WrapExitError(ExitCommandError, "an id or --all is required", nil)
				}
				var err error
				id, err = strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return WrapExitError(ExitCommandError, fmt.Sprintf("invalid id %q", args[0]), err)
				}
			}

			f := &Formatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			eng, err := a.buildEngine(cmd.Context())
			if err != nil {
				return err
			}

			if all {
				n, err := eng.ResolveAllSeverances(cmd.Context(), choice)
				if err != nil {
					return f.Fail(ExitFailure, fmt.Sprintf("resolved %d entries, then failed", n), err)
				}
				return f.Emit(map[string]int{"resolved": n}, func(w io.Writer) {
					fmt.Fprintf(w, "resolved %d queued severances (%s)\n", n, use)
				})
			}

			if err := eng.ResolveSeverance(cmd.Context(), id, choice); err != nil {
				return f.Fail(ExitFailure, "resolving severance", err)
			}
			return f.Emit(map[string]any{"resolved": id}, func(w io.Writer) {
				fmt.Fprintf(w, "entry %d resolved (%s)\n", id, use)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "apply to every queued entry")
	return cmd
}

func renderPendingSeverances(w io.Writer, sevs []state.PendingSeverance) {
	if len(sevs) == 0 {
		fmt.Fprintln(w, "no queued severances")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tREASON\tDETAIL\tCALENDAR")
	for _, ps := range sevs {
		title := ps.TaskID
		if ps.Task != nil {
			title = ps.Task.Title
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", ps.ID, title, ps.Reason, ps.Detail, ps.CalendarID)
	}
	tw.Flush()
}
