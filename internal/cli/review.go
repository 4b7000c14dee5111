package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wrenware/taskmirror/internal/engine"
	"github.com/wrenware/taskmirror/internal/gateway"
	"github.com/wrenware/taskmirror/internal/state"
)

// NewReviewCommand creates the review command group for the deletion
// safety net.
func NewReviewCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review deletions held by the safety net",
		Long: `Events whose local task disappeared (or whose routing changed under the
freshStart policy) are not deleted immediately; they wait here. Each
entry shows risk signals fetched from the remote event.`,
	}
	cmd.AddCommand(newReviewListCommand(rootOpts))
	cmd.AddCommand(newReviewResolveCommand(rootOpts, "delete", engine.DecisionDelete,
		"Confirm a pending deletion"))
	cmd.AddCommand(newReviewResolveCommand(rootOpts, "keep", engine.DecisionKeep,
		"Keep the remote event and stop tracking it"))
	cmd.AddCommand(newReviewResolveCommand(rootOpts, "restore", engine.DecisionRestore,
		"Keep the mapping, expecting the task line to be restored"))
	return cmd
}

func newReviewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List pending deletions",
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
			return f.Emit(st.PendingDeletions, func(w io.Writer) {
				renderPendingDeletions(w, st.PendingDeletions)
			})
		},
	}
}

func newReviewResolveCommand(rootOpts *RootOptions, use string, choice engine.DeletionChoice, short string) *cobra.Command {
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

			// Restoring means the user will re-add the task line; keep
			// the queued content around to show after resolution.
			var restorable []state.PendingDeletion
			if choice == engine.DecisionRestore {
				if st, err := a.store.Load(cmd.Context()); err == nil {
					restorable = st.PendingDeletions
				}
			}

			if all {
				n, err := eng.ResolveAllDeletions(cmd.Context(), choice)
				if err != nil {
					return f.Fail(ExitFailure, fmt.Sprintf("resolved %d entries, then failed", n), err)
				}
				return f.Emit(map[string]int{"resolved": n}, func(w io.Writer) {
					fmt.Fprintf(w, "resolved %d pending deletions (%s)\n", n, use)
					for _, pd := range restorable {
						printRestoreHint(w, pd)
					}
				})
			}

			if err := eng.ResolveDeletion(cmd.Context(), id, choice); err != nil {
				return f.Fail(ExitFailure, "resolving deletion", err)
			}
			return f.Emit(map[string]any{"resolved": id}, func(w io.Writer) {
				fmt.Fprintf(w, "entry %d resolved (%s)\n", id, use)
				for _, pd := range restorable {
					if pd.ID == id {
						printRestoreHint(w, pd)
					}
				}
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "apply to every queued entry")
	return cmd
}

// printRestoreHint shows the task line to reinsert into the vault.
func printRestoreHint(w io.Writer, pd state.PendingDeletion) {
	if pd.Task == nil {
		return
	}
	line := strings.TrimSpace(pd.Task.RawText)
	if line == "" {
		line = fmt.Sprintf("- [ ] %s \U0001F4C5 %s", pd.Task.Title, pd.Task.Date)
		if pd.Task.Time != "" {
			line += " ⏰ " + pd.Task.Time
		}
	}
	fmt.Fprintf(w, "add this line back to %s:\n  %s\n", pd.Task.FilePath, line)
}

func renderPendingDeletions(w io.Writer, dels []state.PendingDeletion) {
	if len(dels) == 0 {
		fmt.Fprintln(w, "no pending deletions")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tREASON\tCALENDAR\tRISK")
	for _, pd := range dels {
		title := pd.TaskID
		if pd.Event != nil && pd.Event.Title != "" {
			title = pd.Event.Title
		} else if pd.Task != nil {
			title = pd.Task.Title
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", pd.ID, title, pd.Reason, pd.CalendarID, riskSummary(pd.Event))
	}
	tw.Flush()
}

// riskSummary condenses the event snapshot into the signals worth a
// second look before deleting.
func riskSummary(ev *gateway.EventSnapshot) string {
	if ev == nil {
		return "unknown"
	}
	var parts []string
	if ev.AttendeeCount > 0 {
		parts = append(parts, fmt.Sprintf("%d attendees", ev.AttendeeCount))
	}
	if ev.HasAttachments {
		parts = append(parts, "attachments")
	}
	if len(ev.Recurrence) > 0 {
		parts = append(parts, "recurring")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}
