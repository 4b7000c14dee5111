package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wrenware/taskmirror/internal/state"
)

// NewLogCommand creates the log command, a tail over the audit trail.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:           "log",
		Short:         "Show recent remote operations",
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

			entries, err := a.store.RecentLog(cmd.Context(), limit)
			if err != nil {
				return f.Fail(ExitFailure, "reading sync log", err)
			}
			return f.Emit(entries, func(w io.Writer) {
				renderLog(w, entries)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")
	return cmd
}

func renderLog(w io.Writer, entries []state.SyncLogEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no operations recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tKIND\tCALENDAR\tEVENT\tRESULT")
	for _, e := range entries {
		result := "ok"
		if !e.Success {
			result = fmt.Sprintf("failed (%d)", e.Status)
			if e.Error != "" {
				result += ": " + e.Error
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.At.Format("2006-01-02 15:04:05"), e.Kind, e.CalendarID, e.EventID, result)
	}
	tw.Flush()
}
