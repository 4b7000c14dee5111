package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wrenware/taskmirror/internal/gateway"
	"github.com/wrenware/taskmirror/internal/gateway/google"
)

// NewCalendarsCommand creates the calendars command.
func NewCalendarsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "calendars",
		Short: "List the calendars the account can write to",
		Long: `List the calendars visible to the authenticated account, with the
identifiers to use in tag_routes and default_calendar.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := &Formatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}

			gw, err := google.New(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "connecting to calendar service", err)
			}
			infos, err := gw.ListCalendars(cmd.Context())
			if err != nil {
				return f.Fail(ExitFailure, "listing calendars", err)
			}
			return f.Emit(infos, func(w io.Writer) { renderCalendars(w, infos) })
		},
	}
}

func renderCalendars(w io.Writer, infos []gateway.CalendarInfo) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRIMARY")
	for _, ci := range infos {
		primary := ""
		if ci.IsPrimary {
			primary = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", ci.ID, ci.DisplayName, primary)
	}
	tw.Flush()
}
