package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wrenware/taskmirror/internal/auth"
)

// NewAuthCommand creates the auth command group.
func NewAuthCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage calendar credentials",
	}
	cmd.AddCommand(newAuthLoginCommand(rootOpts))
	cmd.AddCommand(newAuthResetCommand(rootOpts))
	return cmd
}

func newAuthLoginCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Obtain and store an OAuth token",
		Long: `Run the OAuth consent flow in a browser and store the resulting token.

Expects client credentials at ~/.config/taskmirror/credentials.json,
downloaded from the provider's API console.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := auth.Client(cmd.Context()); err != nil {
				return WrapExitError(ExitCommandError, "authentication failed", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "authenticated; token stored")
			return nil
		},
	}
}

func newAuthResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "reset",
		Short:         "Discard the stored OAuth token",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := auth.ResetToken(); err != nil {
				return WrapExitError(ExitCommandError, "resetting token", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "token removed; run 'taskmirror auth login' to re-authenticate")
			return nil
		},
	}
}
