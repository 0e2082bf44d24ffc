package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func forgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Delete the stored session; the next connect pairs again",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.Identity.ForgetSessionConfig(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session deleted.")
			return nil
		},
	}
}
