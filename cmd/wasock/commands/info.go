package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the stored session identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return errPassphraseRequired
			}
			sess, ok, err := wire.Identity.LoadSessionConfig(passphrase)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintln(out, "No session stored. Run `wasock connect` to pair.")
				return nil
			}
			fmt.Fprintf(out, "Client ID:   %s\n", sess.ClientID)
			fmt.Fprintf(out, "Fingerprint: %s\n", wire.Identity.Fingerprint(sess))
			fmt.Fprintf(out, "Paired:      %t\n", sess.Tokens != nil && sess.HasKeys())

			conn, ok, err := wire.Conns.LatestConn()
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(out, "Account:     %s (%s)\n", conn.Wid, conn.Pushname)
			}
			return nil
		},
	}
}
