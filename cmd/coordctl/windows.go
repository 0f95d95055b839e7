package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newWindowsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "windows",
		Short: "List registered windows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			windows, err := a.client.Windows(cmd.Context())
			if err != nil {
				return fmt.Errorf("list windows: %w", err)
			}
			if a.asJSON {
				return a.printJSON(cmd, windows)
			}
			if len(windows) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no windows registered")
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CLIENT ID\tIDENTITY\tROLE\tSTATE\tLAST SEEN")
			for _, window := range windows {
				identity := window.Identity
				if identity == "" {
					identity = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", window.ClientID, identity, window.Role, window.State, window.LastSeenAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Probe every registered window for liveness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			probed, err := a.client.PingAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("ping windows: %w", err)
			}
			if a.asJSON {
				return a.printJSON(cmd, map[string]int{"probed": probed})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "probed %d window(s)\n", probed)
			return err
		},
	}
}
