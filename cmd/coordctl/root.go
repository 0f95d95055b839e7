package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/client"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/config"
)

type app struct {
	coordinatorURL string
	timeout        time.Duration
	asJSON         bool
	client         *client.Client
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:          "coordctl",
		Short:        "Inspect and drive a window coordinator",
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			a.client = client.New(a.coordinatorURL, client.WithRequestTimeout(a.timeout))
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.coordinatorURL, "coordinator", config.Load().CoordinatorURL, "coordinator base URL")
	flags.DurationVar(&a.timeout, "timeout", client.DefaultRequestTimeout, "per-request timeout")
	flags.BoolVar(&a.asJSON, "json", false, "print JSON output")

	rootCmd.AddCommand(
		newWindowsCmd(a),
		newPingCmd(a),
		newResolveCmd(a),
		newNotifyCmd(a),
		newWatchCmd(a),
	)
	return rootCmd
}

func (a *app) printJSON(cmd *cobra.Command, value any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
