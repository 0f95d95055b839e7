package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/client"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/resolver"
)

type resolveFlags struct {
	identity     string
	mode         string
	contentToken string
	source       string
	standalone   bool
	referrerApp  bool
	installed    bool
	chromeHeight int
	score        int
	lastInstall  bool
	referrer     string
	platform     string
	local        bool
}

func newResolveCmd(a *app) *cobra.Command {
	f := &resolveFlags{}
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Decide where a deep link would land",
		Long:  "resolve asks the coordinator where a deep link with the given parameters and environment signals should open. With --local the decision is computed in process, without hints from the coordinator.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := resolver.ParseParams(url.Values{
				"identity":     {f.identity},
				"mode":         {f.mode},
				"contentToken": {f.contentToken},
				"source":       {f.source},
			})
			signals := f.signals(cmd)

			var decision client.RouteDecision
			if f.local {
				decision.Decision = resolver.ResolveRoute(params, signals)
			} else {
				var err error
				decision, err = a.client.Resolve(cmd.Context(), params, signals)
				if err != nil {
					return fmt.Errorf("resolve route: %w", err)
				}
			}
			if a.asJSON {
				return a.printJSON(cmd, decision)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "verdict:    %s\n", decision.Verdict)
			fmt.Fprintf(out, "confidence: %s\n", decision.Confidence)
			if decision.MaxScore > 0 {
				fmt.Fprintf(out, "score:      %d/%d\n", decision.Score, decision.MaxScore)
			}
			if decision.InstallSuggestion {
				fmt.Fprintln(out, "install:    suggested")
			}
			if decision.Target != "" {
				fmt.Fprintf(out, "target:     %s\n", decision.Target)
			}
			_, err := fmt.Fprintf(out, "reasons:    %s\n", strings.Join(decision.Reasons, ", "))
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.identity, "identity", "", "session identity the link is for")
	flags.StringVar(&f.mode, "mode", "", "override mode (force-browser, pwa-required, show-install-guide)")
	flags.StringVar(&f.contentToken, "content", "", "content token carried by the link")
	flags.StringVar(&f.source, "source", "", "link source tag")
	flags.BoolVar(&f.standalone, "standalone", false, "window reports standalone display mode")
	flags.BoolVar(&f.referrerApp, "referrer-app", false, "link was opened from the installed app")
	flags.BoolVar(&f.installed, "installed", false, "installed-apps probe result")
	flags.IntVar(&f.chromeHeight, "chrome-height", 0, "outer minus inner window height in px")
	flags.IntVar(&f.score, "score", 0, "precomputed heuristic score")
	flags.BoolVar(&f.lastInstall, "last-install", false, "last recorded install state")
	flags.StringVar(&f.referrer, "referrer", "", "document referrer")
	flags.StringVar(&f.platform, "platform", "", "client platform")
	flags.BoolVar(&f.local, "local", false, "resolve in process instead of asking the coordinator")
	return cmd
}

// signals maps flags onto resolver signals. Optional signals are only set
// when their flag was given.
func (f *resolveFlags) signals(cmd *cobra.Command) resolver.Signals {
	flags := cmd.Flags()
	signals := resolver.Signals{
		DisplayModeStandalone:    f.standalone,
		ReferrerFromInstalledApp: f.referrerApp,
		Referrer:                 f.referrer,
		Platform:                 f.platform,
	}
	if flags.Changed("installed") {
		signals.InstalledApps = resolver.Bool(f.installed)
	}
	if flags.Changed("chrome-height") {
		signals.ChromeHeight = resolver.Int(f.chromeHeight)
	}
	if flags.Changed("score") {
		signals.HeuristicScore = resolver.Int(f.score)
	}
	if flags.Changed("last-install") {
		signals.LastInstallHint = resolver.Bool(f.lastInstall)
	}
	return signals
}
