package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/events"
)

func newNotifyCmd(a *app) *cobra.Command {
	var (
		identity string
		source   string
		payload  []string
	)
	cmd := &cobra.Command{
		Use:   "notify <type>",
		Short: "Publish a notification to connected windows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := map[string]any{}
			for _, pair := range payload {
				key, value, ok := strings.Cut(pair, "=")
				if !ok || strings.TrimSpace(key) == "" {
					return fmt.Errorf("invalid payload %q: expected key=value", pair)
				}
				data[strings.TrimSpace(key)] = value
			}
			traceID, err := a.client.Publish(cmd.Context(), events.Notification{
				Type:     args[0],
				Identity: identity,
				Source:   source,
				Payload:  data,
			})
			if err != nil {
				return fmt.Errorf("publish notification: %w", err)
			}
			if a.asJSON {
				return a.printJSON(cmd, map[string]string{"trace_id": traceID})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "published %s trace_id=%s\n", events.NormalizeType(args[0]), traceID)
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&identity, "identity", "", "only deliver to windows of this identity")
	flags.StringVar(&source, "source", "coordctl", "notification source")
	flags.StringArrayVar(&payload, "payload", nil, "payload entry as key=value (repeatable)")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var (
		identity string
		types    []string
		count    int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream notifications as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := events.Filter{Identity: identity}
			for _, eventType := range types {
				if eventType = events.NormalizeType(eventType); eventType != "" {
					filter.Types = append(filter.Types, eventType)
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			received := 0
			for notification := range a.client.Subscribe(cmd.Context(), filter) {
				if err := enc.Encode(notification); err != nil {
					return err
				}
				received++
				if count > 0 && received >= count {
					return nil
				}
			}
			if cmd.Context().Err() != nil {
				return nil
			}
			if received == 0 {
				return fmt.Errorf("notification stream closed")
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&identity, "identity", "", "only show notifications for this identity")
	flags.StringSliceVar(&types, "type", nil, "notification types to show")
	flags.IntVar(&count, "count", 0, "exit after this many notifications")
	return cmd
}
