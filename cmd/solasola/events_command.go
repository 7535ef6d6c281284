package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"solasola/internal/api"
	"solasola/internal/events"
)

var errStopStream = errors.New("stop event stream")

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var heartbeats bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the daemon event stream as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			seen := 0
			return ctx.withClient(func(client *api.Client) error {
				err := client.StreamEvents(cmd.Context(), func(evt events.Event) error {
					if evt.Type == events.TypeHeartbeat && !heartbeats {
						return nil
					}
					fmt.Fprintln(out, string(evt.JSON()))
					if evt.Type != events.TypeHeartbeat {
						seen++
					}
					if limit > 0 && seen >= limit {
						return errStopStream
					}
					return nil
				})
				if errors.Is(err, errStopStream) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Exit after this many events (0 streams until interrupted)")
	cmd.Flags().BoolVar(&heartbeats, "heartbeats", false, "Also print heartbeat events")
	return cmd
}
