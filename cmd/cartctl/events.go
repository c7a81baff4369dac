package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// targetDevice returns the device named by the optional positional argument,
// falling back to --device.
func targetDevice(args []string) (int64, error) {
	if len(args) == 0 {
		return deviceID, nil
	}
	return parseCode("device", args[0])
}

var eventsCmd = &cobra.Command{
	Use:     "events [id_dispositivo]",
	Short:   "List the latest events for a cart",
	GroupID: "events",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := targetDevice(args)
		if err != nil {
			return err
		}
		n, _ := cmd.Flags().GetInt("n")
		evs, err := cartsClient.LatestEvents(cmd.Context(), id, n)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), evs)
		}
		return printEventTable(cmd.OutOrStdout(), evs)
	},
}

var lastCmd = &cobra.Command{
	Use:     "last [id_dispositivo]",
	Short:   "Show the most recent event for a cart",
	GroupID: "events",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := targetDevice(args)
		if err != nil {
			return err
		}
		ev, err := cartsClient.LastEvent(cmd.Context(), id)
		if err != nil {
			return err
		}
		if jsonOutput {
			if ev == nil {
				return printJSON(cmd.OutOrStdout(), struct{}{})
			}
			return printJSON(cmd.OutOrStdout(), ev)
		}
		if ev == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "no events for device %d\n", id)
			return nil
		}
		printEvent(cmd.OutOrStdout(), ev)
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntP("n", "n", 0, "number of events (server default when 0)")
}
