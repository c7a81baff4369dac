package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/carts/internal/presence"
	"github.com/alfredjeanlab/carts/internal/ui"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Short:   "List the carts the server has commanded recently",
	GroupID: "events",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		idle, _ := cmd.Flags().GetDuration("idle")
		devs, err := cartsClient.Devices(cmd.Context(), idle)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), devs)
		}
		return printDeviceTable(cmd.OutOrStdout(), devs)
	},
}

func printDeviceTable(w io.Writer, devs []presence.Entry) error {
	if len(devs) == 0 {
		fmt.Fprintln(w, "no devices seen")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tCLIENT\tLAST COMMAND\tCOMMANDS\tIDLE\tSTATE")
	for _, d := range devs {
		state := ui.RenderOK("active")
		if d.Stale {
			state = ui.RenderMuted("stale")
		}
		idle := (time.Duration(d.IdleSecs * float64(time.Second))).Round(time.Second)
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%s\t%s\n", d.DeviceID, d.ClientID, d.LastCommand, d.CommandCount, idle, state)
	}
	return tw.Flush()
}

func init() {
	devicesCmd.Flags().Duration("idle", 0, "only show carts commanded within this duration (0 shows all)")
}
