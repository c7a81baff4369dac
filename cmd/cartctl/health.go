package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/carts/internal/ui"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check that the server and its database are up",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := cartsClient.Health(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), h)
		}
		if !h.OK {
			return fmt.Errorf("server is unhealthy")
		}
		if transport == "http" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d observers)\n", ui.RenderOK("ok"), h.Observers)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderOK("ok"))
		return nil
	},
}
