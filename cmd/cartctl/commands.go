package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/carts/internal/client"
	"github.com/alfredjeanlab/carts/internal/model"
	"github.com/alfredjeanlab/carts/internal/ui"
)

func parseCode(name, s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be an integer", name, s)
	}
	return v, nil
}

// printRecorded writes a recorded event in the selected output format.
func printRecorded(cmd *cobra.Command, ev *model.Event) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), ev)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s event %d\n", ui.RenderOK("Recorded"), ev.ID)
	printEvent(cmd.OutOrStdout(), ev)
	return nil
}

var moveCmd = &cobra.Command{
	Use:     "move <id_operacion>",
	Short:   "Send a movement command to a cart",
	GroupID: "commands",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		op, err := parseCode("operation", args[0])
		if err != nil {
			return err
		}
		req := model.MovementCommand{DeviceID: deviceID, ClientID: clientID, Operation: op}
		if cmd.Flags().Changed("obstacle") {
			obstacle, _ := cmd.Flags().GetInt64("obstacle")
			req.Obstacle = &obstacle
		}
		ev, err := cartsClient.Move(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printRecorded(cmd, ev)
	},
}

var obstacleCmd = &cobra.Command{
	Use:     "obstacle [id_obstaculo]",
	Short:   "Report that a cart stopped for an obstacle",
	GroupID: "commands",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := model.ObstacleCommand{DeviceID: deviceID, ClientID: clientID}
		if len(args) == 1 {
			obstacle, err := parseCode("obstacle", args[0])
			if err != nil {
				return err
			}
			req.Obstacle = &obstacle
		}
		ev, err := cartsClient.ReportObstacle(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printRecorded(cmd, ev)
	},
}

var speedCmd = &cobra.Command{
	Use:     "speed <id_velocidad>",
	Short:   "Change a cart's speed",
	GroupID: "commands",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		speed, err := parseCode("speed", args[0])
		if err != nil {
			return err
		}
		ev, err := cartsClient.SetSpeed(cmd.Context(), model.SpeedCommand{
			DeviceID: deviceID,
			ClientID: clientID,
			Speed:    speed,
		})
		if err != nil {
			return err
		}
		return printRecorded(cmd, ev)
	},
}

var sequenceCmd = &cobra.Command{
	Use:     "sequence <nombre> <id_operacion>...",
	Short:   "Submit a named sequence of operations",
	GroupID: "commands",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := make([]int64, 0, len(args)-1)
		for _, a := range args[1:] {
			op, err := parseCode("operation", a)
			if err != nil {
				return err
			}
			steps = append(steps, op)
		}
		res, err := cartsClient.SubmitSequence(cmd.Context(), model.SequenceCommand{
			Name:     args[0],
			Steps:    steps,
			DeviceID: deviceID,
			ClientID: clientID,
		})
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.SequenceID != 0 {
				return fmt.Errorf("sequence %d was sent but its steps were not recorded: %w", apiErr.SequenceID, err)
			}
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s sequence %d (%d steps)\n", ui.RenderOK("Submitted"), res.ID, res.TotalSteps)
		return nil
	},
}

func init() {
	moveCmd.Flags().Int64("obstacle", 0, "obstacle code to attach (id_obstaculo)")
}
