package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/carts/internal/client"
	"github.com/alfredjeanlab/carts/internal/ui"
)

var (
	serverAddr string
	httpURL    string
	transport  string
	jsonOutput bool
	deviceID   int64
	clientID   int64

	cartsClient client.CartsClient
)

func defaultHTTPURL() string {
	if s := os.Getenv("CARTS_HTTP_URL"); s != "" {
		return s
	}
	if u := activeRemote().URL; u != "" {
		return u
	}
	return "http://localhost:5500"
}

func defaultServer() string {
	if s := os.Getenv("CARTS_SERVER"); s != "" {
		return s
	}
	if a := activeRemote().GRPCAddr; a != "" {
		return a
	}
	return "localhost:9090"
}

// skipClient replaces the root pre-run for commands that do not talk to the
// command API.
func skipClient(cmd *cobra.Command, args []string) error {
	if !ui.ShouldUseColor(cmd.OutOrStdout()) {
		ui.ForceNoColor()
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:          "cartctl <command>",
	Short:        "CLI client for the carts command service",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !ui.ShouldUseColor(cmd.OutOrStdout()) {
			ui.ForceNoColor()
		}
		switch transport {
		case "http":
			cartsClient = client.NewHTTPClient(httpURL)
		case "grpc":
			c, err := client.NewGRPCClient(serverAddr)
			if err != nil {
				return fmt.Errorf("failed to connect to server: %w", err)
			}
			cartsClient = c
		default:
			return fmt.Errorf("unknown transport %q (must be http or grpc)", transport)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cartsClient != nil {
			cartsClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", defaultServer(), "gRPC server address")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "http", "transport protocol (http or grpc)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().Int64Var(&deviceID, "device", 1, "target cart (id_dispositivo)")
	rootCmd.PersistentFlags().Int64Var(&clientID, "client", 1, "issuing client (id_cliente)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "commands", Title: "Commands:"},
		&cobra.Group{ID: "events", Title: "Events:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Commands
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(obstacleCmd)
	rootCmd.AddCommand(speedCmd)
	rootCmd.AddCommand(sequenceCmd)

	// Events
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(lastCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(tailCmd)

	// System
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
