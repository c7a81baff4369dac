package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/carts/internal/events"
)

func defaultNATSURL() string {
	if s := os.Getenv("CARTS_NATS_URL"); s != "" {
		return s
	}
	return activeRemote().NATSURL
}

var tailCmd = &cobra.Command{
	Use:     "tail [id_dispositivo]",
	Short:   "Follow cart messages mirrored on the NATS bus",
	GroupID: "events",
	Args:    cobra.MaximumNArgs(1),
	// tail reads from the bus, not the command API.
	PersistentPreRunE: skipClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats")
		if natsURL == "" {
			natsURL = defaultNATSURL()
		}
		if natsURL == "" {
			return fmt.Errorf("no NATS URL; pass --nats, set CARTS_NATS_URL or configure one on the active remote")
		}

		topic := events.TopicAll
		if len(args) == 1 {
			id, err := parseCode("device", args[0])
			if err != nil {
				return err
			}
			topic = events.DeviceTopic(id)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return tailBus(ctx, natsURL, topic, cmd.OutOrStdout())
	},
}

// tailBus prints every payload published on topic until ctx is done.
func tailBus(ctx context.Context, natsURL, topic string, out io.Writer) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats: disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(topic)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if jsonOutput {
				fmt.Fprintln(out, string(data))
			} else {
				fmt.Fprintln(out, formatMessage(data))
			}
		}
	}
}

func init() {
	tailCmd.Flags().String("nats", "", "NATS URL (defaults to CARTS_NATS_URL or the active remote)")
}
