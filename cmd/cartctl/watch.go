package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Stream live cart messages from the monitor socket",
	GroupID: "events",
	Args:    cobra.NoArgs,
	// watch talks WebSocket directly.
	PersistentPreRunE: skipClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		ping, _ := cmd.Flags().GetDuration("ping")
		target, err := watchURL(httpURL)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return watchMonitor(ctx, target, ping, cmd.OutOrStdout())
	},
}

// watchMonitor prints every message from the monitor socket at target until
// ctx is done or the server closes the connection. A positive ping sends a
// text frame at that interval; the server acknowledges each one.
func watchMonitor(ctx context.Context, target string, ping time.Duration, out io.Writer) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", target, err)
	}
	defer conn.Close()

	msgs := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(msgs)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	var tick <-chan time.Time
	if ping > 0 {
		t := time.NewTicker(ping)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil
		case data, ok := <-msgs:
			if !ok {
				err := <-readErr
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				return fmt.Errorf("reading from monitor: %w", err)
			}
			if jsonOutput {
				fmt.Fprintln(out, string(data))
			} else {
				fmt.Fprintln(out, formatMessage(data))
			}
		case <-tick:
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				return fmt.Errorf("sending ping: %w", err)
			}
		}
	}
}

func init() {
	watchCmd.Flags().Duration("ping", 0, "send a text frame at this interval (0 disables)")
}
