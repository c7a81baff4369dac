package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/carts/internal/events"
	"github.com/alfredjeanlab/carts/internal/model"
	"github.com/alfredjeanlab/carts/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printEvent(w io.Writer, ev *model.Event) {
	fmt.Fprintf(w, "Event:       %d\n", ev.ID)
	fmt.Fprintf(w, "Device:      %d\n", ev.DeviceID)
	fmt.Fprintf(w, "Client:      %d\n", ev.ClientID)
	fmt.Fprintf(w, "Operation:   %s\n", codeText(&ev.Operation, ev.OperationText))
	if ev.Obstacle != nil {
		fmt.Fprintf(w, "Obstacle:    %s\n", codeText(ev.Obstacle, ev.ObstacleText))
	}
	if ev.Speed != nil {
		fmt.Fprintf(w, "Speed:       %s\n", codeText(ev.Speed, ev.SpeedText))
	}
	fmt.Fprintf(w, "At:          %s\n", ev.Timestamp.Local().Format(timeLayout))
}

func printEventTable(w io.Writer, evs []*model.Event) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDEVICE\tOPERATION\tOBSTACLE\tSPEED\tAT")
	for _, ev := range evs {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n",
			ev.ID,
			ev.DeviceID,
			codeText(&ev.Operation, ev.OperationText),
			codeText(ev.Obstacle, ev.ObstacleText),
			codeText(ev.Speed, ev.SpeedText),
			ev.Timestamp.Local().Format(timeLayout),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d events\n", len(evs))
	return nil
}

// codeText renders a lookup code with its description, e.g. "3 (Detener)".
func codeText(code *int64, text *string) string {
	if code == nil {
		return "-"
	}
	if text == nil {
		return fmt.Sprintf("%d", *code)
	}
	return fmt.Sprintf("%d (%s)", *code, *text)
}

// formatMessage renders one observer message for watch and tail output.
// Payloads that do not decode are returned as-is.
func formatMessage(data []byte) string {
	var head struct {
		Tipo string `json:"tipo"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.Tipo == "" {
		return string(data)
	}
	tag := "[" + head.Tipo + "]"

	switch head.Tipo {
	case events.TypeMovement, events.TypeObstacle, events.TypeSpeed:
		var m events.EventMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return string(data)
		}
		ev := m.Event
		line := fmt.Sprintf("%s %s %s", ev.Timestamp.Local().Format(timeLayout),
			ui.RenderMuted(fmt.Sprintf("device=%d", ev.DeviceID)),
			codeText(&ev.Operation, ev.OperationText))
		switch {
		case ev.Obstacle != nil:
			line += " obstacle=" + codeText(ev.Obstacle, ev.ObstacleText)
		case ev.Speed != nil:
			line += " speed=" + codeText(ev.Speed, ev.SpeedText)
		}
		if head.Tipo == events.TypeObstacle {
			return ui.RenderWarn(tag) + " " + line
		}
		return ui.RenderAccent(tag) + " " + line

	case events.TypeSequence:
		var m events.SequenceMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return string(data)
		}
		steps := make([]string, len(m.Steps))
		for i, op := range m.Steps {
			steps[i] = fmt.Sprintf("%d", op)
		}
		return fmt.Sprintf("%s %s #%d %q steps=[%s]", ui.RenderAccent(tag),
			ui.RenderMuted(fmt.Sprintf("device=%d", m.DeviceID)),
			m.SequenceID, m.Name, strings.Join(steps, " "))

	case events.TypeAck:
		var m events.AckMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return string(data)
		}
		return ui.RenderOK(tag) + " " + m.Msg
	}
	return tag + " " + string(data)
}

// watchURL derives the monitor WebSocket URL from the HTTP base URL.
func watchURL(httpURL string) (string, error) {
	u, err := url.Parse(httpURL)
	if err != nil {
		return "", fmt.Errorf("invalid --http-url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid --http-url %q: scheme must be http or https", httpURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/monitor"
	u.RawQuery = ""
	return u.String(), nil
}
