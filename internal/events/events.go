// Package events defines the messages broadcast to observers and mirrored on
// the NATS bus.
package events

import (
	"context"
	"fmt"
	"slices"

	"github.com/alfredjeanlab/carts/internal/model"
)

// Message type tags, carried in the "tipo" field on the wire.
const (
	TypeMovement = "movimiento"
	TypeObstacle = "obstaculo"
	TypeSpeed    = "velocidad"
	TypeSequence = "secuencia"
	TypeAck      = "ack"
)

// TopicAll matches every cart message on the bus.
const TopicAll = "carts.device.>"

// Topic returns the bus subject for a message of the given type about a device.
func Topic(deviceID int64, typ string) string {
	return fmt.Sprintf("carts.device.%d.%s", deviceID, typ)
}

// DeviceTopic matches every message about one device.
func DeviceTopic(deviceID int64) string {
	return fmt.Sprintf("carts.device.%d.*", deviceID)
}

// Message is a broadcast payload. Values are immutable once constructed.
type Message interface {
	// Type returns the wire tag.
	Type() string
	// Topic returns the bus subject, or "" for messages that stay local.
	Topic() string
}

// EventMessage carries a recorded event (movement, obstacle or speed).
type EventMessage struct {
	Tipo  string      `json:"tipo"`
	Event model.Event `json:"evento"`
}

func (m EventMessage) Type() string  { return m.Tipo }
func (m EventMessage) Topic() string { return Topic(m.Event.DeviceID, m.Tipo) }

// NewMovement builds a movement broadcast from a recorded event.
func NewMovement(ev *model.Event) EventMessage {
	return EventMessage{Tipo: TypeMovement, Event: *ev}
}

// NewObstacle builds an obstacle broadcast from a recorded event.
func NewObstacle(ev *model.Event) EventMessage {
	return EventMessage{Tipo: TypeObstacle, Event: *ev}
}

// NewSpeed builds a speed broadcast from a recorded event.
func NewSpeed(ev *model.Event) EventMessage {
	return EventMessage{Tipo: TypeSpeed, Event: *ev}
}

// SequenceMessage announces a submitted sequence with all of its steps.
type SequenceMessage struct {
	Tipo       string  `json:"tipo"`
	DeviceID   int64   `json:"id_dispositivo"`
	ClientID   int64   `json:"id_cliente"`
	SequenceID int64   `json:"id_secuencia"`
	Name       string  `json:"nombre"`
	Steps      []int64 `json:"movimientos"`
}

func (m SequenceMessage) Type() string  { return m.Tipo }
func (m SequenceMessage) Topic() string { return Topic(m.DeviceID, m.Tipo) }

// NewSequence builds the sequence broadcast for a persisted sequence sent to
// a device.
func NewSequence(seq *model.Sequence, deviceID int64) SequenceMessage {
	return SequenceMessage{
		Tipo:       TypeSequence,
		DeviceID:   deviceID,
		ClientID:   seq.ClientID,
		SequenceID: seq.ID,
		Name:       seq.Name,
		Steps:      slices.Clone(seq.Steps),
	}
}

// AckMessage acknowledges a frame received from an observer. It is sent only
// to that observer.
type AckMessage struct {
	Tipo string `json:"tipo"`
	Msg  string `json:"msg"`
}

func (m AckMessage) Type() string  { return m.Tipo }
func (m AckMessage) Topic() string { return "" }

// NewAck acknowledges the text of a received frame.
func NewAck(received string) AckMessage {
	return AckMessage{Tipo: TypeAck, Msg: "recibido: " + received}
}

// Publisher is the interface for mirroring messages onto the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}
