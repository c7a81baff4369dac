// Package pipeline turns validated cart commands into persisted events and
// broadcasts. Every command is written to the store before anything is sent to
// observers; a command that fails to persist is never broadcast.
package pipeline

import (
	"context"
	"log/slog"
	"slices"

	"github.com/alfredjeanlab/carts/internal/events"
	"github.com/alfredjeanlab/carts/internal/metrics"
	"github.com/alfredjeanlab/carts/internal/model"
	"github.com/alfredjeanlab/carts/internal/store"
)

// Command kinds, used as metric labels.
const (
	kindMovement = "movement"
	kindObstacle = "obstacle"
	kindSpeed    = "speed"
	kindSequence = "sequence"
)

// Broadcaster delivers a message to every live observer.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg events.Message)
}

// ActivityRecorder is told about every command that was persisted.
type ActivityRecorder interface {
	RecordActivity(deviceID, clientID int64, kind string)
}

// Pipeline records commands and fans them out.
type Pipeline struct {
	store       store.Store
	broadcaster Broadcaster
	publisher   events.Publisher
	activity    ActivityRecorder
	log         *slog.Logger
}

// New returns a Pipeline writing to s and broadcasting through b. Messages
// are mirrored to p after the broadcast; p may be nil.
func New(s store.Store, b Broadcaster, p events.Publisher, log *slog.Logger) *Pipeline {
	if p == nil {
		p = &events.NoopPublisher{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{store: s, broadcaster: b, publisher: p, log: log}
}

// TrackActivity reports every persisted command to r. Call before the
// pipeline is used.
func (p *Pipeline) TrackActivity(r ActivityRecorder) {
	p.activity = r
}

// RecordMovement persists a movement event and broadcasts it.
func (p *Pipeline) RecordMovement(ctx context.Context, cmd model.MovementCommand) (*model.Event, error) {
	if err := p.validate(kindMovement, cmd); err != nil {
		return nil, err
	}
	ev := &model.Event{
		DeviceID:  cmd.DeviceID,
		ClientID:  cmd.ClientID,
		Operation: cmd.Operation,
		Obstacle:  cmd.Obstacle,
	}
	if err := p.insertEvent(ctx, kindMovement, ev); err != nil {
		return nil, err
	}
	p.emit(ctx, events.NewMovement(ev))
	return ev, nil
}

// RecordObstacle records that the cart stopped for an obstacle.
func (p *Pipeline) RecordObstacle(ctx context.Context, cmd model.ObstacleCommand) (*model.Event, error) {
	if err := p.validate(kindObstacle, cmd); err != nil {
		return nil, err
	}
	ev := &model.Event{
		DeviceID:  cmd.DeviceID,
		ClientID:  cmd.ClientID,
		Operation: model.OperationStop,
		Obstacle:  cmd.Obstacle,
	}
	if err := p.insertEvent(ctx, kindObstacle, ev); err != nil {
		return nil, err
	}
	p.emit(ctx, events.NewObstacle(ev))
	return ev, nil
}

// RecordSpeed records a speed change. The event carries SpeedBaseOperation
// as its operation.
func (p *Pipeline) RecordSpeed(ctx context.Context, cmd model.SpeedCommand) (*model.Event, error) {
	if err := p.validate(kindSpeed, cmd); err != nil {
		return nil, err
	}
	speed := cmd.Speed
	ev := &model.Event{
		DeviceID:  cmd.DeviceID,
		ClientID:  cmd.ClientID,
		Operation: model.SpeedBaseOperation,
		Speed:     &speed,
	}
	if err := p.insertEvent(ctx, kindSpeed, ev); err != nil {
		return nil, err
	}
	p.emit(ctx, events.NewSpeed(ev))
	return ev, nil
}

// SubmitSequence persists a sequence, broadcasts it once with all of its
// steps, then records one event per step for the audit trail. Step events
// are not broadcast individually.
//
// If the step events fail to persist after the broadcast, the sequence id is
// returned together with a *model.PersistenceError.
func (p *Pipeline) SubmitSequence(ctx context.Context, cmd model.SequenceCommand) (int64, error) {
	if err := p.validate(kindSequence, cmd); err != nil {
		return 0, err
	}
	seq := &model.Sequence{
		Name:     cmd.Name,
		Steps:    slices.Clone(cmd.Steps),
		ClientID: cmd.ClientID,
	}
	if err := p.store.InsertSequence(ctx, seq); err != nil {
		return 0, p.persistFailed(kindSequence, "insert sequence", err)
	}
	p.recordActivity(cmd.DeviceID, cmd.ClientID, kindSequence)
	p.emit(ctx, events.NewSequence(seq, cmd.DeviceID))

	// The cart already has the sequence; record the steps even if the caller
	// has gone away.
	ctx = context.WithoutCancel(ctx)
	err := p.store.RunInTransaction(ctx, func(tx store.Store) error {
		for _, op := range seq.Steps {
			ev := &model.Event{
				DeviceID:  cmd.DeviceID,
				ClientID:  cmd.ClientID,
				Operation: op,
			}
			if err := tx.InsertEvent(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return seq.ID, p.persistFailed(kindSequence, "record sequence steps", err)
	}
	metrics.CommandsTotal.WithLabelValues(kindSequence, metrics.OutcomeOK).Inc()
	return seq.ID, nil
}

func (p *Pipeline) validate(kind string, cmd any) error {
	if err := model.Validate(cmd); err != nil {
		metrics.CommandsTotal.WithLabelValues(kind, metrics.OutcomeInvalid).Inc()
		return err
	}
	return nil
}

func (p *Pipeline) insertEvent(ctx context.Context, kind string, ev *model.Event) error {
	if err := p.store.InsertEvent(ctx, ev); err != nil {
		return p.persistFailed(kind, "insert event", err)
	}
	metrics.CommandsTotal.WithLabelValues(kind, metrics.OutcomeOK).Inc()
	p.recordActivity(ev.DeviceID, ev.ClientID, kind)
	return nil
}

func (p *Pipeline) recordActivity(deviceID, clientID int64, kind string) {
	if p.activity != nil {
		p.activity.RecordActivity(deviceID, clientID, kind)
	}
}

func (p *Pipeline) persistFailed(kind, op string, err error) error {
	metrics.CommandsTotal.WithLabelValues(kind, metrics.OutcomePersistError).Inc()
	p.log.Warn("failed to persist command", "kind", kind, "op", op, "error", err)
	return &model.PersistenceError{Op: op, Err: err}
}

// emit broadcasts msg to observers, then mirrors it on the bus. Bus failures
// are logged and otherwise ignored.
func (p *Pipeline) emit(ctx context.Context, msg events.Message) {
	p.broadcaster.Broadcast(ctx, msg)
	if err := p.publisher.Publish(ctx, msg); err != nil {
		p.log.Warn("failed to publish message", "topic", msg.Topic(), "error", err)
	}
}
