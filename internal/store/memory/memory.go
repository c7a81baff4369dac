// Package memory implements store.Store in process memory. It backs
// CARTS_STORE=memory deployments and the package tests; nothing survives a restart.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/alfredjeanlab/carts/internal/model"
	"github.com/alfredjeanlab/carts/internal/store"
)

// Lookup descriptions, matching the seeded PostgreSQL tables.
var (
	operations = map[int64]string{
		1: "Adelante",
		2: "Atrás",
		3: "Detener",
		4: "Vuelta derecha",
		5: "Vuelta izquierda",
	}
	obstacles = map[int64]string{
		1: "Obstáculo al frente",
		2: "Obstáculo atrás",
		3: "Obstáculo a la derecha",
		4: "Obstáculo a la izquierda",
	}
	speeds = map[int64]string{
		1: "Lenta",
		2: "Media",
		3: "Rápida",
	}
)

// Store is an in-memory store.Store.
type Store struct {
	mu        sync.Mutex
	events    []*model.Event
	sequences []*model.Sequence
	eventID   int64
	seqID     int64

	// Now stamps new records; tests may replace it.
	Now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{Now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) InsertEvent(_ context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, s.newEvent(ev))
	return nil
}

func (s *Store) InsertSequence(_ context.Context, seq *model.Sequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences = append(s.sequences, s.newSequence(seq))
	return nil
}

func (s *Store) LatestEvent(_ context.Context, deviceID int64) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return first(latest(s.events, deviceID, 1)), nil
}

func (s *Store) LatestEvents(_ context.Context, deviceID int64, n int) ([]*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return latest(s.events, deviceID, n), nil
}

func (s *Store) ListEventsAfter(_ context.Context, afterID int64, limit int) ([]*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return after(s.events, afterID, limit), nil
}

// Sequences returns copies of every stored sequence in insertion order.
func (s *Store) Sequences() []*model.Sequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Sequence, len(s.sequences))
	for i, seq := range s.sequences {
		c := *seq
		c.Steps = slices.Clone(seq.Steps)
		out[i] = &c
	}
	return out
}

// RunInTransaction stages writes made through tx and applies them only if fn
// succeeds. The store is locked for the duration of fn.
func (s *Store) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txStore{parent: s}
	if err := fn(tx); err != nil {
		return err
	}
	s.events = append(s.events, tx.events...)
	s.sequences = append(s.sequences, tx.sequences...)
	return nil
}

func (s *Store) Close() error { return nil }

// newEvent assigns id, timestamp and lookup text to ev and returns the copy
// to keep. Callers hold s.mu.
func (s *Store) newEvent(ev *model.Event) *model.Event {
	s.eventID++
	ev.ID = s.eventID
	ev.Timestamp = s.Now()
	ev.OperationText = lookup(operations, &ev.Operation)
	ev.ObstacleText = lookup(obstacles, ev.Obstacle)
	ev.SpeedText = lookup(speeds, ev.Speed)
	return cloneEvent(ev)
}

func (s *Store) newSequence(seq *model.Sequence) *model.Sequence {
	s.seqID++
	seq.ID = s.seqID
	seq.Active = true
	seq.CreatedAt = s.Now()
	kept := *seq
	kept.Steps = slices.Clone(seq.Steps)
	return &kept
}

// txStore stages writes for RunInTransaction. The parent lock is already held.
type txStore struct {
	parent    *Store
	events    []*model.Event
	sequences []*model.Sequence
}

func (t *txStore) InsertEvent(_ context.Context, ev *model.Event) error {
	t.events = append(t.events, t.parent.newEvent(ev))
	return nil
}

func (t *txStore) InsertSequence(_ context.Context, seq *model.Sequence) error {
	t.sequences = append(t.sequences, t.parent.newSequence(seq))
	return nil
}

func (t *txStore) LatestEvent(_ context.Context, deviceID int64) (*model.Event, error) {
	return first(latest(slices.Concat(t.parent.events, t.events), deviceID, 1)), nil
}

func (t *txStore) LatestEvents(_ context.Context, deviceID int64, n int) ([]*model.Event, error) {
	return latest(slices.Concat(t.parent.events, t.events), deviceID, n), nil
}

func (t *txStore) ListEventsAfter(_ context.Context, afterID int64, limit int) ([]*model.Event, error) {
	return after(slices.Concat(t.parent.events, t.events), afterID, limit), nil
}

func (t *txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

func (t *txStore) Close() error { return nil }

// latest returns copies of up to n events for deviceID ordered by timestamp
// then id, both descending.
func latest(all []*model.Event, deviceID int64, n int) []*model.Event {
	var matched []*model.Event
	for _, ev := range all {
		if ev.DeviceID == deviceID {
			matched = append(matched, ev)
		}
	}
	slices.SortFunc(matched, func(a, b *model.Event) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return copyEvents(matched[:max(0, min(n, len(matched)))])
}

func after(all []*model.Event, afterID int64, limit int) []*model.Event {
	var matched []*model.Event
	for _, ev := range all {
		if ev.ID > afterID {
			matched = append(matched, ev)
		}
	}
	slices.SortFunc(matched, func(a, b *model.Event) int { return cmp.Compare(a.ID, b.ID) })
	return copyEvents(matched[:max(0, min(limit, len(matched)))])
}

func copyEvents(evs []*model.Event) []*model.Event {
	out := make([]*model.Event, len(evs))
	for i, ev := range evs {
		out[i] = cloneEvent(ev)
	}
	return out
}

func cloneEvent(ev *model.Event) *model.Event {
	c := *ev
	c.OperationText = clonePtr(ev.OperationText)
	c.Obstacle = clonePtr(ev.Obstacle)
	c.ObstacleText = clonePtr(ev.ObstacleText)
	c.Speed = clonePtr(ev.Speed)
	c.SpeedText = clonePtr(ev.SpeedText)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func first(evs []*model.Event) *model.Event {
	if len(evs) == 0 {
		return nil
	}
	return evs[0]
}

func lookup(table map[int64]string, code *int64) *string {
	if code == nil {
		return nil
	}
	text, ok := table[*code]
	if !ok {
		return nil
	}
	return &text
}
