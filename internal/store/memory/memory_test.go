package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alfredjeanlab/carts/internal/model"
	"github.com/alfredjeanlab/carts/internal/store"
)

// fixedClock returns the same instant for every record.
func fixedClock(s *Store) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return at }
}

func TestInsertEvent_AssignsAndEnriches(t *testing.T) {
	s := New()
	obstacle := int64(1)
	ev := &model.Event{DeviceID: 4, ClientID: 7, Operation: model.OperationStop, Obstacle: &obstacle}
	if err := s.InsertEvent(context.Background(), ev); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	if ev.ID != 1 || ev.Timestamp.IsZero() {
		t.Errorf("ID=%d Timestamp=%v", ev.ID, ev.Timestamp)
	}
	if ev.OperationText == nil || *ev.OperationText != "Detener" {
		t.Errorf("OperationText = %v", ev.OperationText)
	}
	if ev.ObstacleText == nil || *ev.ObstacleText != "Obstáculo al frente" {
		t.Errorf("ObstacleText = %v", ev.ObstacleText)
	}
	if ev.SpeedText != nil {
		t.Errorf("SpeedText = %v, want nil", ev.SpeedText)
	}
}

func TestInsertEvent_UnknownCodeHasNullText(t *testing.T) {
	s := New()
	ev := &model.Event{DeviceID: 1, Operation: 99}
	_ = s.InsertEvent(context.Background(), ev)
	if ev.OperationText != nil {
		t.Errorf("OperationText = %q, want nil", *ev.OperationText)
	}
}

func TestLatestEvents_TieBreakByID(t *testing.T) {
	s := New()
	fixedClock(s)
	ctx := context.Background()
	for _, op := range []int64{2, 3} {
		_ = s.InsertEvent(ctx, &model.Event{DeviceID: 4, ClientID: 7, Operation: op})
	}
	_ = s.InsertEvent(ctx, &model.Event{DeviceID: 5, Operation: 1})

	evs, err := s.LatestEvents(ctx, 4, 2)
	if err != nil {
		t.Fatalf("LatestEvents: %v", err)
	}
	if len(evs) != 2 || evs[0].Operation != 3 || evs[1].Operation != 2 {
		t.Fatalf("got %+v, want operations [3 2]", evs)
	}

	last, _ := s.LatestEvent(ctx, 4)
	if last == nil || last.Operation != 3 {
		t.Errorf("LatestEvent = %+v, want operation 3", last)
	}
}

func TestLatestEvent_None(t *testing.T) {
	s := New()
	ev, err := s.LatestEvent(context.Background(), 4)
	if err != nil || ev != nil {
		t.Errorf("LatestEvent = %v, %v; want nil, nil", ev, err)
	}
	evs, _ := s.LatestEvents(context.Background(), 4, 10)
	if evs == nil || len(evs) != 0 {
		t.Errorf("LatestEvents = %v, want empty non-nil slice", evs)
	}
}

func TestReadsReturnCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	ev := &model.Event{DeviceID: 4, Operation: 1}
	_ = s.InsertEvent(ctx, ev)
	ev.Operation = 2

	got, _ := s.LatestEvent(ctx, 4)
	got.Operation = 5
	again, _ := s.LatestEvent(ctx, 4)
	if again.Operation != 1 {
		t.Errorf("stored event changed to %d", again.Operation)
	}
}

func TestListEventsAfter(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = s.InsertEvent(ctx, &model.Event{DeviceID: int64(i), Operation: 1})
	}
	evs, _ := s.ListEventsAfter(ctx, 2, 2)
	if len(evs) != 2 || evs[0].ID != 3 || evs[1].ID != 4 {
		t.Errorf("got %+v, want ids [3 4]", evs)
	}
}

func TestRunInTransaction(t *testing.T) {
	s := New()
	ctx := context.Background()

	errBoom := errors.New("boom")
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		_ = tx.InsertEvent(ctx, &model.Event{DeviceID: 1, Operation: 1})
		staged, _ := tx.LatestEvent(ctx, 1)
		if staged == nil {
			t.Error("staged event not visible inside the transaction")
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	if ev, _ := s.LatestEvent(ctx, 1); ev != nil {
		t.Fatalf("rolled back event is visible: %+v", ev)
	}

	err = s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.InsertEvent(ctx, &model.Event{DeviceID: 1, Operation: 1})
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	if ev, _ := s.LatestEvent(ctx, 1); ev == nil {
		t.Fatal("committed event is missing")
	}
}

func TestInsertSequence(t *testing.T) {
	s := New()
	seq := &model.Sequence{Name: "patrol", Steps: []int64{1, 3, 1, 2}, ClientID: 9}
	if err := s.InsertSequence(context.Background(), seq); err != nil {
		t.Fatalf("InsertSequence: %v", err)
	}
	if seq.ID != 1 || !seq.Active {
		t.Errorf("got %+v", seq)
	}
	seq.Steps[0] = 42
	if got := s.Sequences(); len(got) != 1 || got[0].Steps[0] != 1 {
		t.Errorf("Sequences() = %+v", got)
	}
}
