package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/carts/internal/model"
	"github.com/alfredjeanlab/carts/internal/store"
)

// header is the first JSONL record of every batch.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	EventCount int       `json:"event_count"`
	FirstID    int64     `json:"first_id"`
	LastID     int64     `json:"last_id"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string       `json:"type"`
	Data *model.Event `json:"data"`
}

// Batch is one page of exported events.
type Batch struct {
	FirstID int64
	LastID  int64
	Count   int
	Data    []byte
}

// Key returns the object key for the batch under prefix.
func (b *Batch) Key(prefix string) string {
	name := fmt.Sprintf("events-%012d-%012d.jsonl", b.FirstID, b.LastID)
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// ExportJSONL writes up to limit events with ID greater than afterID to w as
// JSONL: a header line, then one line per event in ascending ID order. It
// returns the batch bounds; Count is zero when there was nothing to export.
//
// When settledBefore is non-zero the batch ends at the first event stamped at
// or after it, so a batch never reaches past an event that is still settling.
func ExportJSONL(ctx context.Context, s store.Store, afterID int64, limit int, settledBefore time.Time, w io.Writer) (*Batch, error) {
	evs, err := s.ListEventsAfter(ctx, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events after %d: %w", afterID, err)
	}
	if !settledBefore.IsZero() {
		for i, ev := range evs {
			if !ev.Timestamp.Before(settledBefore) {
				evs = evs[:i]
				break
			}
		}
	}
	b := &Batch{Count: len(evs)}
	if len(evs) == 0 {
		return b, nil
	}
	b.FirstID, b.LastID = evs[0].ID, evs[len(evs)-1].ID

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:    "1",
		Type:       "header",
		Timestamp:  time.Now().UTC(),
		EventCount: b.Count,
		FirstID:    b.FirstID,
		LastID:     b.LastID,
	}); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}

	for _, ev := range evs {
		if err := enc.Encode(record{Type: "event", Data: ev}); err != nil {
			return nil, fmt.Errorf("encode event %d: %w", ev.ID, err)
		}
	}
	return b, nil
}
