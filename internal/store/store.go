package store

import (
	"context"

	"github.com/alfredjeanlab/carts/internal/model"
)

// Store defines the persistence interface for cart events and sequences.
type Store interface {
	// InsertEvent writes a new event and fills in its store-assigned ID,
	// timestamp and lookup text fields.
	InsertEvent(ctx context.Context, event *model.Event) error

	// InsertSequence writes a new sequence and fills in its ID, active flag
	// and creation time.
	InsertSequence(ctx context.Context, seq *model.Sequence) error

	// LatestEvent returns the most recent event for a device, or nil if the
	// device has none.
	LatestEvent(ctx context.Context, deviceID int64) (*model.Event, error)

	// LatestEvents returns up to n events for a device, most recent first.
	// Events with equal timestamps are ordered by descending ID.
	LatestEvents(ctx context.Context, deviceID int64, n int) ([]*model.Event, error)

	// ListEventsAfter returns up to limit events with ID greater than afterID,
	// in ascending ID order. Used by the audit export.
	ListEventsAfter(ctx context.Context, afterID int64, limit int) ([]*model.Event, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
