// Package export periodically copies new cart events to audit destinations
// as JSONL batches.
package export

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/carts/internal/metrics"
	"github.com/alfredjeanlab/carts/internal/store"
)

// DefaultBatchSize is the maximum number of events per batch.
const DefaultBatchSize = 1000

// Destination is the interface for an export target (S3, a directory).
type Destination interface {
	// Name identifies the destination in logs and metrics.
	Name() string
	// Write stores one JSONL batch under key.
	Write(ctx context.Context, key string, data []byte) error
}

// Scheduler runs periodic exports to one or more destinations. Delivery is
// at least once: the cursor only advances when every destination accepted a
// batch, and it starts from zero on every process start.
type Scheduler struct {
	store        store.Store
	destinations []Destination
	interval     time.Duration
	prefix       string
	batchSize    int
	logger       *slog.Logger

	// Settle holds back events younger than this. Ids are assigned before
	// commit, so a smaller id can become visible after a larger one and the
	// cursor must not pass it first. Zero exports everything visible.
	Settle time.Duration

	now func() time.Time

	mu     sync.Mutex
	lastID int64
}

// NewScheduler creates a scheduler that exports from the store to the given
// destinations at the specified interval. Batch keys are placed under prefix.
func NewScheduler(s store.Store, destinations []Destination, interval time.Duration, prefix string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		prefix:       prefix,
		batchSize:    DefaultBatchSize,
		logger:       logger,
		now:          time.Now,
	}
}

// LastID returns the ID of the last event exported to every destination.
func (s *Scheduler) LastID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

// Run exports once immediately, then on each tick, until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.ExportOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ExportOnce(ctx)
		}
	}
}

// ExportOnce drains every settled event newer than the cursor, one batch at
// a time. It stops at the first batch a destination rejects; that batch is
// retried on the next run.
func (s *Scheduler) ExportOnce(ctx context.Context) {
	var settledBefore time.Time
	if s.Settle > 0 {
		settledBefore = s.now().Add(-s.Settle)
	}

	exported := 0
	for ctx.Err() == nil {
		var buf bytes.Buffer
		batch, err := ExportJSONL(ctx, s.store, s.LastID(), s.batchSize, settledBefore, &buf)
		if err != nil {
			s.logger.Error("export failed", "err", err)
			return
		}
		if batch.Count == 0 {
			break
		}
		if !s.deliver(ctx, batch.Key(s.prefix), buf.Bytes(), batch.Count) {
			return
		}

		s.mu.Lock()
		s.lastID = batch.LastID
		s.mu.Unlock()
		exported += batch.Count

		if batch.Count < s.batchSize {
			break
		}
	}
	if exported > 0 {
		s.logger.Info("export completed", "destinations", len(s.destinations), "events", exported, "last_id", s.LastID())
	}
}

// deliver writes one batch to every destination and reports whether all of
// them accepted it.
func (s *Scheduler) deliver(ctx context.Context, key string, data []byte, count int) bool {
	ok := true
	for _, dest := range s.destinations {
		if err := dest.Write(ctx, key, data); err != nil {
			s.logger.Error("export destination write failed", "destination", dest.Name(), "key", key, "err", err)
			ok = false
			continue
		}
		metrics.ExportedEventsTotal.WithLabelValues(dest.Name()).Add(float64(count))
	}
	return ok
}
