// Package presence keeps a live roster of the carts the service has
// commanded.
//
// The Tracker is fed by the command pipeline after each command is
// persisted. A background reaper marks carts that have gone quiet as stale
// and eventually forgets them; a cart that is commanded again comes back.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/carts/internal/metrics"
)

// Entry is one cart's presence state.
type Entry struct {
	DeviceID     int64     `json:"id_dispositivo"`
	ClientID     int64     `json:"id_cliente"`     // last issuing client
	LastCommand  string    `json:"ultimo_comando"` // movement, obstacle, speed or sequence
	FirstSeen    time.Time `json:"primera_vez"`
	LastSeen     time.Time `json:"ultima_vez"`
	IdleSecs     float64   `json:"segundos_inactivo"`
	CommandCount int64     `json:"total_comandos"`
	Stale        bool      `json:"inactivo,omitempty"`
}

// ReaperConfig configures the background stale-cart reaper.
type ReaperConfig struct {
	// StaleThreshold is how long a cart must go uncommanded before it is
	// marked stale. Default: 15 minutes.
	StaleThreshold time.Duration

	// EvictAfter is how long a stale cart stays in the roster before it is
	// removed. Default: 1 hour.
	EvictAfter time.Duration

	// SweepInterval is how often the reaper scans the roster.
	// Default: 60 seconds.
	SweepInterval time.Duration

	// OnStale is called outside the lock for each cart newly marked stale.
	OnStale func(deviceID int64)
}

func (c *ReaperConfig) withDefaults() *ReaperConfig {
	out := ReaperConfig{}
	if c != nil {
		out = *c
	}
	if out.StaleThreshold <= 0 {
		out.StaleThreshold = 15 * time.Minute
	}
	if out.EvictAfter <= 0 {
		out.EvictAfter = time.Hour
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = 60 * time.Second
	}
	return &out
}

// Tracker maintains an in-memory roster of carts.
type Tracker struct {
	mu      sync.RWMutex
	devices map[int64]*deviceState
	now     func() time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type deviceState struct {
	clientID     int64
	lastCommand  string
	firstSeen    time.Time
	lastSeen     time.Time
	commandCount int64
	stale        bool
	staleAt      time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		devices: make(map[int64]*deviceState),
		now:     time.Now,
	}
}

// RecordActivity notes that a command of the given kind was persisted for a
// cart.
func (t *Tracker) RecordActivity(deviceID, clientID int64, kind string) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.devices[deviceID]
	if !ok {
		state = &deviceState{firstSeen: now}
		t.devices[deviceID] = state
	}
	if state.stale {
		slog.Info("presence: device active again", "device", deviceID)
		state.stale = false
		state.staleAt = time.Time{}
	}
	state.clientID = clientID
	state.lastCommand = kind
	state.lastSeen = now
	state.commandCount++

	metrics.ActiveDevices.Set(float64(t.activeLocked()))
}

// Roster returns a snapshot of tracked carts, most recently commanded first.
// Carts idle for longer than idleLimit are left out; 0 includes all of them.
func (t *Tracker) Roster(idleLimit time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	entries := make([]Entry, 0, len(t.devices))
	for id, state := range t.devices {
		idle := now.Sub(state.lastSeen)
		if idleLimit > 0 && idle > idleLimit {
			continue
		}
		entries = append(entries, Entry{
			DeviceID:     id,
			ClientID:     state.clientID,
			LastCommand:  state.lastCommand,
			FirstSeen:    state.firstSeen,
			LastSeen:     state.lastSeen,
			IdleSecs:     idle.Seconds(),
			CommandCount: state.commandCount,
			Stale:        state.stale,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].LastSeen.Equal(entries[j].LastSeen) {
			return entries[i].LastSeen.After(entries[j].LastSeen)
		}
		return entries[i].DeviceID < entries[j].DeviceID
	})
	return entries
}

// StartReaper launches a goroutine that periodically marks idle carts stale.
// Call Stop to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	cfg = cfg.withDefaults()
	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	slog.Info("presence: reaper started",
		"stale_threshold", cfg.StaleThreshold,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine. It is a no-op if the reaper is not
// running.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg *ReaperConfig) {
	now := t.now()
	var newlyStale []int64

	t.mu.Lock()
	for id, state := range t.devices {
		if state.stale {
			if now.Sub(state.staleAt) > cfg.EvictAfter {
				delete(t.devices, id)
			}
			continue
		}
		if now.Sub(state.lastSeen) > cfg.StaleThreshold {
			state.stale = true
			state.staleAt = now
			newlyStale = append(newlyStale, id)
		}
	}
	metrics.ActiveDevices.Set(float64(t.activeLocked()))
	t.mu.Unlock()

	for _, id := range newlyStale {
		slog.Info("presence: device marked stale", "device", id, "threshold", cfg.StaleThreshold)
		if cfg.OnStale != nil {
			cfg.OnStale(id)
		}
	}
}

// activeLocked counts carts that are not stale. Callers hold t.mu.
func (t *Tracker) activeLocked() int {
	n := 0
	for _, state := range t.devices {
		if !state.stale {
			n++
		}
	}
	return n
}
