// Package activity tracks per-stream message activity.
//
// The Tracker keeps an in-memory record of every stream the engine has
// received messages from, updated by the dispatcher after each message. A
// background watchdog marks streams stale when they go quiet for longer than
// a threshold, which usually means the CDC connector for that table stopped
// publishing. A stale stream becomes live again with its next message.
package activity

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Entry is a snapshot of one stream's activity.
type Entry struct {
	Stream     string    `json:"stream"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	LastResult string    `json:"last_result"`
	IdleSecs   float64   `json:"idle_secs"` // seconds since last message
	Messages   int64     `json:"messages"`
	Failures   int64     `json:"failures"` // messages that could not be decoded
	Stale      bool      `json:"stale,omitempty"`
	StaleSince time.Time `json:"stale_since,omitzero"`
}

// WatchdogConfig configures the background stale-stream watchdog.
type WatchdogConfig struct {
	// StaleAfter is how long a stream must be quiet before it is marked
	// stale. Default: 5 minutes.
	StaleAfter time.Duration

	// SweepInterval is how often the watchdog scans the streams.
	// Default: 30 seconds.
	SweepInterval time.Duration

	// OnChange is called when a stream becomes stale or live again.
	// Called outside the lock.
	OnChange func(stream string, stale bool)
}

// Tracker maintains the activity record of every stream seen.
type Tracker struct {
	mu      sync.RWMutex
	streams map[string]*streamState
	now     func() time.Time
	logger  *slog.Logger

	onChange func(stream string, stale bool)

	watchdogStop chan struct{}
	watchdogDone chan struct{}
}

type streamState struct {
	firstSeen  time.Time
	lastSeen   time.Time
	lastResult string
	messages   int64
	failures   int64
	stale      bool
	staleSince time.Time
}

// New creates a tracker. A nil logger uses slog.Default.
func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		streams: make(map[string]*streamState),
		now:     time.Now,
		logger:  logger,
	}
}

// RecordMessage notes one message received on stream and how it was handled.
func (t *Tracker) RecordMessage(stream, result string, failed bool) {
	if stream == "" {
		return
	}

	now := t.now()
	t.mu.Lock()
	state, ok := t.streams[stream]
	if !ok {
		state = &streamState{firstSeen: now}
		t.streams[stream] = state
	}

	resumed := state.stale
	if resumed {
		state.stale = false
		state.staleSince = time.Time{}
	}

	state.lastSeen = now
	state.lastResult = result
	state.messages++
	if failed {
		state.failures++
	}
	onChange := t.onChange
	t.mu.Unlock()

	if resumed {
		t.logger.Info("activity: stream resumed", "stream", stream)
		if onChange != nil {
			onChange(stream, false)
		}
	}
}

// Streams returns a snapshot of all tracked streams, sorted by name.
func (t *Tracker) Streams() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	entries := make([]Entry, 0, len(t.streams))
	for stream, state := range t.streams {
		entries = append(entries, Entry{
			Stream:     stream,
			FirstSeen:  state.firstSeen,
			LastSeen:   state.lastSeen,
			LastResult: state.lastResult,
			IdleSecs:   now.Sub(state.lastSeen).Seconds(),
			Messages:   state.messages,
			Failures:   state.failures,
			Stale:      state.stale,
			StaleSince: state.staleSince,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Stream < entries[j].Stream
	})
	return entries
}

// StartWatchdog launches a background goroutine that periodically marks
// quiet streams stale. Call Stop to shut it down.
func (t *Tracker) StartWatchdog(cfg *WatchdogConfig) {
	if cfg == nil {
		cfg = &WatchdogConfig{}
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	t.mu.Lock()
	t.onChange = cfg.OnChange
	t.mu.Unlock()

	t.watchdogStop = make(chan struct{})
	t.watchdogDone = make(chan struct{})

	go t.watchLoop(cfg)
	t.logger.Info("activity: watchdog started",
		"stale_after", cfg.StaleAfter,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the watchdog goroutine.
func (t *Tracker) Stop() {
	if t.watchdogStop != nil {
		close(t.watchdogStop)
		<-t.watchdogDone
		t.watchdogStop = nil
		t.watchdogDone = nil
	}
}

func (t *Tracker) watchLoop(cfg *WatchdogConfig) {
	defer close(t.watchdogDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.watchdogStop:
			return
		case <-ticker.C:
			t.sweep(cfg.StaleAfter)
		}
	}
}

// sweep marks streams idle for longer than staleAfter and returns the names
// newly marked.
func (t *Tracker) sweep(staleAfter time.Duration) []string {
	now := t.now()

	var newlyStale []string
	t.mu.Lock()
	for stream, state := range t.streams {
		if state.stale {
			continue
		}
		if now.Sub(state.lastSeen) > staleAfter {
			state.stale = true
			state.staleSince = now
			newlyStale = append(newlyStale, stream)
		}
	}
	onChange := t.onChange
	t.mu.Unlock()

	sort.Strings(newlyStale)
	for _, stream := range newlyStale {
		t.logger.Warn("activity: stream went quiet",
			"stream", stream,
			"stale_after", staleAfter)
		if onChange != nil {
			onChange(stream, true)
		}
	}
	return newlyStale
}
