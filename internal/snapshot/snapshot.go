package snapshot

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/permitlink/internal/idgen"
)

// Destination is the interface for a snapshot target (S3, local file).
type Destination interface {
	// Name identifies the destination in logs.
	Name() string
	// Write stores the JSONL payload.
	Write(ctx context.Context, data []byte) error
}

// Scheduler runs periodic exports to one or more destinations.
type Scheduler struct {
	source       Source
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports from source to the given
// destinations at the specified interval.
func NewScheduler(source Source, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:       source,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Start begins periodic export. It runs an initial export immediately, then
// on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current export (if any) to
// finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.Once(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Once(ctx)
		}
	}
}

// Once exports a single snapshot to every destination. Destination failures
// are logged and do not stop the remaining writes.
func (s *Scheduler) Once(ctx context.Context) {
	id, err := idgen.Snapshot()
	if err != nil {
		s.logger.Error("snapshot: id generation failed", "err", err)
		return
	}

	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.source, id, &buf); err != nil {
		s.logger.Error("snapshot: export failed", "err", err)
		return
	}
	data := buf.Bytes()

	failed := 0
	for _, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			failed++
			s.logger.Error("snapshot: destination write failed", "destination", dest.Name(), "err", err)
		}
	}

	s.logger.Info("snapshot: completed",
		"id", id, "destinations", len(s.destinations), "failed", failed, "bytes", len(data))
}
