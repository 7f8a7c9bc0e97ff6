package sync

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tkdmetrics/rankwatch/internal/detect"
)

// EventSink receives change events derived during a cycle. Sink failures
// are logged and never fail the cycle: events are recomputable from the
// stored snapshots.
type EventSink interface {
	Publish(ctx context.Context, events []detect.ChangeEvent) error
}

// LogSink writes change events to the structured log. The default sink.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Publish(_ context.Context, events []detect.ChangeEvent) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, ev := range events {
		logger.Info("ranking change",
			"category", ev.Category,
			"entity", ev.EntityKey,
			"old_rank", ev.OldRank,
			"new_rank", ev.NewRank,
			"rank_delta", ev.RankDelta,
			"old_points", ev.OldPoints,
			"new_points", ev.NewPoints,
		)
	}
	return nil
}

// MemorySink buffers events in memory. Used by tests and the dry-run CLI
// path to inspect what a cycle produced.
type MemorySink struct {
	mu     sync.Mutex
	events []detect.ChangeEvent
}

func (s *MemorySink) Publish(_ context.Context, events []detect.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// Events returns a copy of everything published so far.
func (s *MemorySink) Events() []detect.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]detect.ChangeEvent, len(s.events))
	copy(out, s.events)
	return out
}
