package service

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ragline/ingestd/internal/domain/model"
	"github.com/ragline/ingestd/internal/events"
)

// StatsAggregator tallies firing outcomes from the event bus. Counters live
// for the process only; a restart starts from zero.
type StatsAggregator struct {
	bus    *events.Bus
	logger *slog.Logger

	executed atomic.Uint64
	failed   atomic.Uint64
	missed   atomic.Uint64

	mu            sync.Mutex
	lastExecution *time.Time
	lastError     *model.ErrorSnapshot

	events <-chan events.Event
	unsub  func()
	done   chan struct{}
}

// StatsOptions holds the dependencies for creating a StatsAggregator.
type StatsOptions struct {
	Bus    *events.Bus
	Logger *slog.Logger
}

// NewStatsAggregator subscribes to the bus and starts consuming immediately.
func NewStatsAggregator(opts StatsOptions) (*StatsAggregator, error) {
	if opts.Bus == nil {
		return nil, errors.New("stats: event bus is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch, unsub := opts.Bus.Subscribe("stats")
	s := &StatsAggregator{
		bus:    opts.Bus,
		logger: logger,
		events: ch,
		unsub:  unsub,
		done:   make(chan struct{}),
	}
	go s.consume()
	return s, nil
}

// Close unsubscribes from the bus and waits for the consumer to drain.
// Snapshot stays readable afterwards.
func (s *StatsAggregator) Close() {
	s.unsub()
	<-s.done
}

// Snapshot returns a copy of the current counters.
func (s *StatsAggregator) Snapshot() model.SchedulerStats {
	stats := model.SchedulerStats{
		Executed:      s.executed.Load(),
		Failed:        s.failed.Load(),
		Missed:        s.missed.Load(),
		DroppedEvents: s.bus.Dropped(),
	}

	s.mu.Lock()
	if s.lastExecution != nil {
		t := *s.lastExecution
		stats.LastExecution = &t
	}
	if s.lastError != nil {
		e := *s.lastError
		stats.LastError = &e
	}
	s.mu.Unlock()
	return stats
}

func (s *StatsAggregator) consume() {
	defer close(s.done)
	for ev := range s.events {
		s.apply(ev)
	}
}

func (s *StatsAggregator) apply(ev events.Event) {
	switch ev.Type {
	case events.TypeExecuted:
		s.executed.Add(1)
		s.mu.Lock()
		at := ev.At
		s.lastExecution = &at
		s.mu.Unlock()
	case events.TypeFailed:
		s.failed.Add(1)
		s.mu.Lock()
		s.lastError = &model.ErrorSnapshot{
			JobID:   ev.JobID,
			Message: ev.Message,
			At:      ev.At,
		}
		s.mu.Unlock()
	case events.TypeMissed:
		s.missed.Add(1)
	default:
		s.logger.Warn("stats: unknown event type", "type", ev.Type)
	}
}
