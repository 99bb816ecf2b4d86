package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/yardcam/internal/occupancy"
	"github.com/roach88/yardcam/internal/store"
)

// DefaultGracePeriod is the wait between creating an intent and confirming it.
const DefaultGracePeriod = 5 * time.Second

// Journal receives the audit trail of a run. Implemented by *store.Store.
// Write errors are logged and never stop the engine.
type Journal interface {
	WriteTransition(ctx context.Context, rec store.TransitionRecord) error
	WriteAttempt(ctx context.Context, rec store.AttemptRecord) error
}

type settings struct {
	logger    *slog.Logger
	scheduler Scheduler
	grace     time.Duration
	threshold int
	journal   Journal
	clock     *Clock
	now       func() time.Time
}

func defaultSettings() settings {
	return settings{
		logger:    slog.Default(),
		scheduler: realScheduler{},
		grace:     DefaultGracePeriod,
		threshold: occupancy.DefaultThreshold,
		clock:     NewClock(),
		now:       time.Now,
	}
}

// Option configures an Engine or a Dispatcher.
type Option func(*settings)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithScheduler sets the grace-period scheduler. Defaults to time.AfterFunc.
func WithScheduler(sched Scheduler) Option {
	return func(s *settings) {
		if sched != nil {
			s.scheduler = sched
		}
	}
}

// WithGracePeriod sets the confirmation delay. Negative values become 0.
func WithGracePeriod(d time.Duration) Option {
	return func(s *settings) {
		if d < 0 {
			d = 0
		}
		s.grace = d
	}
}

// WithThreshold sets the debounce threshold (consecutive observations).
func WithThreshold(n int) Option {
	return func(s *settings) { s.threshold = n }
}

// WithJournal records transitions and dispatch attempts.
func WithJournal(j Journal) Option {
	return func(s *settings) { s.journal = j }
}

// WithClock sets the logical clock used to stamp transitions and intents.
func WithClock(c *Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithNow sets the wall clock used for intent timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}
