// Package testutil provides deterministic stand-ins for time and the
// dispatch receiver, shared by engine, supervisor and harness tests.
package testutil

import (
	"sort"
	"sync"
	"time"
)

// ManualScheduler is a virtual-time scheduler for tests.
//
// It satisfies engine.Scheduler: AfterFunc registers a callback that fires
// only when the test advances virtual time past its deadline. Callbacks run
// synchronously on the goroutine calling Advance or FireAll, in deadline
// order (ties in registration order), with the scheduler lock released.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	nextID int64
	timers []*manualTimer
}

type manualTimer struct {
	id  int64
	due time.Time
	f   func()
}

// NewManualScheduler creates a scheduler whose virtual clock starts at start.
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

// Now returns the current virtual time.
func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// AfterFunc schedules f to run once virtual time reaches now+d.
// The returned stop function cancels the callback and reports whether it
// was still pending.
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	t := &manualTimer{id: s.nextID, due: s.now.Add(d), f: f}
	s.timers = append(s.timers, t)
	sort.SliceStable(s.timers, func(i, j int) bool {
		if s.timers[i].due.Equal(s.timers[j].due) {
			return s.timers[i].id < s.timers[j].id
		}
		return s.timers[i].due.Before(s.timers[j].due)
	})

	return func() bool { return s.remove(t.id) }
}

// Advance moves virtual time forward by d, firing every callback due on the
// way. Callbacks scheduled by fired callbacks also fire if they fall inside
// the window. Returns the number of callbacks fired.
func (s *ManualScheduler) Advance(d time.Duration) int {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	fired := 0
	for {
		s.mu.Lock()
		if len(s.timers) == 0 || s.timers[0].due.After(target) {
			s.now = target
			s.mu.Unlock()
			return fired
		}
		t := s.timers[0]
		s.timers = s.timers[1:]
		if t.due.After(s.now) {
			s.now = t.due
		}
		s.mu.Unlock()

		t.f()
		fired++
	}
}

// FireAll advances virtual time to the last pending deadline, firing
// everything. Returns the number of callbacks fired.
func (s *ManualScheduler) FireAll() int {
	fired := 0
	for {
		s.mu.Lock()
		if len(s.timers) == 0 {
			s.mu.Unlock()
			return fired
		}
		d := s.timers[len(s.timers)-1].due.Sub(s.now)
		s.mu.Unlock()

		fired += s.Advance(d)
	}
}

// Pending returns the number of callbacks not yet fired or stopped.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *ManualScheduler) remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.timers {
		if t.id == id {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			return true
		}
	}
	return false
}
