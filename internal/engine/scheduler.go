package engine

import "time"

// Scheduler runs a callback once after a delay.
//
// The grace period is always a scheduled callback, never a sleep on the
// event loop. The returned stop function cancels the callback and reports
// whether it had not yet started.
//
// Production uses time.AfterFunc; tests use testutil.ManualScheduler.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	t := time.AfterFunc(d, f)
	return t.Stop
}
