// Package supervisor runs one worker goroutine per camera.
//
// A worker pulls readings from its camera's Source and forwards them to the
// engine. A worker that fails (returns an error or panics) is isolated: the
// failure is logged, the camera's partial debounce runs are discarded, and
// the source is restarted after an exponential backoff. Other cameras keep
// running throughout.
//
// Backoff schedule with the defaults (1s initial, 30s cap):
//
//	1s, 2s, 4s, 8s, 16s, 30s, 30s, ...
//
// A source that stayed up longer than the cap before failing starts again at
// the initial delay.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/yardcam/internal/engine"
	"github.com/roach88/yardcam/internal/observability"
	"github.com/roach88/yardcam/internal/region"
)

// Defaults for Config fields left at zero.
const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

// Sink receives observations. Implemented by *engine.Engine.
type Sink interface {
	Observe(obs engine.Observation) bool
	ResetRegions(ids []region.ID) error
}

// Camera is one worker's static assignment.
type Camera struct {
	ID      string
	Regions []region.ID
	Source  Source
}

// Config controls sub-sampling and restarts.
type Config struct {
	// SampleEvery forwards every Nth reading per region (1 forwards all).
	SampleEvery int
	// InitialBackoff is the first restart delay; it doubles per failure.
	InitialBackoff time.Duration
	// MaxBackoff caps the restart delay.
	MaxBackoff time.Duration
	// MaxRetries stops a worker after this many consecutive failures.
	// 0 means retry forever.
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.SampleEvery < 1 {
		c.SampleEvery = 1
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// WorkerState is the lifecycle state of a camera worker.
type WorkerState string

const (
	StateStarting WorkerState = "starting"
	StateRunning  WorkerState = "running"
	StateBackoff  WorkerState = "backoff"
	StateFinished WorkerState = "finished"
	StateFailed   WorkerState = "failed"
	StateStopped  WorkerState = "stopped"
)

// WorkerStatus is a point-in-time view of one worker.
type WorkerStatus struct {
	Camera    string      `json:"camera"`
	State     WorkerState `json:"state"`
	Restarts  int         `json:"restarts"`
	Forwarded uint64      `json:"forwarded"`
	Dropped   uint64      `json:"dropped"`
	LastError string      `json:"last_error,omitempty"`
}

// Supervisor owns the camera workers.
type Supervisor struct {
	sink    Sink
	cfg     Config
	logger  *slog.Logger
	workers []*worker
	after   func(time.Duration) <-chan time.Time
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAfter replaces time.After for backoff waits. Used by tests.
func WithAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(s *Supervisor) { s.after = after }
}

// New creates a supervisor with one worker per camera.
func New(sink Sink, cameras []Camera, cfg Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		sink:   sink,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
		after:  time.After,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, cam := range cameras {
		s.workers = append(s.workers, newWorker(s, cam))
	}
	return s
}

// Run starts every worker and blocks until all have exited. Workers exit
// when ctx is cancelled, when their source finishes, or when they exceed
// MaxRetries. Returns the joined errors of workers that gave up.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor starting", "cameras", len(s.workers), "sample_every", s.cfg.SampleEvery)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, w := range s.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			if err := w.run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	s.logger.Info("supervisor stopped")
	return errors.Join(errs...)
}

// Status returns every worker's status in camera order.
func (s *Supervisor) Status() []WorkerStatus {
	out := make([]WorkerStatus, len(s.workers))
	for i, w := range s.workers {
		out[i] = w.status()
	}
	return out
}

// backoff returns the delay before restart number attempt (1-based).
func (s *Supervisor) backoff(attempt int) time.Duration {
	delay := s.cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	return delay
}

type worker struct {
	sup    *Supervisor
	cam    Camera
	owned  map[region.ID]struct{}
	logger *slog.Logger

	mu        sync.Mutex
	counts    map[region.ID]uint64
	state     WorkerState
	restarts  int
	forwarded uint64
	dropped   uint64
	lastErr   error
}

func newWorker(s *Supervisor, cam Camera) *worker {
	owned := make(map[region.ID]struct{}, len(cam.Regions))
	for _, id := range cam.Regions {
		owned[region.Normalize(string(id))] = struct{}{}
	}
	return &worker{
		sup:    s,
		cam:    cam,
		owned:  owned,
		logger: s.logger.With("camera", cam.ID),
		counts: make(map[region.ID]uint64),
		state:  StateStarting,
	}
}

func (w *worker) run(ctx context.Context) error {
	cfg := w.sup.cfg
	failures := 0

	for {
		if ctx.Err() != nil {
			w.setState(StateStopped, nil)
			return nil
		}

		w.setState(StateRunning, nil)
		started := time.Now()
		err := w.runOnce(ctx)

		if ctx.Err() != nil {
			w.setState(StateStopped, nil)
			w.logger.Info("worker stopped")
			return nil
		}
		if err == nil {
			w.setState(StateFinished, nil)
			w.logger.Info("source finished")
			return nil
		}

		// A long healthy run earns a fresh backoff schedule.
		if time.Since(started) > cfg.MaxBackoff {
			failures = 0
		}
		failures++

		switch rerr := w.sup.sink.ResetRegions(w.cam.Regions); {
		case engine.IsStopped(rerr):
			w.logger.Debug("debounce reset skipped: engine stopped")
		case rerr != nil:
			w.logger.Warn("debounce reset failed", "error", rerr)
		}
		w.resetCounts()

		if cfg.MaxRetries > 0 && failures > cfg.MaxRetries {
			err = fmt.Errorf("camera %s: max retries exceeded (%d attempts): %w", w.cam.ID, cfg.MaxRetries, err)
			w.setState(StateFailed, err)
			w.logger.Error("worker giving up", "error", err)
			return err
		}

		delay := w.sup.backoff(failures)
		w.setState(StateBackoff, err)
		observability.RecordWorkerRestart(w.cam.ID)
		w.logger.Warn("worker failed, restarting",
			"error", err,
			"attempt", failures,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		select {
		case <-w.sup.after(delay):
			w.mu.Lock()
			w.restarts++
			w.mu.Unlock()
		case <-ctx.Done():
			w.setState(StateStopped, nil)
			w.logger.Info("worker stopped during backoff")
			return nil
		}
	}
}

// runOnce runs the source once, converting a panic into an error.
func (w *worker) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("source panicked: %v", r)
		}
	}()
	if w.cam.Source == nil {
		return fmt.Errorf("camera %s has no source", w.cam.ID)
	}
	return w.cam.Source.Run(ctx, w.emit)
}

// emit forwards one reading. Sources may call it from any goroutine.
func (w *worker) emit(r Reading) {
	id := region.Normalize(string(r.Region))
	if _, ok := w.owned[id]; !ok {
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		observability.RecordDroppedObservation(engine.DropCameraMismatch)
		w.logger.Warn("reading for region not owned by camera", "region", id)
		return
	}

	w.mu.Lock()
	n := w.counts[id]
	w.counts[id] = n + 1
	w.mu.Unlock()
	if n%uint64(w.sup.cfg.SampleEvery) != 0 {
		return
	}

	if w.sup.sink.Observe(engine.Observation{Camera: w.cam.ID, Region: id, Occupied: r.Occupied}) {
		w.mu.Lock()
		w.forwarded++
		w.mu.Unlock()
	}
}

func (w *worker) resetCounts() {
	w.mu.Lock()
	w.counts = make(map[region.ID]uint64)
	w.mu.Unlock()
}

func (w *worker) setState(st WorkerState, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = st
	if err != nil {
		w.lastErr = err
	}
}

func (w *worker) status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := WorkerStatus{
		Camera:    w.cam.ID,
		State:     w.state,
		Restarts:  w.restarts,
		Forwarded: w.forwarded,
		Dropped:   w.dropped,
	}
	if w.lastErr != nil {
		st.LastError = w.lastErr.Error()
	}
	return st
}
