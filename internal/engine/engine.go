package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/yardcam/internal/dispatch"
	"github.com/roach88/yardcam/internal/observability"
	"github.com/roach88/yardcam/internal/occupancy"
	"github.com/roach88/yardcam/internal/region"
	"github.com/roach88/yardcam/internal/registry"
	"github.com/roach88/yardcam/internal/store"
)

// Drop reasons reported in yardcam_dropped_observations_total.
const (
	DropUnknownRegion  = "unknown_region"
	DropCameraMismatch = "camera_mismatch"
	DropInvalid        = "invalid"
)

// Engine wires the debouncer, the registry and the dispatcher behind a
// single-writer event loop.
type Engine struct {
	topo       *region.Topology
	debouncer  *occupancy.Debouncer
	registry   *registry.Registry
	dispatcher *Dispatcher
	queue      *eventQueue
	clock      *Clock
	logger     *slog.Logger
	journal    Journal
	now        func() time.Time
}

// Status is a point-in-time view of the engine for the status API.
type Status struct {
	Regions   []registry.State `json:"regions"`
	Ends      []EndStatus      `json:"ends"`
	QueueLen  int              `json:"queue_len"`
	QueuePeak int              `json:"queue_peak"`
	Seq       int64            `json:"seq"`
}

// New creates an engine for a topology. Observations are matched against the
// topology and confirmed pairings are sent through sender.
func New(topo *region.Topology, sender dispatch.Sender, opts ...Option) *Engine {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}

	reg := registry.New(topo)
	return &Engine{
		topo:       topo,
		debouncer:  occupancy.NewDebouncer(s.threshold, topo.IDs()),
		registry:   reg,
		dispatcher: newDispatcher(reg, sender, s),
		queue:      newEventQueue(),
		clock:      s.clock,
		logger:     s.logger,
		journal:    s.journal,
		now:        s.now,
	}
}

// Observe enqueues an observation for the Run loop.
// Thread-safe: called by camera workers; never blocks on matching.
// Returns false if the engine has been stopped.
func (e *Engine) Observe(obs Observation) bool {
	return e.queue.Enqueue(obs)
}

// Run is the single-writer event loop. It processes observations in arrival
// order until ctx is cancelled or Stop is called and the queue drains.
//
// Processing errors are logged and the loop continues.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting",
		"regions", e.topo.Len(),
		"ends", len(e.topo.Ends()),
		"grace", e.dispatcher.GracePeriod(),
		"threshold", e.debouncer.Threshold(),
	)

	for {
		obs, ok := e.queue.TryDequeue()
		if ok {
			// Errors are already logged and counted by Process.
			_, _, _ = e.Process(obs)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes when the queue is closed,
			// which makes this case fire immediately.
			if e.queue.Len() == 0 && e.queue.isClosed() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Process handles one observation synchronously: validate, debounce, apply
// to the registry, journal, and hand the transition to the dispatcher.
//
// Returns the applied transition and true when the observation settled a
// region. Must only be called from one goroutine at a time (Run, or a test
// driving the engine directly).
func (e *Engine) Process(obs Observation) (registry.Transition, bool, error) {
	id := region.Normalize(string(obs.Region))
	if id == "" {
		observability.RecordDroppedObservation(DropInvalid)
		err := NewInvalidObservationError(obs.Camera, "observation has no region id")
		e.logger.Warn("observation dropped", "camera", obs.Camera, "error", err)
		return registry.Transition{}, false, err
	}

	reg, ok := e.topo.Lookup(id)
	if !ok {
		observability.RecordDroppedObservation(DropUnknownRegion)
		err := NewUnknownRegionError(id, obs.Camera)
		e.logger.Warn("observation dropped", "region", id, "camera", obs.Camera, "error", err)
		return registry.Transition{}, false, err
	}
	if obs.Camera != "" && reg.Camera != "" && obs.Camera != reg.Camera {
		observability.RecordDroppedObservation(DropCameraMismatch)
		err := NewCameraMismatchError(id, obs.Camera, reg.Camera)
		e.logger.Warn("observation dropped", "region", id, "camera", obs.Camera, "error", err)
		return registry.Transition{}, false, err
	}

	if obs.Reset {
		e.debouncer.Reset(id)
		return registry.Transition{}, false, nil
	}

	change, settled, err := e.debouncer.Observe(id, obs.Occupied)
	if err != nil {
		return registry.Transition{}, false, err
	}
	if !settled {
		return registry.Transition{}, false, nil
	}

	tr, err := e.registry.Apply(change)
	if err != nil {
		return registry.Transition{}, false, err
	}

	seq := e.clock.Next()
	observability.RecordTransition(string(tr.Kind))
	e.logger.Debug("region settled",
		"seq", seq,
		"region", tr.Region,
		"role", tr.Role,
		"occupied", tr.Occupied,
		"kind", tr.Kind,
		"cycle", tr.Cycle,
	)
	e.writeTransition(seq, tr)

	e.dispatcher.HandleTransition(tr)
	return tr, true, nil
}

func (e *Engine) writeTransition(seq int64, tr registry.Transition) {
	if e.journal == nil {
		return
	}
	rec := store.TransitionRecord{
		Seq:      seq,
		Region:   string(tr.Region),
		Role:     string(tr.Role),
		Kind:     string(tr.Kind),
		Occupied: tr.Occupied,
		Cycle:    tr.Cycle,
		At:       e.now(),
	}
	if err := e.journal.WriteTransition(context.Background(), rec); err != nil {
		e.logger.Warn("journal write failed", "seq", seq, "error", err)
	}
}

// ResetRegions queues a debounce reset for the given regions behind the
// observations already queued, so readings from before a camera gap never
// share a run with readings after it. Called by the supervisor when a
// camera worker fails. Returns ErrStopped once the queue is closed.
func (e *Engine) ResetRegions(ids []region.ID) error {
	for _, id := range ids {
		if !e.queue.Enqueue(Observation{Region: id, Reset: true}) {
			return ErrStopped
		}
	}
	return nil
}

// Stop closes the event queue. Run returns once the queue drains.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Close stops the queue and the dispatcher. Pending intents are dropped and
// calls in flight are cancelled.
func (e *Engine) Close() {
	e.queue.Close()
	e.dispatcher.Close()
}

// Status returns a snapshot for the status API.
func (e *Engine) Status() Status {
	return Status{
		Regions:   e.registry.Snapshot(),
		Ends:      e.dispatcher.Status(),
		QueueLen:  e.queue.Len(),
		QueuePeak: e.queue.Peak(),
		Seq:       e.clock.Current(),
	}
}

// Topology returns the static topology.
func (e *Engine) Topology() *region.Topology { return e.topo }

// Registry returns the region registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Dispatcher returns the matching dispatcher.
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock { return e.clock }

// QueueLen returns the number of observations waiting to be processed.
func (e *Engine) QueueLen() int { return e.queue.Len() }
