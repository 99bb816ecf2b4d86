package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/yardcam/internal/config"
	"github.com/roach88/yardcam/internal/engine"
	"github.com/roach88/yardcam/internal/region"
	"github.com/roach88/yardcam/internal/store"
	"github.com/roach88/yardcam/internal/testutil"
)

// Epoch is the manual clock's start time for every scenario.
var Epoch = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

// Harness runs one scenario. It is the engine's journal: every record is
// appended to the trace and then written to an in-memory store, which the
// assertions query.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	sched  *testutil.ManualScheduler
	sender *testutil.RecordingSender
	logger *slog.Logger

	mu     sync.Mutex
	step   int
	result *Result
}

// Option configures a run.
type Option func(*Harness)

// WithLogger sets the engine logger. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with a manual clock
// starting at Epoch, so runs are reproducible.
//
// Execution flow:
// 1. Apply config defaults and validate the topology
// 2. Build the engine around a scripted sender and the manual clock
// 3. Execute steps
// 4. Close the engine, journaling intents still in their grace period
// 5. Evaluate assertions
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := scenario.Config
	cfg.ApplyDefaults()
	if err := config.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	topo, err := cfg.Topology()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	sched := testutil.NewManualScheduler(Epoch)

	st, err := store.Open(":memory:", store.WithRunID(scenario.Name), store.WithNow(sched.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	responses := make([]testutil.Response, len(scenario.Responses))
	for i, r := range scenario.Responses {
		responses[i] = r.response()
	}

	h := &Harness{
		store:  st,
		sched:  sched,
		sender: testutil.NewRecordingSender(responses...),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		result: NewResult(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.engine = engine.New(topo, h.sender,
		engine.WithLogger(h.logger),
		engine.WithScheduler(sched),
		engine.WithGracePeriod(cfg.GracePeriod.Std()),
		engine.WithThreshold(cfg.DebounceThreshold),
		engine.WithJournal(h),
		engine.WithNow(sched.Now),
	)

	for i, step := range scenario.Steps {
		h.setStep(i + 1)
		switch {
		case step.Observe != nil:
			h.observe(topo, cfg.DebounceThreshold, step.Observe)
		case step.Elapse != nil:
			sched.Advance(step.Elapse.Std())
		}
	}

	h.setStep(len(scenario.Steps) + 1)
	h.engine.Close()

	result := h.result
	result.Sends = h.sender.Pairs()

	actx := &AssertionContext{
		Ctx:        context.Background(),
		Store:      st,
		Dispatcher: h.engine.Dispatcher(),
		Sends:      result.Sends,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) observe(topo *region.Topology, threshold int, o *ObserveStep) {
	id := region.Normalize(o.Region)
	cam := o.Camera
	if cam == "" {
		if r, ok := topo.Lookup(id); ok {
			cam = r.Camera
		}
	}
	frames := o.Frames
	if frames == 0 {
		frames = threshold
	}

	for f := 0; f < frames; f++ {
		_, _, err := h.engine.Process(engine.Observation{Camera: cam, Region: id, Occupied: o.Occupied})
		if err == nil {
			continue
		}
		ev := TraceEvent{Type: EventDropped, Region: string(id), Error: err.Error()}
		var re *engine.RuntimeError
		if errors.As(err, &re) {
			ev.Reason = string(re.Code)
		}
		h.record(ev)
	}
}

func (h *Harness) setStep(n int) {
	h.mu.Lock()
	h.step = n
	h.mu.Unlock()
}

func (h *Harness) record(ev TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev.Step = h.step
	ev.At = h.sched.Now().Sub(Epoch).String()
	h.result.addEvent(ev)
}

// WriteTransition implements engine.Journal.
func (h *Harness) WriteTransition(ctx context.Context, rec store.TransitionRecord) error {
	h.record(TraceEvent{
		Type:   EventTransition,
		Seq:    rec.Seq,
		Region: rec.Region,
		Kind:   rec.Kind,
		Cycle:  rec.Cycle,
	})
	return h.store.WriteTransition(ctx, rec)
}

// WriteAttempt implements engine.Journal.
func (h *Harness) WriteAttempt(ctx context.Context, rec store.AttemptRecord) error {
	h.record(TraceEvent{
		Type:    EventAttempt,
		Seq:     rec.Seq,
		End:     rec.End,
		Start:   rec.Start,
		Cycle:   rec.Cycle,
		Outcome: rec.Outcome,
		Reason:  rec.Reason,
		OrderID: rec.OrderID,
		Error:   rec.Error,
	})
	return h.store.WriteAttempt(ctx, rec)
}
