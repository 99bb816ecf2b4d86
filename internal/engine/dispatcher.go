package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/yardcam/internal/dispatch"
	"github.com/roach88/yardcam/internal/observability"
	"github.com/roach88/yardcam/internal/region"
	"github.com/roach88/yardcam/internal/registry"
	"github.com/roach88/yardcam/internal/store"
)

// Phase is the state of one End region's matching state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseMatching   Phase = "matching"
	PhaseConfirming Phase = "confirming"
	PhaseSending    Phase = "sending"
)

// Outcome is the terminal state of an intent.
type Outcome string

const (
	// OutcomeDispatched: the receiver accepted the work order.
	OutcomeDispatched Outcome = "dispatched"
	// OutcomeAborted: the intent was stale at confirmation, or the
	// dispatcher stopped. No call was made.
	OutcomeAborted Outcome = "aborted"
	// OutcomeFailed: the call was made and failed. The End is left
	// unnotified.
	OutcomeFailed Outcome = "failed"
)

// AbortReason says why an intent did not end in a dispatch.
type AbortReason string

const (
	ReasonEndRefilled   AbortReason = "end_refilled"
	ReasonStartDepleted AbortReason = "start_depleted"
	ReasonSendFailed    AbortReason = "send_failed"
	ReasonStopped       AbortReason = "stopped"
	ReasonPanic         AbortReason = "panic"
)

// EvalResult says what Evaluate did.
type EvalResult string

const (
	EvalScheduled    EvalResult = "scheduled"
	EvalNotified     EvalResult = "notified"
	EvalNotEmpty     EvalResult = "not_empty"
	EvalNoCandidates EvalResult = "no_candidates"
	EvalBusy         EvalResult = "busy"
	EvalUnknown      EvalResult = "unknown_end"
	EvalClosed       EvalResult = "closed"
)

// Intent is a pending pairing awaiting confirmation.
type Intent struct {
	Seq       int64     `json:"seq"`
	End       region.ID `json:"end"`
	Start     region.ID `json:"start"`
	Cycle     uint64    `json:"cycle"`
	CreatedAt time.Time `json:"created_at"`
}

// Attempt is the result of confirming one intent.
type Attempt struct {
	Intent  Intent
	Outcome Outcome
	Reason  AbortReason
	Result  dispatch.Result
	Err     error
}

// EndStatus is a point-in-time view of one End region.
type EndStatus struct {
	End      region.ID   `json:"end"`
	Phase    Phase       `json:"phase"`
	Intent   *Intent     `json:"intent,omitempty"`
	Notified bool        `json:"notified"`
	Cycle    uint64      `json:"cycle"`
	Queue    []region.ID `json:"queue,omitempty"`
}

// endSlot is the per-End state.
//
// mu serializes match and confirm for this End and is held across the
// outbound call. infoMu guards the fields Status reads, so status readers
// never wait on a call in flight.
type endSlot struct {
	end region.ID
	mu  sync.Mutex
	rr  *roundRobin // guarded by mu; nil until the first match attempt

	// served holds the empty cycle that was successfully dispatched, 0 if none.
	served atomic.Uint64

	// deferred is set when an evaluation arrived while an intent was in
	// flight; it is replayed once the intent resolves.
	deferred atomic.Bool

	infoMu sync.Mutex
	phase  Phase
	intent *Intent
	queue  []region.ID
}

func (s *endSlot) setPhase(p Phase) {
	s.infoMu.Lock()
	s.phase = p
	s.infoMu.Unlock()
}

func (s *endSlot) currentIntent() *Intent {
	s.infoMu.Lock()
	defer s.infoMu.Unlock()
	return s.intent
}

func (s *endSlot) clearIntent() {
	s.infoMu.Lock()
	s.phase = PhaseIdle
	s.intent = nil
	s.infoMu.Unlock()
}

type pendingTimer struct {
	stop   func() bool
	intent Intent
}

// Dispatcher is the matching dispatcher: one state machine per End region.
//
// Thread-safety: HandleTransition and Evaluate are called from the engine's
// Run goroutine; confirmations run on scheduler goroutines. Status, Notified
// and Close are safe from any goroutine.
type Dispatcher struct {
	reg    *registry.Registry
	topo   *region.Topology
	sender dispatch.Sender

	sched   Scheduler
	grace   time.Duration
	clock   *Clock
	now     func() time.Time
	logger  *slog.Logger
	journal Journal

	slots map[region.ID]*endSlot

	ctx    context.Context
	cancel context.CancelFunc

	timersMu sync.Mutex
	timers   map[int64]pendingTimer
	closed   atomic.Bool
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher with one slot per End in the registry's
// topology.
func NewDispatcher(reg *registry.Registry, sender dispatch.Sender, opts ...Option) *Dispatcher {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return newDispatcher(reg, sender, s)
}

func newDispatcher(reg *registry.Registry, sender dispatch.Sender, s settings) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		reg:     reg,
		topo:    reg.Topology(),
		sender:  sender,
		sched:   s.scheduler,
		grace:   s.grace,
		clock:   s.clock,
		now:     s.now,
		logger:  s.logger,
		journal: s.journal,
		slots:   make(map[region.ID]*endSlot),
		ctx:     ctx,
		cancel:  cancel,
		timers:  make(map[int64]pendingTimer),
	}
	for _, end := range d.topo.Ends() {
		d.slots[end] = &endSlot{end: end, phase: PhaseIdle}
	}
	return d
}

// GracePeriod returns the configured confirmation delay.
func (d *Dispatcher) GracePeriod() time.Duration { return d.grace }

// HandleTransition reacts to a registry transition.
func (d *Dispatcher) HandleTransition(tr registry.Transition) {
	switch tr.Kind {
	case registry.EndBecameEmpty:
		d.Evaluate(tr.Region)
	case registry.EndRegainedMaterial:
		if slot, ok := d.slots[tr.Region]; ok {
			slot.served.Store(0)
		}
	case registry.StartGainedMaterial:
		for _, end := range d.topo.EndsFor(tr.Region) {
			if d.reg.IsEmpty(end) {
				d.Evaluate(end)
			}
		}
	}
}

// Evaluate tries to start a match for an empty End region.
//
// It never blocks: if the End's mutex is held or an intent exists, the
// attempt is not started, since an intent for that End is already in
// flight. The request is remembered and evaluated again once that intent
// resolves, so an event that lands during a grace period or a call is not
// lost.
func (d *Dispatcher) Evaluate(end region.ID) (Intent, EvalResult) {
	slot, ok := d.slots[end]
	if !ok {
		return Intent{}, EvalUnknown
	}
	for {
		in, res, held := d.match(slot)
		// A request deferred while match held the lock has no intent to
		// replay it unless one was just scheduled.
		if !held || res == EvalScheduled || res == EvalBusy || !slot.deferred.Swap(false) {
			return in, res
		}
	}
}

// match runs one evaluation. held reports whether it got as far as holding
// the End's mutex.
func (d *Dispatcher) match(slot *endSlot) (_ Intent, _ EvalResult, held bool) {
	end := slot.end
	if d.closed.Load() {
		return Intent{}, EvalClosed, false
	}
	if !d.reg.IsEmpty(end) {
		return Intent{}, EvalNotEmpty, false
	}
	if d.notified(slot) {
		return Intent{}, EvalNotified, false
	}

	if !slot.mu.TryLock() {
		slot.deferred.Store(true)
		// Retry once: the holder may have released before seeing the flag.
		if !slot.mu.TryLock() {
			return Intent{}, EvalBusy, false
		}
	}
	defer slot.mu.Unlock()

	if slot.currentIntent() != nil {
		slot.deferred.Store(true)
		return Intent{}, EvalBusy, true
	}
	// Cleared before the registry is read, so a request deferred from here
	// on is either seen below or replayed by Evaluate.
	slot.deferred.Store(false)
	if !d.reg.IsEmpty(end) {
		return Intent{}, EvalNotEmpty, true
	}
	// A confirmation may have succeeded between the checks above and TryLock.
	if d.notified(slot) {
		return Intent{}, EvalNotified, true
	}

	candidates := d.reg.Candidates(end)
	if len(candidates) == 0 {
		d.logger.Debug("no candidates", "end", end)
		return Intent{}, EvalNoCandidates, true
	}

	slot.setPhase(PhaseMatching)

	if slot.rr == nil {
		slot.rr = newRoundRobin(d.topo.CompatibleStarts(end))
	}
	start, ok := slot.rr.next(candidates)
	if !ok {
		slot.setPhase(PhaseIdle)
		return Intent{}, EvalNoCandidates, true
	}

	in := Intent{
		Seq:       d.clock.Next(),
		End:       end,
		Start:     start,
		Cycle:     d.reg.Cycle(end),
		CreatedAt: d.now(),
	}

	slot.infoMu.Lock()
	slot.phase = PhaseConfirming
	slot.intent = &in
	slot.queue = slot.rr.snapshot()
	slot.infoMu.Unlock()

	d.timersMu.Lock()
	if d.closed.Load() {
		d.timersMu.Unlock()
		slot.clearIntent()
		return Intent{}, EvalClosed, true
	}
	d.wg.Add(1)
	stop := d.sched.AfterFunc(d.grace, func() { d.fire(in) })
	d.timers[in.Seq] = pendingTimer{stop: stop, intent: in}
	d.timersMu.Unlock()

	observability.IntentOpened()
	d.logger.Info("intent created",
		"seq", in.Seq,
		"end", in.End,
		"start", in.Start,
		"cycle", in.Cycle,
		"grace", d.grace,
	)

	return in, EvalScheduled, true
}

// fire runs on the scheduler goroutine when an intent's grace period ends.
func (d *Dispatcher) fire(in Intent) {
	defer d.wg.Done()

	d.timersMu.Lock()
	delete(d.timers, in.Seq)
	d.timersMu.Unlock()

	d.confirm(in)

	if d.slots[in.End].deferred.Swap(false) && !d.closed.Load() {
		d.Evaluate(in.End)
	}
}

// confirm re-verifies an intent against the registry at this instant and
// sends the work order if both conditions still hold. Every path clears the
// intent.
func (d *Dispatcher) confirm(in Intent) {
	slot := d.slots[in.End]
	slot.mu.Lock()
	defer slot.mu.Unlock()

	at := Attempt{Intent: in, Outcome: OutcomeAborted}
	defer func() {
		if r := recover(); r != nil {
			at.Outcome = OutcomeAborted
			at.Reason = ReasonPanic
			at.Err = fmt.Errorf("panic during confirmation: %v", r)
		}
		slot.clearIntent()
		observability.IntentClosed()
		d.finish(at)
	}()

	if d.closed.Load() {
		at.Reason = ReasonStopped
		return
	}
	if !d.reg.IsEmpty(in.End) {
		at.Reason = ReasonEndRefilled
		return
	}
	if !d.reg.HasMaterial(in.Start) {
		at.Reason = ReasonStartDepleted
		return
	}

	// The End may have refilled and emptied again during the grace period;
	// a dispatch now serves the cycle current at this instant.
	cycle := d.reg.Cycle(in.End)

	slot.setPhase(PhaseSending)
	res, err := d.sender.Send(d.ctx, in.Start, in.End)
	at.Result = res
	observability.RecordDispatchRequest(res.Duration, err == nil)

	if err != nil {
		at.Result = failureDetails(res, err)
		at.Outcome = OutcomeFailed
		at.Reason = ReasonSendFailed
		at.Err = err
		return
	}

	slot.served.Store(cycle)
	at.Intent.Cycle = cycle
	at.Outcome = OutcomeDispatched
}

// failureDetails fills what a sender left out of a failed Result from the
// *dispatch.Error it returned.
func failureDetails(res dispatch.Result, err error) dispatch.Result {
	var de *dispatch.Error
	if !errors.As(err, &de) {
		return res
	}
	if res.OrderID == "" {
		res.OrderID = de.OrderID
	}
	if res.StatusCode == 0 {
		res.StatusCode = de.StatusCode
	}
	if res.Code == "" {
		res.Code = de.Code
	}
	if res.Message == "" {
		res.Message = de.Message
	}
	return res
}

// finish logs, counts and journals a terminal attempt.
func (d *Dispatcher) finish(at Attempt) {
	in := at.Intent
	attrs := []any{
		"seq", in.Seq,
		"end", in.End,
		"start", in.Start,
		"cycle", in.Cycle,
	}

	switch at.Outcome {
	case OutcomeDispatched:
		d.logger.Info("dispatched", append(attrs,
			"order_id", at.Result.OrderID,
			"duration", at.Result.Duration,
		)...)
	case OutcomeFailed:
		d.logger.Warn("dispatch failed", append(attrs,
			"order_id", at.Result.OrderID,
			"kind", dispatch.KindOf(at.Err),
			"status", at.Result.StatusCode,
			"code", at.Result.Code,
			"error", at.Err,
		)...)
	default:
		if at.Reason == ReasonPanic {
			d.logger.Error("confirmation panicked", append(attrs, "error", at.Err)...)
		} else {
			d.logger.Info("intent aborted", append(attrs, "reason", at.Reason)...)
		}
	}

	observability.RecordDispatchAttempt(string(at.Outcome), string(at.Reason))

	if d.journal == nil {
		return
	}
	rec := store.AttemptRecord{
		Seq:        in.Seq,
		End:        string(in.End),
		Start:      string(in.Start),
		Cycle:      in.Cycle,
		Outcome:    string(at.Outcome),
		Reason:     string(at.Reason),
		OrderID:    at.Result.OrderID,
		StatusCode: at.Result.StatusCode,
		Code:       at.Result.Code,
		Message:    at.Result.Message,
		Duration:   at.Result.Duration,
		At:         d.now(),
	}
	if at.Err != nil {
		rec.Error = at.Err.Error()
	}
	if err := d.journal.WriteAttempt(context.WithoutCancel(d.ctx), rec); err != nil {
		d.logger.Warn("journal write failed", "seq", in.Seq, "error", err)
	}
}

// notified: the End is empty and its current cycle was dispatched.
func (d *Dispatcher) notified(slot *endSlot) bool {
	served := slot.served.Load()
	return served != 0 && served == d.reg.Cycle(slot.end) && d.reg.IsEmpty(slot.end)
}

// Notified reports whether the End's current empty cycle has been served.
func (d *Dispatcher) Notified(end region.ID) bool {
	slot, ok := d.slots[end]
	if !ok {
		return false
	}
	return d.notified(slot)
}

// Pending returns the number of intents waiting for their grace period.
func (d *Dispatcher) Pending() int {
	d.timersMu.Lock()
	defer d.timersMu.Unlock()
	return len(d.timers)
}

// Status returns a snapshot of every End, sorted by id.
func (d *Dispatcher) Status() []EndStatus {
	out := make([]EndStatus, 0, len(d.slots))
	for _, end := range d.topo.Ends() {
		slot := d.slots[end]
		st := EndStatus{
			End:      end,
			Notified: d.notified(slot),
			Cycle:    d.reg.Cycle(end),
		}
		slot.infoMu.Lock()
		st.Phase = slot.phase
		if slot.intent != nil {
			in := *slot.intent
			st.Intent = &in
		}
		if len(slot.queue) > 0 {
			st.Queue = append([]region.ID(nil), slot.queue...)
		}
		slot.infoMu.Unlock()
		out = append(out, st)
	}
	return out
}

// Close stops pending timers, cancels calls in flight and waits for running
// confirmations to finish. Matching state is discarded. Safe to call more
// than once.
func (d *Dispatcher) Close() {
	d.timersMu.Lock()
	if d.closed.Swap(true) {
		d.timersMu.Unlock()
		return
	}
	timers := d.timers
	d.timers = make(map[int64]pendingTimer)
	d.timersMu.Unlock()

	for _, pt := range timers {
		if !pt.stop() {
			// Already fired; fire() owns the WaitGroup slot.
			continue
		}
		d.slots[pt.intent.End].clearIntent()
		observability.IntentClosed()
		d.finish(Attempt{Intent: pt.intent, Outcome: OutcomeAborted, Reason: ReasonStopped})
		d.wg.Done()
	}

	d.cancel()
	d.wg.Wait()
}
