package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/yardcam/internal/observability"
	"github.com/roach88/yardcam/internal/region"
	"github.com/roach88/yardcam/internal/store"
	"github.com/roach88/yardcam/internal/testutil"
)

var epoch = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func regionID(s string) region.ID { return region.ID(s) }

// yardTopology: E1 accepts S1,S2; E2 accepts S2,S3.
func yardTopology(t *testing.T) *region.Topology {
	t.Helper()
	topo, err := region.NewTopology(
		[]region.Region{
			{ID: "S1", Role: region.RoleStart, Camera: "cam-a"},
			{ID: "S2", Role: region.RoleStart, Camera: "cam-a"},
			{ID: "S3", Role: region.RoleStart, Camera: "cam-a"},
			{ID: "E1", Role: region.RoleEnd, Camera: "cam-b"},
			{ID: "E2", Role: region.RoleEnd, Camera: "cam-b"},
		},
		map[region.ID][]region.ID{
			"E1": {"S1", "S2"},
			"E2": {"S2", "S3"},
		},
	)
	require.NoError(t, err)
	return topo
}

// memJournal records journal writes in call order.
type memJournal struct {
	mu          sync.Mutex
	transitions []store.TransitionRecord
	attempts    []store.AttemptRecord
}

func (j *memJournal) WriteTransition(_ context.Context, rec store.TransitionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.transitions = append(j.transitions, rec)
	return nil
}

func (j *memJournal) WriteAttempt(_ context.Context, rec store.AttemptRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts = append(j.attempts, rec)
	return nil
}

func (j *memJournal) Attempts() []store.AttemptRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]store.AttemptRecord(nil), j.attempts...)
}

// fixture drives an engine synchronously through Process with a manual
// scheduler, so every grace period is under test control.
type fixture struct {
	t       *testing.T
	eng     *Engine
	sched   *testutil.ManualScheduler
	sender  *testutil.RecordingSender
	journal *memJournal
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		sched:   testutil.NewManualScheduler(epoch),
		sender:  testutil.NewRecordingSender(),
		journal: &memJournal{},
	}
	base := []Option{
		WithLogger(observability.Discard()),
		WithScheduler(f.sched),
		WithNow(f.sched.Now),
		WithJournal(f.journal),
		WithThreshold(3),
	}
	f.eng = New(yardTopology(t), f.sender, append(base, opts...)...)
	t.Cleanup(f.eng.Close)
	return f
}

// settle feeds threshold identical observations so the region settles.
func (f *fixture) settle(id string, occupied bool) {
	f.t.Helper()
	for i := 0; i < f.eng.debouncer.Threshold(); i++ {
		_, _, err := f.eng.Process(Observation{Region: region.ID(id), Occupied: occupied})
		require.NoError(f.t, err)
	}
}

func (f *fixture) elapse(d time.Duration) {
	f.sched.Advance(d)
}

func (f *fixture) outcomes() []string {
	var out []string
	for _, a := range f.journal.Attempts() {
		s := a.Start + "," + a.End + ":" + a.Outcome
		if a.Reason != "" {
			s += "/" + a.Reason
		}
		out = append(out, s)
	}
	return out
}
