package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/yardcam/internal/dispatch"
	"github.com/roach88/yardcam/internal/observability"
	"github.com/roach88/yardcam/internal/region"
	"github.com/roach88/yardcam/internal/testutil"
)

// newHTTPEngine wires an engine to a real dispatch client posting to handler.
func newHTTPEngine(t *testing.T, handler http.HandlerFunc) (*Engine, *testutil.ManualScheduler, *memJournal) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := dispatch.NewHTTPClient(dispatch.Config{URL: srv.URL, Timeout: 2 * time.Second},
		dispatch.WithOrderIDs(dispatch.NewFixedGenerator("order-1", "order-2")))
	require.NoError(t, err)

	sched := testutil.NewManualScheduler(epoch)
	journal := &memJournal{}
	eng := New(yardTopology(t), client,
		WithLogger(observability.Discard()),
		WithScheduler(sched),
		WithNow(sched.Now),
		WithJournal(journal),
		WithThreshold(1),
	)
	t.Cleanup(eng.Close)
	return eng, sched, journal
}

func processAll(t *testing.T, eng *Engine, obs ...Observation) {
	t.Helper()
	for _, o := range obs {
		_, _, err := eng.Process(o)
		require.NoError(t, err)
	}
}

func TestDispatcher_HTTPFailureJournalsReplyDetails(t *testing.T) {
	eng, sched, journal := newHTTPEngine(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "receiver down", http.StatusInternalServerError)
	})

	processAll(t, eng,
		Observation{Region: "S1", Occupied: true},
		Observation{Region: "E1", Occupied: false},
	)
	sched.Advance(DefaultGracePeriod)

	attempts := journal.Attempts()
	require.Len(t, attempts, 1)
	got := attempts[0]
	assert.Equal(t, string(OutcomeFailed), got.Outcome)
	assert.Equal(t, "order-1", got.OrderID)
	assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
	assert.Equal(t, "receiver down", got.Message)
	assert.Contains(t, got.Error, "status 500")
	assert.False(t, eng.Dispatcher().Notified("E1"))
}

func TestDispatcher_ReceiverSuccessReplyServesCycle(t *testing.T) {
	var calls atomic.Int32
	eng, sched, journal := newHTTPEngine(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "success", "received_data": {}}`))
	})

	processAll(t, eng,
		Observation{Region: "S1", Occupied: true},
		Observation{Region: "E1", Occupied: false},
	)
	sched.Advance(DefaultGracePeriod)
	require.True(t, eng.Dispatcher().Notified("E1"))

	// A second Start gaining material in the same empty cycle sends nothing.
	processAll(t, eng, Observation{Region: "S2", Occupied: true})
	sched.Advance(DefaultGracePeriod)

	assert.EqualValues(t, 1, calls.Load())
	attempts := journal.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, string(OutcomeDispatched), attempts[0].Outcome)
	assert.Equal(t, "success", attempts[0].Code)
}

type bareErrorSender struct{}

func (bareErrorSender) Send(context.Context, region.ID, region.ID) (dispatch.Result, error) {
	return dispatch.Result{}, &dispatch.Error{Kind: dispatch.KindRejected, OrderID: "o-9", StatusCode: 200, Code: "busy", Message: "try later"}
}

func TestFailureDetails_FromDispatchError(t *testing.T) {
	_, err := bareErrorSender{}.Send(context.Background(), "S1", "E1")

	res := failureDetails(dispatch.Result{}, err)
	assert.Equal(t, dispatch.Result{OrderID: "o-9", StatusCode: 200, Code: "busy", Message: "try later"}, res)

	kept := failureDetails(dispatch.Result{OrderID: "mine", StatusCode: 502}, err)
	assert.Equal(t, "mine", kept.OrderID)
	assert.Equal(t, 502, kept.StatusCode)

	assert.Equal(t, dispatch.Result{}, failureDetails(dispatch.Result{}, context.Canceled))
}
