package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/yardcam/internal/dispatch"
	"github.com/roach88/yardcam/internal/region"
)

// SendCall records one call made to a RecordingSender.
type SendCall struct {
	Start   region.ID
	End     region.ID
	OrderID string
}

// Response scripts the outcome of one Send call.
// The zero value is a success.
type Response struct {
	// Err, if set, is returned as-is.
	Err error

	// Block, if set, makes Send wait until it is closed or ctx is done.
	Block <-chan struct{}

	// Duration is reported in the Result.
	Duration time.Duration
}

// Rejected returns a Response whose error is an application-level rejection
// with the given receiver code.
func Rejected(code string) Response {
	return Response{Err: &dispatch.Error{
		Kind:       dispatch.KindRejected,
		StatusCode: 200,
		Code:       code,
		Message:    "rejected",
	}}
}

// TransportFailure returns a Response whose error is a transport failure.
func TransportFailure() Response {
	return Response{Err: &dispatch.Error{
		Kind: dispatch.KindTransport,
		Err:  fmt.Errorf("connection refused"),
	}}
}

// StatusFailure returns a Response whose error is a non-200 reply.
func StatusFailure(status int) Response {
	return Response{Err: &dispatch.Error{
		Kind:       dispatch.KindStatus,
		StatusCode: status,
	}}
}

// RecordingSender is a dispatch.Sender that records every call and answers
// from a script. Once the script is exhausted every call succeeds.
//
// Order ids are deterministic: order_0001, order_0002, ...
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type RecordingSender struct {
	mu     sync.Mutex
	calls  []SendCall
	script []Response
	onSend func(start, end region.ID)
}

// NewRecordingSender creates a sender answering with responses in order.
func NewRecordingSender(responses ...Response) *RecordingSender {
	return &RecordingSender{script: responses}
}

// Script appends responses for future calls.
func (r *RecordingSender) Script(responses ...Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.script = append(r.script, responses...)
}

// OnSend installs a hook run inside Send before it answers.
// Tests use it to change region state while a call is in flight.
func (r *RecordingSender) OnSend(fn func(start, end region.ID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSend = fn
}

// Send implements dispatch.Sender.
func (r *RecordingSender) Send(ctx context.Context, start, end region.ID) (dispatch.Result, error) {
	r.mu.Lock()
	orderID := fmt.Sprintf("order_%04d", len(r.calls)+1)
	r.calls = append(r.calls, SendCall{Start: start, End: end, OrderID: orderID})
	var resp Response
	if len(r.script) > 0 {
		resp = r.script[0]
		r.script = r.script[1:]
	}
	hook := r.onSend
	r.mu.Unlock()

	if hook != nil {
		hook(start, end)
	}

	if resp.Block != nil {
		select {
		case <-resp.Block:
		case <-ctx.Done():
			return dispatch.Result{OrderID: orderID}, &dispatch.Error{
				Kind:    dispatch.KindTransport,
				OrderID: orderID,
				Err:     ctx.Err(),
			}
		}
	}

	if resp.Err != nil {
		var de *dispatch.Error
		if errors.As(resp.Err, &de) {
			cp := *de
			cp.OrderID = orderID
			return dispatch.Result{OrderID: orderID, StatusCode: cp.StatusCode, Code: cp.Code, Duration: resp.Duration}, &cp
		}
		return dispatch.Result{OrderID: orderID, Duration: resp.Duration}, resp.Err
	}

	return dispatch.Result{
		OrderID:    orderID,
		StatusCode: 200,
		Code:       dispatch.DefaultSuccessValue,
		Duration:   resp.Duration,
	}, nil
}

// Calls returns a copy of every call made so far.
func (r *RecordingSender) Calls() []SendCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SendCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns the number of calls made so far.
func (r *RecordingSender) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Pairs returns the calls as "start,end" task paths.
func (r *RecordingSender) Pairs() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = dispatch.TaskPath(c.Start, c.End)
	}
	return out
}
