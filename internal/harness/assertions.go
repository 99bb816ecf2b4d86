package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/yardcam/internal/engine"
	"github.com/roach88/yardcam/internal/region"
	"github.com/roach88/yardcam/internal/store"
)

// AssertionContext gives assertions access to the finished run.
type AssertionContext struct {
	Ctx        context.Context
	Store      *store.Store
	Dispatcher *engine.Dispatcher
	Sends      []string
}

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step=%d at=%s %s\n", i+1, ev.Step, ev.At, describeEvent(ev))
		}
	}
	return buf.String()
}

func describeEvent(ev TraceEvent) string {
	switch ev.Type {
	case EventTransition:
		return fmt.Sprintf("transition %s %s cycle=%d", ev.Region, ev.Kind, ev.Cycle)
	case EventAttempt:
		s := fmt.Sprintf("attempt %s,%s %s", ev.Start, ev.End, ev.Outcome)
		if ev.Reason != "" {
			s += " reason=" + ev.Reason
		}
		return s
	default:
		return fmt.Sprintf("%s %s %s", ev.Type, ev.Region, ev.Reason)
	}
}

// EvaluateAssertions checks every assertion and returns the failure
// messages, empty when all hold.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertDispatched:
		return assertDispatched(result, a, actx)
	case AssertDispatchCount:
		return assertDispatchCount(result, a, actx)
	case AssertDispatchOrder:
		return assertDispatchOrder(result, a, actx)
	case AssertNoDispatch:
		a.Count = 0
		return assertDispatchCount(result, a, actx)
	case AssertNotified:
		return assertNotified(result, a, actx)
	case AssertAttempts:
		return assertAttempts(result, a, actx)
	case AssertSends:
		return assertSends(result, a, actx)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// dispatched reads accepted attempts from the journal, optionally for one end.
func dispatched(actx *AssertionContext, end string) ([]store.AttemptRecord, error) {
	return actx.Store.ReadAttempts(actx.Ctx, store.AttemptFilter{
		RunID:   actx.Store.RunID(),
		End:     string(region.Normalize(end)),
		Outcome: string(engine.OutcomeDispatched),
	})
}

func assertDispatched(result *Result, a Assertion, actx *AssertionContext) error {
	recs, err := dispatched(actx, a.End)
	if err != nil {
		return err
	}
	want := string(region.Normalize(a.Start))
	for _, rec := range recs {
		if rec.Start == want {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertDispatched,
		Expected: fmt.Sprintf("dispatch %s,%s", a.Start, a.End),
		Actual:   fmt.Sprintf("dispatched pairs %v", pairs(recs)),
		Trace:    result.Trace,
	}
}

func assertDispatchCount(result *Result, a Assertion, actx *AssertionContext) error {
	recs, err := dispatched(actx, a.End)
	if err != nil {
		return err
	}
	if len(recs) != a.Count {
		scope := "in total"
		if a.End != "" {
			scope = "for " + a.End
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d dispatches %s", a.Count, scope),
			Actual:   fmt.Sprintf("%d dispatches %v", len(recs), pairs(recs)),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertDispatchOrder(result *Result, a Assertion, actx *AssertionContext) error {
	recs, err := dispatched(actx, a.End)
	if err != nil {
		return err
	}
	got := pairs(recs)
	if strings.Join(got, " ") != strings.Join(a.Pairs, " ") {
		return &AssertionError{
			Type:     AssertDispatchOrder,
			Expected: fmt.Sprintf("dispatches %v", a.Pairs),
			Actual:   fmt.Sprintf("dispatches %v", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertNotified(result *Result, a Assertion, actx *AssertionContext) error {
	got := actx.Dispatcher.Notified(region.Normalize(a.End))
	if got != *a.Value {
		return &AssertionError{
			Type:     AssertNotified,
			Expected: fmt.Sprintf("notified(%s) = %t", a.End, *a.Value),
			Actual:   fmt.Sprintf("notified(%s) = %t", a.End, got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertAttempts(result *Result, a Assertion, actx *AssertionContext) error {
	recs, err := actx.Store.ReadAttempts(actx.Ctx, store.AttemptFilter{
		RunID:   actx.Store.RunID(),
		End:     string(region.Normalize(a.End)),
		Outcome: a.Outcome,
	})
	if err != nil {
		return err
	}
	count := 0
	for _, rec := range recs {
		if a.Reason == "" || rec.Reason == a.Reason {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertAttempts,
			Expected: fmt.Sprintf("%d attempts (end=%q outcome=%q reason=%q)", a.Count, a.End, a.Outcome, a.Reason),
			Actual:   fmt.Sprintf("%d attempts", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertSends(result *Result, a Assertion, actx *AssertionContext) error {
	if len(actx.Sends) != a.Count {
		return &AssertionError{
			Type:     AssertSends,
			Expected: fmt.Sprintf("%d sends", a.Count),
			Actual:   fmt.Sprintf("%d sends %v", len(actx.Sends), actx.Sends),
			Trace:    result.Trace,
		}
	}
	return nil
}

func pairs(recs []store.AttemptRecord) []string {
	out := make([]string, len(recs))
	for i, rec := range recs {
		out[i] = rec.Start + "," + rec.End
	}
	return out
}
