package harness

// Trace event types.
const (
	EventTransition = "transition"
	EventAttempt    = "attempt"
	EventDropped    = "dropped"
)

// TraceEvent is one journaled engine event, in the order it happened.
type TraceEvent struct {
	Step    int    `json:"step"`
	At      string `json:"at"` // offset from scenario start
	Type    string `json:"type"`
	Seq     int64  `json:"seq,omitempty"`
	Region  string `json:"region,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Cycle   uint64 `json:"cycle,omitempty"`
	End     string `json:"end,omitempty"`
	Start   string `json:"start,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Reason  string `json:"reason,omitempty"`
	OrderID string `json:"order_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds transitions, attempts and dropped observations in order.
	Trace []TraceEvent `json:"trace"`

	// Sends lists every dispatch client call as "start,end".
	Sends []string `json:"sends"`

	// Errors holds assertion failure messages.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Sends:  []string{},
		Errors: []string{},
	}
}

// AddError records an assertion failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addEvent(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
