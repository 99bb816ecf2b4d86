package store

import "time"

// TransitionRecord is one settled region change.
type TransitionRecord struct {
	RunID    string    `json:"run_id,omitempty"`
	Seq      int64     `json:"seq"`
	Region   string    `json:"region"`
	Role     string    `json:"role"`
	Kind     string    `json:"kind"`
	Occupied bool      `json:"occupied"`
	Cycle    uint64    `json:"cycle,omitempty"`
	At       time.Time `json:"at"`
}

// AttemptRecord is the outcome of one dispatch intent.
//
// Outcome is one of "dispatched", "aborted", "failed". Reason is set for
// aborted and failed attempts. The receiver fields are only set when a call
// was made.
type AttemptRecord struct {
	RunID      string        `json:"run_id,omitempty"`
	Seq        int64         `json:"seq"`
	End        string        `json:"end"`
	Start      string        `json:"start"`
	Cycle      uint64        `json:"cycle"`
	Outcome    string        `json:"outcome"`
	Reason     string        `json:"reason,omitempty"`
	OrderID    string        `json:"order_id,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Code       string        `json:"code,omitempty"`
	Message    string        `json:"message,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	At         time.Time     `json:"at"`
}

// Run summarizes one process run in the journal.
type Run struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	Transitions int       `json:"transitions"`
	Attempts    int       `json:"attempts"`
	Dispatched  int       `json:"dispatched"`
}

// AttemptFilter narrows ReadAttempts.
// Zero values mean "no filter"; Limit 0 means unlimited.
type AttemptFilter struct {
	RunID   string
	End     string
	Outcome string
	Limit   int
}
