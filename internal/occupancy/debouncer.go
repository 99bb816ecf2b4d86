// Package occupancy turns noisy per-frame occupancy readings into stable
// per-region states.
package occupancy

import (
	"sync"

	"github.com/roach88/yardcam/internal/region"
)

// DefaultThreshold is the number of consecutive disagreeing observations
// required before a stable state flips.
const DefaultThreshold = 3

// Change reports a settled occupancy transition for one region.
type Change struct {
	Region   region.ID
	Occupied bool
}

// runState tracks one region's stable state and the current disagreeing run.
type runState struct {
	known    bool // false until the first run settles
	stable   bool
	pending  bool // value of the current run while !known
	disagree int  // consecutive observations that disagree with stable (or match pending)
}

// Debouncer requires a run of threshold consecutive agreeing observations
// before accepting a state transition. A single noisy frame never flips a
// region: any observation that agrees with the stable state resets the run.
//
// A region starts in an unknown state. The first run of threshold identical
// observations settles it and is reported as a Change.
//
// Thread-safety: Debouncer is safe for concurrent use. The region set is fixed
// at construction; observations for other ids fail with region.ErrUnknownRegion.
type Debouncer struct {
	mu        sync.Mutex
	threshold int
	states    map[region.ID]*runState
}

// NewDebouncer creates a debouncer for the given regions.
// A threshold below 1 is treated as 1.
func NewDebouncer(threshold int, ids []region.ID) *Debouncer {
	if threshold < 1 {
		threshold = 1
	}
	states := make(map[region.ID]*runState, len(ids))
	for _, id := range ids {
		states[id] = &runState{}
	}
	return &Debouncer{threshold: threshold, states: states}
}

// Threshold returns the configured run length.
func (d *Debouncer) Threshold() int { return d.threshold }

// Observe feeds one raw observation. It returns the resulting Change and true
// when the stable state flipped (or settled for the first time).
func (d *Debouncer) Observe(id region.ID, occupied bool) (Change, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.states[id]
	if !ok {
		return Change{}, false, region.UnknownRegionError(id)
	}

	if !st.known {
		if st.disagree > 0 && st.pending == occupied {
			st.disagree++
		} else {
			st.pending = occupied
			st.disagree = 1
		}
		if st.disagree >= d.threshold {
			st.known = true
			st.stable = occupied
			st.disagree = 0
			return Change{Region: id, Occupied: occupied}, true, nil
		}
		return Change{}, false, nil
	}

	if occupied == st.stable {
		st.disagree = 0
		return Change{}, false, nil
	}

	st.disagree++
	if st.disagree < d.threshold {
		return Change{}, false, nil
	}

	st.stable = occupied
	st.disagree = 0
	return Change{Region: id, Occupied: occupied}, true, nil
}

// Stable returns the settled state of a region. known is false until the
// first run has settled.
func (d *Debouncer) Stable(id region.ID) (occupied, known bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[id]
	if !ok {
		return false, false
	}
	return st.stable, st.known
}

// Reset discards the in-progress run for a region without touching its
// settled state. Used when the camera feeding the region restarts, so frames
// from before and after the gap are never counted as one run.
func (d *Debouncer) Reset(id region.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.states[id]; ok {
		st.disagree = 0
	}
}
