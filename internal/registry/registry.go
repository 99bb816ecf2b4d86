// Package registry holds the debounced state of every region and the two
// derived sets the dispatcher matches on: Start regions holding material and
// End regions that are empty.
//
// INVARIANTS (checked after every Apply):
//   - a Start id is in startsWithMaterial iff its state is known and occupied
//   - an End id is in endsEmpty iff its state is known and not occupied
//   - RegionState and both sets change together under one lock
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/yardcam/internal/occupancy"
	"github.com/roach88/yardcam/internal/region"
)

// TransitionKind classifies a settled state change by role.
type TransitionKind string

const (
	// StartGainedMaterial: a Start region entered startsWithMaterial.
	StartGainedMaterial TransitionKind = "start_gained_material"
	// StartLostMaterial: a Start region left startsWithMaterial.
	StartLostMaterial TransitionKind = "start_lost_material"
	// EndBecameEmpty: an End region entered endsEmpty (a new empty cycle).
	EndBecameEmpty TransitionKind = "end_became_empty"
	// EndRegainedMaterial: an End region left endsEmpty (its cycle is over).
	EndRegainedMaterial TransitionKind = "end_regained_material"
	// NoChange: neither derived set changed (repeat state, or a first settle
	// into a state that joins no set).
	NoChange TransitionKind = "no_change"
)

// State is the debounced state of one region.
type State struct {
	Region   region.ID   `json:"region"`
	Role     region.Role `json:"role"`
	Occupied bool        `json:"occupied"`
	Known    bool        `json:"known"`
	Cycle    uint64      `json:"cycle,omitempty"` // End only: empty cycles started so far
}

// Transition describes the effect of one Apply call.
type Transition struct {
	Region        region.ID
	Role          region.Role
	Kind          TransitionKind
	Occupied      bool
	Previous      bool // previous occupied value (meaningless when !PreviousKnown)
	PreviousKnown bool
	Cycle         uint64 // End only: the cycle that is current after the transition
}

// Registry maps region id to State plus the derived sets.
//
// Thread-safety: all methods are safe for concurrent use. Writers hold the
// lock for O(1) work; readers get copies.
type Registry struct {
	topo *region.Topology

	mu                 sync.RWMutex
	states             map[region.ID]*State
	startsWithMaterial map[region.ID]struct{}
	endsEmpty          map[region.ID]struct{}
}

// New creates a registry with one unknown State per topology region.
func New(topo *region.Topology) *Registry {
	r := &Registry{
		topo:               topo,
		states:             make(map[region.ID]*State, topo.Len()),
		startsWithMaterial: make(map[region.ID]struct{}),
		endsEmpty:          make(map[region.ID]struct{}),
	}
	for _, reg := range topo.Regions() {
		r.states[reg.ID] = &State{Region: reg.ID, Role: reg.Role}
	}
	return r
}

// Topology returns the static topology the registry was built from.
func (r *Registry) Topology() *region.Topology { return r.topo }

// Apply records a settled occupancy change and updates the derived sets.
func (r *Registry) Apply(c occupancy.Change) (Transition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[c.Region]
	if !ok {
		return Transition{}, region.UnknownRegionError(c.Region)
	}

	tr := Transition{
		Region:        st.Region,
		Role:          st.Role,
		Occupied:      c.Occupied,
		Previous:      st.Occupied,
		PreviousKnown: st.Known,
		Kind:          NoChange,
	}

	if st.Known && st.Occupied == c.Occupied {
		tr.Cycle = st.Cycle
		return tr, nil
	}

	st.Known = true
	st.Occupied = c.Occupied

	switch st.Role {
	case region.RoleStart:
		if c.Occupied {
			r.startsWithMaterial[st.Region] = struct{}{}
			tr.Kind = StartGainedMaterial
		} else {
			delete(r.startsWithMaterial, st.Region)
			if tr.PreviousKnown {
				tr.Kind = StartLostMaterial
			}
		}
	case region.RoleEnd:
		if c.Occupied {
			delete(r.endsEmpty, st.Region)
			if tr.PreviousKnown {
				tr.Kind = EndRegainedMaterial
			}
		} else {
			r.endsEmpty[st.Region] = struct{}{}
			st.Cycle++
			tr.Kind = EndBecameEmpty
		}
	}
	tr.Cycle = st.Cycle

	return tr, nil
}

// HasMaterial reports whether a Start region currently holds material.
func (r *Registry) HasMaterial(id region.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.startsWithMaterial[id]
	return ok
}

// IsEmpty reports whether an End region is currently empty.
func (r *Registry) IsEmpty(id region.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.endsEmpty[id]
	return ok
}

// Cycle returns the current empty-cycle number of an End region (0 if it has
// never been empty).
func (r *Registry) Cycle(id region.ID) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.states[id]; ok {
		return st.Cycle
	}
	return 0
}

// State returns a copy of one region's state.
func (r *Registry) State(id region.ID) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[id]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// StartsWithMaterial returns a sorted snapshot of Start regions with material.
func (r *Registry) StartsWithMaterial() []region.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.startsWithMaterial)
}

// EndsEmpty returns a sorted snapshot of empty End regions.
func (r *Registry) EndsEmpty() []region.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.endsEmpty)
}

// Candidates returns CompatibleStarts(end) ∩ startsWithMaterial as a sorted
// snapshot. The result may be stale by the time the caller uses it.
func (r *Registry) Candidates(end region.ID) []region.ID {
	compat := r.topo.CompatibleStarts(end)

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []region.ID
	for _, s := range compat {
		if _, ok := r.startsWithMaterial[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Snapshot returns every region state sorted by id.
func (r *Registry) Snapshot() []State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]State, 0, len(r.states))
	for _, st := range r.states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out
}

// checkInvariants verifies the derived sets against RegionState.
// Used by tests.
func (r *Registry) checkInvariants() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, st := range r.states {
		_, inStarts := r.startsWithMaterial[id]
		_, inEnds := r.endsEmpty[id]
		switch st.Role {
		case region.RoleStart:
			if inStarts != (st.Known && st.Occupied) {
				return fmt.Errorf("start %s: in set=%v, known=%v occupied=%v", id, inStarts, st.Known, st.Occupied)
			}
			if inEnds {
				return fmt.Errorf("start %s present in endsEmpty", id)
			}
		case region.RoleEnd:
			if inEnds != (st.Known && !st.Occupied) {
				return fmt.Errorf("end %s: in set=%v, known=%v occupied=%v", id, inEnds, st.Known, st.Occupied)
			}
			if inStarts {
				return fmt.Errorf("end %s present in startsWithMaterial", id)
			}
		}
	}
	return nil
}

func sortedKeys(m map[region.ID]struct{}) []region.ID {
	out := make([]region.ID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
