package engine

import "github.com/roach88/yardcam/internal/region"

// roundRobin is the per-End rotation of compatible Start ids.
//
// Selection takes the first queued id that is currently a candidate and
// moves it to the back, so the least recently chosen eligible Start wins.
// Ids that are not candidates keep their place.
//
// Not safe for concurrent use; guarded by the owning endSlot's mutex.
type roundRobin struct {
	order []region.ID
}

func newRoundRobin(starts []region.ID) *roundRobin {
	order := make([]region.ID, len(starts))
	copy(order, starts)
	return &roundRobin{order: order}
}

// next selects and rotates. Returns false if no queued id is a candidate.
func (q *roundRobin) next(candidates []region.ID) (region.ID, bool) {
	set := make(map[region.ID]struct{}, len(candidates))
	for _, c := range candidates {
		set[c] = struct{}{}
	}

	for i, id := range q.order {
		if _, ok := set[id]; !ok {
			continue
		}
		rotated := make([]region.ID, 0, len(q.order))
		rotated = append(rotated, q.order[:i]...)
		rotated = append(rotated, q.order[i+1:]...)
		rotated = append(rotated, id)
		q.order = rotated
		return id, true
	}
	return "", false
}

func (q *roundRobin) snapshot() []region.ID {
	out := make([]region.ID, len(q.order))
	copy(out, q.order)
	return out
}
