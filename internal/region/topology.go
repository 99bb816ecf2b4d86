package region

import (
	"sort"
)

// Topology is the closed registry of regions and their compatibility.
//
// Thread-safety: a Topology is immutable after NewTopology returns and is safe
// for concurrent reads.
type Topology struct {
	regions map[ID]Region
	starts  []ID
	ends    []ID
	compat  map[ID][]ID // end -> sorted compatible starts
	reverse map[ID][]ID // start -> sorted ends that accept it
}

// NewTopology validates the region list and compatibility map and builds the
// registry. It fails fast on:
//   - empty or duplicate ids
//   - invalid roles
//   - compatibility keys that are unknown or not End regions
//   - compatibility values that are unknown or not Start regions
//
// Ids in regions and compat are normalized with Normalize.
func NewTopology(regions []Region, compat map[ID][]ID) (*Topology, error) {
	t := &Topology{
		regions: make(map[ID]Region, len(regions)),
		compat:  make(map[ID][]ID),
		reverse: make(map[ID][]ID),
	}

	for _, r := range regions {
		r.ID = Normalize(string(r.ID))
		if r.ID == "" {
			return nil, &TopologyError{Message: "region id is required"}
		}
		if !ValidRoles[r.Role] {
			return nil, &TopologyError{Region: r.ID, Message: "invalid role " + string(r.Role)}
		}
		if _, dup := t.regions[r.ID]; dup {
			return nil, &TopologyError{Region: r.ID, Message: "duplicate region id"}
		}
		t.regions[r.ID] = r
		if r.Role == RoleStart {
			t.starts = append(t.starts, r.ID)
		} else {
			t.ends = append(t.ends, r.ID)
		}
	}
	sortIDs(t.starts)
	sortIDs(t.ends)

	for rawEnd, rawStarts := range compat {
		end := Normalize(string(rawEnd))
		er, ok := t.regions[end]
		if !ok {
			return nil, &TopologyError{Region: end, Message: "compatibility key is not a configured region"}
		}
		if er.Role != RoleEnd {
			return nil, &TopologyError{Region: end, Message: "compatibility key must be an end region"}
		}

		seen := make(map[ID]bool, len(rawStarts))
		for _, rawStart := range rawStarts {
			start := Normalize(string(rawStart))
			sr, ok := t.regions[start]
			if !ok {
				return nil, &TopologyError{Region: end, Message: "compatible start " + string(start) + " is not a configured region"}
			}
			if sr.Role != RoleStart {
				return nil, &TopologyError{Region: end, Message: "compatible region " + string(start) + " is not a start region"}
			}
			if seen[start] {
				continue
			}
			seen[start] = true
			t.compat[end] = append(t.compat[end], start)
			t.reverse[start] = append(t.reverse[start], end)
		}
	}

	for end := range t.compat {
		sortIDs(t.compat[end])
	}
	for start := range t.reverse {
		sortIDs(t.reverse[start])
	}

	return t, nil
}

// Lookup returns the region with the given id.
func (t *Topology) Lookup(id ID) (Region, bool) {
	r, ok := t.regions[id]
	return r, ok
}

// MustLookup returns the region or an ErrUnknownRegion error.
func (t *Topology) MustLookup(id ID) (Region, error) {
	r, ok := t.regions[id]
	if !ok {
		return Region{}, UnknownRegionError(id)
	}
	return r, nil
}

// CompatibleStarts returns the sorted Start ids an End region accepts.
// The returned slice is a copy.
func (t *Topology) CompatibleStarts(end ID) []ID {
	return cloneIDs(t.compat[end])
}

// EndsFor returns the sorted End ids that accept the given Start region.
// The returned slice is a copy.
func (t *Topology) EndsFor(start ID) []ID {
	return cloneIDs(t.reverse[start])
}

// Compatible reports whether start may supply end.
func (t *Topology) Compatible(end, start ID) bool {
	for _, s := range t.compat[end] {
		if s == start {
			return true
		}
	}
	return false
}

// Starts returns all Start ids, sorted.
func (t *Topology) Starts() []ID { return cloneIDs(t.starts) }

// Ends returns all End ids, sorted.
func (t *Topology) Ends() []ID { return cloneIDs(t.ends) }

// IDs returns every region id, sorted.
func (t *Topology) IDs() []ID {
	ids := make([]ID, 0, len(t.regions))
	for id := range t.regions {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Regions returns every region, sorted by id.
func (t *Topology) Regions() []Region {
	out := make([]Region, 0, len(t.regions))
	for _, id := range t.IDs() {
		out = append(out, t.regions[id])
	}
	return out
}

// Len returns the number of regions.
func (t *Topology) Len() int { return len(t.regions) }

func sortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func cloneIDs(ids []ID) []ID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]ID, len(ids))
	copy(out, ids)
	return out
}
