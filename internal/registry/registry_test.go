package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/yardcam/internal/occupancy"
	"github.com/roach88/yardcam/internal/region"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	topo, err := region.NewTopology([]region.Region{
		{ID: "S1", Role: region.RoleStart},
		{ID: "S2", Role: region.RoleStart},
		{ID: "S3", Role: region.RoleStart},
		{ID: "E1", Role: region.RoleEnd},
		{ID: "E2", Role: region.RoleEnd},
	}, map[region.ID][]region.ID{
		"E1": {"S1", "S2"},
		"E2": {"S3"},
	})
	require.NoError(t, err)
	return New(topo)
}

func apply(t *testing.T, r *Registry, id region.ID, occupied bool) Transition {
	t.Helper()
	tr, err := r.Apply(occupancy.Change{Region: id, Occupied: occupied})
	require.NoError(t, err)
	require.NoError(t, r.checkInvariants())
	return tr
}

func TestRegistry_InitialStateUnknown(t *testing.T) {
	r := newTestRegistry(t)

	assert.Empty(t, r.StartsWithMaterial())
	assert.Empty(t, r.EndsEmpty())
	st, ok := r.State("E1")
	require.True(t, ok)
	assert.False(t, st.Known)
	require.NoError(t, r.checkInvariants())
}

func TestRegistry_StartTransitions(t *testing.T) {
	r := newTestRegistry(t)

	tr := apply(t, r, "S1", true)
	assert.Equal(t, StartGainedMaterial, tr.Kind)
	assert.True(t, r.HasMaterial("S1"))
	assert.Equal(t, []region.ID{"S1"}, r.StartsWithMaterial())

	tr = apply(t, r, "S1", true)
	assert.Equal(t, NoChange, tr.Kind)

	tr = apply(t, r, "S1", false)
	assert.Equal(t, StartLostMaterial, tr.Kind)
	assert.False(t, r.HasMaterial("S1"))
	assert.True(t, tr.PreviousKnown)
	assert.True(t, tr.Previous)
}

func TestRegistry_StartFirstSettleEmptyIsNoChange(t *testing.T) {
	r := newTestRegistry(t)
	tr := apply(t, r, "S2", false)
	assert.Equal(t, NoChange, tr.Kind)
	st, _ := r.State("S2")
	assert.True(t, st.Known)
}

func TestRegistry_EndTransitionsAndCycles(t *testing.T) {
	r := newTestRegistry(t)

	tr := apply(t, r, "E1", true)
	assert.Equal(t, NoChange, tr.Kind, "first settle as occupied joins no set")
	assert.Equal(t, uint64(0), r.Cycle("E1"))

	tr = apply(t, r, "E1", false)
	assert.Equal(t, EndBecameEmpty, tr.Kind)
	assert.Equal(t, uint64(1), tr.Cycle)
	assert.True(t, r.IsEmpty("E1"))

	tr = apply(t, r, "E1", true)
	assert.Equal(t, EndRegainedMaterial, tr.Kind)
	assert.False(t, r.IsEmpty("E1"))
	assert.Equal(t, uint64(1), tr.Cycle)

	tr = apply(t, r, "E1", false)
	assert.Equal(t, EndBecameEmpty, tr.Kind)
	assert.Equal(t, uint64(2), r.Cycle("E1"))
}

func TestRegistry_EndFirstSettleEmptyStartsCycle(t *testing.T) {
	r := newTestRegistry(t)
	tr := apply(t, r, "E2", false)
	assert.Equal(t, EndBecameEmpty, tr.Kind)
	assert.Equal(t, uint64(1), tr.Cycle)
}

func TestRegistry_Candidates(t *testing.T) {
	r := newTestRegistry(t)

	assert.Empty(t, r.Candidates("E1"))

	apply(t, r, "S2", true)
	apply(t, r, "S3", true)
	assert.Equal(t, []region.ID{"S2"}, r.Candidates("E1"), "S3 is not compatible with E1")

	apply(t, r, "S1", true)
	assert.Equal(t, []region.ID{"S1", "S2"}, r.Candidates("E1"))
	assert.Equal(t, []region.ID{"S3"}, r.Candidates("E2"))
}

func TestRegistry_UnknownRegion(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Apply(occupancy.Change{Region: "X", Occupied: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, region.ErrUnknownRegion))

	_, ok := r.State("X")
	assert.False(t, ok, "unknown ids must not create state")
}

func TestRegistry_Snapshot(t *testing.T) {
	r := newTestRegistry(t)
	apply(t, r, "S1", true)

	snap := r.Snapshot()
	require.Len(t, snap, 5)
	assert.Equal(t, region.ID("E1"), snap[0].Region)
	for _, st := range snap {
		if st.Region == "S1" {
			assert.True(t, st.Occupied)
			assert.True(t, st.Known)
		}
	}
}

func TestRegistry_ConcurrentApply(t *testing.T) {
	r := newTestRegistry(t)
	ids := []region.ID{"S1", "S2", "S3", "E1", "E2"}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id region.ID) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				_, err := r.Apply(occupancy.Change{Region: id, Occupied: (i+j)%2 == 0})
				if err != nil {
					panic(fmt.Sprintf("apply %s: %v", id, err))
				}
				_ = r.Candidates("E1")
			}
		}(i, id)
	}
	wg.Wait()

	require.NoError(t, r.checkInvariants())
}
