package frames

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

// The filter-handling chain from the station: robot→filtermount→filter, with
// an approach offset applied in the filter frame.
func filterDerivations() []Derivation {
	return []Derivation{
		{Key: K(Global, Filter), Steps: []Step{Ref(K(Global, Robot)), Ref(K(Robot, FilterMount)), Ref(K(FilterMount, Filter))}},
		{Key: K(Global, FilterEntry), Steps: []Step{
			Ref(K(Global, Filter)),
			FixedLabeled("roty(-0.04)", RotationAbout(AxisY, -0.04)),
			FixedLabeled("transl(-2,0,0)", Translation(-2, 0, 0)),
			Ref(K(Filter, FilterEntry)),
		}},
		{Key: K(Global, TCP), Steps: []Step{Ref(K(Global, FilterEntry)), Ref(K(Tool, TCP))}},
	}
}

func filterRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(K(Global, Robot), Translation(0, 0, 500)))
	require.NoError(t, reg.Register(K(Robot, FilterMount), Compose(Translation(300, 0, 0), RotationAbout(AxisZ, math.Pi/2))))
	require.NoError(t, reg.Register(K(FilterMount, Filter), Translation(0, 0, 40)))
	require.NoError(t, reg.Register(K(Filter, FilterEntry), Translation(0, 0, 4)))
	require.NoError(t, reg.Register(K(TCP, Tool), Translation(0, 0, 150)))
	return reg
}

func TestResolveSteps(t *testing.T) {
	reg := filterRegistry(t)

	got, err := reg.Resolve(Ref(K(Global, Robot)), Ref(K(Robot, FilterMount)), Fixed(Translation(1, 0, 0)))
	require.NoError(t, err)

	// (1,0,0) in the mount's x is the robot's y after the quarter turn
	p := Apply(got, r3.Vec{})
	if diff := cmp.Diff(r3.Vec{X: 300, Y: 1, Z: 500}, p, approx); diff != "" {
		t.Errorf("resolved origin mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveStepsUsesReverseEdges(t *testing.T) {
	reg := filterRegistry(t)
	got, err := reg.Resolve(Ref(K(Tool, TCP)))
	require.NoError(t, err)
	assert.Equal(t, -150.0, got.Translation().Z)
}

func TestResolveStepsUnknown(t *testing.T) {
	reg := filterRegistry(t)
	_, err := reg.Resolve(Ref(K(Global, Robot)), Ref(K(Robot, Grinder)))
	assert.ErrorIs(t, err, ErrUnknownFrame)
	assert.Contains(t, err.Error(), "step 1 (robotgrinder)")
}

func TestDeriveMatchesManualChain(t *testing.T) {
	reg := filterRegistry(t)
	require.NoError(t, reg.Derive(filterDerivations()))

	gr, _ := reg.Get(K(Global, Robot))
	rm, _ := reg.Get(K(Robot, FilterMount))
	mf, _ := reg.Get(K(FilterMount, Filter))
	fe, _ := reg.Get(K(Filter, FilterEntry))
	tt, _ := reg.Get(K(TCP, Tool))
	want := Chain(gr, rm, mf, RotationAbout(AxisY, -0.04), Translation(-2, 0, 0), fe, Invert(tt))

	got, err := reg.Get(K(Global, TCP))
	require.NoError(t, err)
	assert.LessOrEqual(t, MaxDeviation(want, got), 1e-9)
	assert.Equal(t, StateDerived, reg.State(K(Global, TCP)))
}

func TestDeriveOrderIndependent(t *testing.T) {
	base := filterDerivations()
	want := filterRegistry(t)
	require.NoError(t, want.Derive(base))
	expected, _ := want.Get(K(Global, TCP))

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 10; i++ {
		ds := make([]Derivation, len(base))
		copy(ds, base)
		rng.Shuffle(len(ds), func(a, b int) { ds[a], ds[b] = ds[b], ds[a] })

		reg := filterRegistry(t)
		require.NoError(t, reg.Derive(ds))
		got, err := reg.Get(K(Global, TCP))
		require.NoError(t, err)
		assert.True(t, ApproxEqual(expected, got, 0), "order %v", ds)
	}
}

func TestDeriveDependencyOnReverseOfBatchEntry(t *testing.T) {
	reg := filterRegistry(t)
	ds := []Derivation{
		{Key: K(Robot, Cup), Steps: []Step{Ref(K(Filter, Global)), Ref(K(Global, Robot))}},
		{Key: K(Global, Filter), Steps: []Step{Ref(K(Global, Robot)), Ref(K(Robot, FilterMount)), Ref(K(FilterMount, Filter))}},
	}
	require.NoError(t, reg.Derive(ds))
	assert.Equal(t, StateDerived, reg.State(K(Robot, Cup)))
}

func TestDeriveMissingDependency(t *testing.T) {
	reg := filterRegistry(t)
	ds := []Derivation{
		{Key: K(Global, Grinder), Steps: []Step{Ref(K(Global, Robot)), Ref(K(Robot, GrinderMount))}},
		{Key: K(Global, Silvia), Steps: []Step{Ref(K(Global, Robot))}},
	}
	err := reg.Derive(ds)
	assert.ErrorIs(t, err, ErrUnknownFrame)
	assert.Equal(t, StateUnloaded, reg.State(K(Global, Silvia)), "nothing registers when validation fails")
}

func TestDeriveLeavesRegistryUnchangedOnBadResult(t *testing.T) {
	// Scaled rotation that only validation can catch
	skewed := Transform{r: [3][3]float64{{1.001, 0, 0}, {0, 1, 0}, {0, 0, 1}}}

	tests := []struct {
		name string
		step Step
	}{
		{"nan translation", Fixed(Translation(math.NaN(), 0, 0))},
		{"infinite translation", Fixed(Translation(0, 0, math.Inf(-1)))},
		{"non-orthonormal rotation", Fixed(skewed)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := filterRegistry(t)
			before := reg.Len()
			ds := filterDerivations()
			// globaltcp depends on globalfilterentry, which gets the bad step
			ds[1].Steps = append(ds[1].Steps, tt.step)

			err := reg.Derive(ds)
			assert.ErrorIs(t, err, ErrMalformedFrame)
			assert.Contains(t, err.Error(), "globalfilterentry")
			assert.Equal(t, before, reg.Len())
			assert.Equal(t, StateUnloaded, reg.State(K(Global, Filter)), "earlier batch entries are not committed")
		})
	}
}

func TestDeriveTightToleranceIsAtomic(t *testing.T) {
	reg := NewRegistry(WithTolerance(1e-12))
	require.NoError(t, reg.Register(K(Global, Robot), Identity()))
	nearly := Transform{r: [3][3]float64{{1 + 1e-9, 0, 0}, {0, 1, 0}, {0, 0, 1}}}

	err := reg.Derive([]Derivation{
		{Key: K(Global, Silvia), Steps: []Step{Ref(K(Global, Robot))}},
		{Key: K(Global, Grinder), Steps: []Step{Ref(K(Global, Silvia)), Fixed(nearly)}},
	})
	assert.ErrorIs(t, err, ErrMalformedFrame)
	assert.Equal(t, 1, reg.Len())
}

func TestDeriveCycle(t *testing.T) {
	reg := filterRegistry(t)
	ds := []Derivation{
		{Key: K(Global, Cup), Steps: []Step{Ref(K(Global, Silvia))}},
		{Key: K(Global, Silvia), Steps: []Step{Ref(K(Global, Grinder))}},
		{Key: K(Global, Grinder), Steps: []Step{Ref(K(Global, Cup))}},
	}
	err := reg.Derive(ds)
	assert.ErrorIs(t, err, ErrDerivationCycle)
	assert.Contains(t, err.Error(), "globalcup")

	self := []Derivation{{Key: K(Global, Cup), Steps: []Step{Ref(K(Cup, Global))}}}
	assert.ErrorIs(t, reg.Derive(self), ErrDerivationCycle)
}

func TestDeriveDuplicateProducers(t *testing.T) {
	reg := filterRegistry(t)
	ds := []Derivation{
		{Key: K(Global, Cup), Steps: []Step{Ref(K(Global, Robot))}},
		{Key: K(Cup, Global), Steps: []Step{Ref(K(Robot, Global))}},
	}
	assert.ErrorIs(t, reg.Derive(ds), ErrFrameExists)

	existing := []Derivation{{Key: K(Robot, Global), Steps: []Step{Fixed(Identity())}}}
	assert.ErrorIs(t, reg.Derive(existing), ErrFrameExists)
}

func TestDerivationDependencies(t *testing.T) {
	d := filterDerivations()[1]
	assert.Equal(t, []Key{K(Global, Filter), K(Filter, FilterEntry)}, d.Dependencies())
	assert.Equal(t, "roty(-0.04)", d.Steps[1].String())
}
