package frames

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Lookup resolves a key to a transform. *Registry satisfies it.
type Lookup interface {
	Get(k Key) (Transform, error)
}

// Step is one factor of a pose chain: either a registry reference or a fixed transform.
type Step interface {
	resolve(l Lookup) (Transform, error)
	dependency() (Key, bool)
	String() string
}

type refStep struct{ key Key }

func (s refStep) resolve(l Lookup) (Transform, error) { return l.Get(s.key) }
func (s refStep) dependency() (Key, bool)             { return s.key, true }
func (s refStep) String() string                      { return s.key.String() }

type fixedStep struct {
	t     Transform
	label string
}

func (s fixedStep) resolve(Lookup) (Transform, error) { return s.t, nil }
func (s fixedStep) dependency() (Key, bool)           { return Key{}, false }
func (s fixedStep) String() string {
	if s.label != "" {
		return s.label
	}
	return s.t.String()
}

// Ref is a chain step that looks k up in the registry at resolution time.
func Ref(k Key) Step { return refStep{key: k} }

// Fixed is a chain step holding a literal transform, such as an approach offset.
func Fixed(t Transform) Step { return fixedStep{t: t} }

// FixedLabeled is Fixed with a readable label for logs and listings.
func FixedLabeled(label string, t Transform) Step { return fixedStep{t: t, label: label} }

// ResolveSteps composes steps left to right against l.
func ResolveSteps(l Lookup, steps ...Step) (Transform, error) {
	out := Identity()
	for i, s := range steps {
		t, err := s.resolve(l)
		if err != nil {
			return Transform{}, fmt.Errorf("step %d (%s): %w", i, s, err)
		}
		out = Compose(out, t)
	}
	return out, nil
}

// Resolve composes steps left to right against the registry.
func (r *Registry) Resolve(steps ...Step) (Transform, error) {
	return ResolveSteps(r, steps...)
}

// Derivation defines a derived frame as a chain over other frames.
type Derivation struct {
	Key   Key
	Steps []Step
}

// Dependencies returns the keys referenced by the derivation's steps.
func (d Derivation) Dependencies() []Key {
	var deps []Key
	for _, s := range d.Steps {
		if k, ok := s.dependency(); ok {
			deps = append(deps, k)
		}
	}
	return deps
}

// Derive registers a batch of derived frames in dependency order.
//
// Each dependency must either already be in the registry (in either direction)
// or be produced by another derivation in the batch; otherwise Derive fails with
// ErrUnknownFrame. Cyclic batches fail with ErrDerivationCycle. The whole batch is
// resolved and validated before the first frame is registered, so any failure
// leaves the registry unchanged.
func (r *Registry) Derive(ds []Derivation) error {
	if r.frozen {
		return ErrFrozen
	}

	order, err := r.derivationOrder(ds)
	if err != nil {
		return err
	}

	staged := &overlay{base: r, staged: make(map[Key]Transform, len(ds))}
	for _, i := range order {
		d := ds[i]
		t, err := ResolveSteps(staged, d.Steps...)
		if err != nil {
			return fmt.Errorf("deriving %s: %w", d.Key, err)
		}
		if err := t.validate(r.tolerance); err != nil {
			return fmt.Errorf("deriving %s: %w", d.Key, err)
		}
		staged.staged[d.Key] = t
	}

	for _, i := range order {
		k := ds[i].Key
		r.entries[k] = entry{transform: staged.staged[k], state: StateDerived}
	}
	return nil
}

// overlay serves batch results ahead of the registry they will be committed to.
type overlay struct {
	base   Lookup
	staged map[Key]Transform
}

func (o *overlay) Get(k Key) (Transform, error) {
	if t, ok := o.staged[k]; ok {
		return t, nil
	}
	if t, ok := o.staged[k.Reverse()]; ok {
		return Invert(t), nil
	}
	return o.base.Get(k)
}

// derivationOrder validates the batch and returns derivation indices in dependency order.
func (r *Registry) derivationOrder(ds []Derivation) ([]int, error) {
	producer := make(map[Key]int, len(ds))
	for i, d := range ds {
		if !d.Key.Valid() {
			return nil, fmt.Errorf("derivation %d: %w: %+v", i, ErrInvalidKey, d.Key)
		}
		if r.contains(d.Key) {
			return nil, fmt.Errorf("deriving %s: %w", d.Key, ErrFrameExists)
		}
		for _, k := range []Key{d.Key, d.Key.Reverse()} {
			if j, dup := producer[k]; dup {
				return nil, fmt.Errorf("deriving %s: %w (also produced by derivation %d)", d.Key, ErrFrameExists, j)
			}
		}
		producer[d.Key] = i
	}

	g := simple.NewDirectedGraph()
	for i := range ds {
		g.AddNode(simple.Node(int64(i)))
	}
	for i, d := range ds {
		for _, dep := range d.Dependencies() {
			j, inBatch := producer[dep]
			if !inBatch {
				j, inBatch = producer[dep.Reverse()]
			}
			switch {
			case inBatch && j == i:
				return nil, fmt.Errorf("deriving %s: %w: depends on itself", d.Key, ErrDerivationCycle)
			case inBatch:
				g.SetEdge(g.NewEdge(simple.Node(int64(j)), simple.Node(int64(i))))
			case !r.contains(dep):
				return nil, fmt.Errorf("deriving %s: %w", d.Key, unknownFrame(dep))
			}
		}
	}

	sorted, err := topo.SortStabilized(g, byID)
	if err != nil {
		var cycles topo.Unorderable
		if errors.As(err, &cycles) {
			return nil, fmt.Errorf("%w: %s", ErrDerivationCycle, describeCycles(ds, cycles))
		}
		return nil, err
	}

	order := make([]int, len(sorted))
	for i, n := range sorted {
		order[i] = int(n.ID())
	}
	return order, nil
}

func byID(nodes []graph.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
}

func describeCycles(ds []Derivation, cycles topo.Unorderable) string {
	var names []string
	for _, component := range cycles {
		for _, n := range component {
			names = append(names, ds[n.ID()].Key.String())
		}
	}
	sort.Strings(names)
	return fmt.Sprintf("%v", names)
}
