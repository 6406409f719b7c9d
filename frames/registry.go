package frames

import (
	"fmt"
	"io"
	"os"
	"sort"
)

type entry struct {
	transform Transform
	state     FrameState
}

// Registry owns named transforms keyed by frame pair.
//
// A Registry is built single-threaded (Load, Register, Derive, Calibrate) and
// then frozen; a frozen registry is read-only and safe to share across goroutines.
// Only one direction of each edge is ever stored; the other is computed by inversion.
type Registry struct {
	entries        map[Key]entry
	tolerance      float64
	orthonormalize bool
	frozen         bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithTolerance sets the orthonormality tolerance used when loading records.
func WithTolerance(tol float64) Option {
	return func(r *Registry) {
		if tol > 0 {
			r.tolerance = tol
		}
	}
}

// WithOrthonormalize projects loaded rotation blocks onto the nearest proper
// rotation, so rounded calibration values still satisfy the round-trip laws.
func WithOrthonormalize(enabled bool) Option {
	return func(r *Registry) {
		r.orthonormalize = enabled
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries:   make(map[Key]entry),
		tolerance: DefaultTolerance,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tolerance returns the orthonormality tolerance applied to loaded records.
func (r *Registry) Tolerance() float64 { return r.tolerance }

// LoadFile loads calibration records from a file.
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening frames file: %w", err)
	}
	defer f.Close()
	return r.load(f, path)
}

// Load reads "name,v0,...,v15" records and registers one primitive frame per record.
// Every malformed record is reported in the returned *LoadError; if any record
// is bad, nothing from the source is registered.
func (r *Registry) Load(src io.Reader) error {
	return r.load(src, "")
}

func (r *Registry) load(src io.Reader, name string) error {
	if r.frozen {
		return ErrFrozen
	}

	records, bad, err := readRecords(src, 16)
	if err != nil {
		return err
	}

	staged := make(map[Key]Transform, len(records))
	for _, rec := range records {
		t, key, perr := r.parseFrameRecord(rec)
		if perr == nil {
			switch {
			case hasKey(staged, key):
				perr = &ParseError{Line: rec.line, Name: rec.name, Reason: "duplicate frame", Err: ErrFrameExists}
			case hasKey(staged, key.Reverse()):
				perr = &ParseError{Line: rec.line, Name: rec.name,
					Reason: fmt.Sprintf("reverse edge %s is also listed", key.Reverse()), Err: ErrFrameExists}
			case r.contains(key):
				perr = &ParseError{Line: rec.line, Name: rec.name, Reason: "already registered", Err: ErrFrameExists}
			}
		}
		if perr != nil {
			bad = append(bad, perr)
			continue
		}
		staged[key] = t
	}
	if len(bad) > 0 {
		sort.SliceStable(bad, func(i, j int) bool { return bad[i].Line < bad[j].Line })
		return &LoadError{Source: name, Errs: bad}
	}

	for k, t := range staged {
		r.entries[k] = entry{transform: t, state: StatePrimitive}
	}
	return nil
}

func (r *Registry) parseFrameRecord(rec record) (Transform, Key, *ParseError) {
	key, err := ParseKey(rec.name)
	if err != nil {
		return Transform{}, Key{}, &ParseError{Line: rec.line, Name: rec.name, Reason: "unknown frame name", Err: err}
	}

	var v [16]float64
	copy(v[:], rec.values)
	if r.orthonormalize {
		v, err = r.cleanRotation(v)
		if err != nil {
			return Transform{}, Key{}, &ParseError{Line: rec.line, Name: rec.name, Reason: "invalid transform", Err: err}
		}
	}
	t, err := fromRowMajor(v, r.tolerance)
	if err != nil {
		return Transform{}, Key{}, &ParseError{Line: rec.line, Name: rec.name, Reason: "invalid transform", Err: err}
	}
	return t, key, nil
}

// cleanRotation validates the raw block first so degenerate input is still rejected,
// then replaces it with its nearest proper rotation.
func (r *Registry) cleanRotation(v [16]float64) ([16]float64, error) {
	raw := [3][3]float64{{v[0], v[1], v[2]}, {v[4], v[5], v[6]}, {v[8], v[9], v[10]}}
	if err := ValidateRotation(raw, r.tolerance); err != nil {
		return v, err
	}
	clean, err := Orthonormalize(raw)
	if err != nil {
		return v, err
	}
	for i := 0; i < 3; i++ {
		copy(v[i*4:i*4+3], clean[i][:])
	}
	return v, nil
}

func hasKey(m map[Key]Transform, k Key) bool {
	_, ok := m[k]
	return ok
}

func (r *Registry) contains(k Key) bool {
	if _, ok := r.entries[k]; ok {
		return true
	}
	_, ok := r.entries[k.Reverse()]
	return ok
}

// Get returns the transform for k. If only the reverse edge is stored, its
// inverse is returned. Unknown keys fail with ErrUnknownFrame.
func (r *Registry) Get(k Key) (Transform, error) {
	if e, ok := r.entries[k]; ok {
		return e.transform, nil
	}
	if e, ok := r.entries[k.Reverse()]; ok {
		return Invert(e.transform), nil
	}
	return Transform{}, unknownFrame(k)
}

// GetInverse returns Invert(Get(k)), computed on each call.
func (r *Registry) GetInverse(k Key) (Transform, error) {
	t, err := r.Get(k)
	if err != nil {
		return Transform{}, err
	}
	return Invert(t), nil
}

// GetByName parses a concatenated frame-pair name and looks it up.
func (r *Registry) GetByName(name string) (Transform, error) {
	k, err := ParseKey(name)
	if err != nil {
		return Transform{}, err
	}
	return r.Get(k)
}

// Register inserts a derived frame. A key is fixed once present: registering it,
// or its reverse, a second time fails with ErrFrameExists.
func (r *Registry) Register(k Key, t Transform) error {
	if r.frozen {
		return ErrFrozen
	}
	if !k.Valid() {
		return fmt.Errorf("%w: %+v", ErrInvalidKey, k)
	}
	if err := t.validate(r.tolerance); err != nil {
		return fmt.Errorf("registering %s: %w", k, err)
	}
	if r.contains(k) {
		return fmt.Errorf("registering %s: %w", k, ErrFrameExists)
	}
	r.entries[k] = entry{transform: t, state: StateDerived}
	return nil
}

// State reports whether k (in either direction) is unloaded, primitive or derived.
func (r *Registry) State(k Key) FrameState {
	if e, ok := r.entries[k]; ok {
		return e.state
	}
	if e, ok := r.entries[k.Reverse()]; ok {
		return e.state
	}
	return StateUnloaded
}

// Stored reports whether k itself (not its reverse) is the stored direction.
func (r *Registry) Stored(k Key) bool {
	_, ok := r.entries[k]
	return ok
}

// Keys returns the stored keys sorted by name.
func (r *Registry) Keys() []Key {
	keys := make([]Key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Len returns the number of stored edges.
func (r *Registry) Len() int { return len(r.entries) }

// Freeze ends the build phase.
func (r *Registry) Freeze() { r.frozen = true }

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool { return r.frozen }
