package frames

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// CalibrationPoint is a measured frame origin plus an optional reference point
// whose direction from the origin fixes the frame's planar orientation.
type CalibrationPoint struct {
	Frame     Frame
	Position  r3.Vec
	Reference *r3.Vec
}

// CalibratedTransform builds the transform of a calibration point relative to
// the frame its position was measured in.
//
// Frames whose policy depends on the angle need a reference point. A frame with
// no policy is accepted only without a reference point and gets the identity rotation.
func CalibratedTransform(p CalibrationPoint, policies PolicyTable) (Transform, error) {
	policy, ok := policies[p.Frame]
	if !ok {
		if p.Reference != nil {
			return Transform{}, fmt.Errorf("calibrating %s: reference point given but no orientation policy", p.Frame)
		}
		policy = PolicyIdentity
	}

	var rot [3][3]float64
	switch {
	case policy.UsesAngle() && p.Reference == nil:
		return Transform{}, fmt.Errorf("calibrating %s: %w: policy %s needs a reference point",
			p.Frame, ErrMalformedFrame, policy.Name)
	case policy.UsesAngle():
		var err error
		rot, err = DeriveOrientation(p.Position, *p.Reference, policy)
		if err != nil {
			return Transform{}, fmt.Errorf("calibrating %s: %w", p.Frame, err)
		}
	default:
		rot = policy.Rotation(0)
	}

	t, err := NewTransform(rot, p.Position)
	if err != nil {
		return Transform{}, fmt.Errorf("calibrating %s: %w", p.Frame, err)
	}
	return t, nil
}

// Calibrate registers parent→point.Frame for every calibration point.
// All points are computed before any is registered.
func (r *Registry) Calibrate(parent Frame, points []CalibrationPoint, policies PolicyTable) error {
	if r.frozen {
		return ErrFrozen
	}
	computed := make([]Transform, len(points))
	seen := make(map[Key]int, len(points))
	for i, p := range points {
		k := K(parent, p.Frame)
		if !k.Valid() {
			return fmt.Errorf("calibrating %s: %w: %s", p.Frame, ErrInvalidKey, k)
		}
		if r.contains(k) {
			return fmt.Errorf("calibrating %s: %w", k, ErrFrameExists)
		}
		if j, dup := seen[k]; dup {
			return fmt.Errorf("calibrating %s: %w (also calibration point %d)", k, ErrFrameExists, j)
		}
		seen[k] = i
		t, err := CalibratedTransform(p, policies)
		if err != nil {
			return err
		}
		if err := t.validate(r.tolerance); err != nil {
			return fmt.Errorf("calibrating %s: %w", k, err)
		}
		computed[i] = t
	}
	for i, p := range points {
		if err := r.Register(K(parent, p.Frame), computed[i]); err != nil {
			return err
		}
	}
	return nil
}

// WriteFrames writes every stored edge in the calibration record format,
// primitive and derived alike, so the output loads back with Registry.Load.
func WriteFrames(w io.Writer, r *Registry) error {
	bw := bufio.NewWriter(w)
	for _, k := range r.Keys() {
		t, err := r.Get(k)
		if err != nil {
			return err
		}
		values := t.RowMajor()
		fields := make([]string, 0, 17)
		fields = append(fields, k.String())
		for _, v := range values {
			fields = append(fields, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if _, err := fmt.Fprintln(bw, strings.Join(fields, ",")); err != nil {
			return fmt.Errorf("writing %s: %w", k, err)
		}
	}
	return bw.Flush()
}

// ExportFrames writes the registry to a calibration file.
func ExportFrames(path string, r *Registry) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating frames file: %w", err)
	}
	if err := WriteFrames(f, r); err != nil {
		f.Close()
		return fmt.Errorf("writing frames file: %w", err)
	}
	return f.Close()
}
