package frames

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultTolerance bounds the orthonormality error accepted for a rotation block.
const DefaultTolerance = 1e-6

// RoundTripTolerance is the drift allowed by compose/invert round trips.
const RoundTripTolerance = 1e-9

// Axis selects a principal rotation axis.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// Transform is a rigid homogeneous transform
//
//	[ R  t ]
//	[ 0  1 ]
//
// Values are immutable: every operation returns a new Transform.
type Transform struct {
	r [3][3]float64
	t r3.Vec
}

var identityRotation = [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

// Identity returns the transform that maps every point onto itself.
func Identity() Transform {
	return Transform{r: identityRotation}
}

// NewTransform builds a transform from a rotation block and a translation.
// The rotation must be orthonormal with determinant +1 within DefaultTolerance.
func NewTransform(r [3][3]float64, t r3.Vec) (Transform, error) {
	return NewTransformTol(r, t, DefaultTolerance)
}

// NewTransformTol is NewTransform with an explicit tolerance.
func NewTransformTol(r [3][3]float64, t r3.Vec, tol float64) (Transform, error) {
	if err := ValidateRotation(r, tol); err != nil {
		return Transform{}, err
	}
	if !finite(t.X) || !finite(t.Y) || !finite(t.Z) {
		return Transform{}, fmt.Errorf("%w: non-finite translation %v", ErrMalformedFrame, t)
	}
	return Transform{r: r, t: t}, nil
}

// validate applies the NewTransformTol checks to an already built transform.
func (a Transform) validate(tol float64) error {
	_, err := NewTransformTol(a.r, a.t, tol)
	return err
}

// FromRowMajor builds a transform from 16 row-major values of a 4x4 matrix.
func FromRowMajor(v [16]float64) (Transform, error) {
	return fromRowMajor(v, DefaultTolerance)
}

func fromRowMajor(v [16]float64, tol float64) (Transform, error) {
	if math.Abs(v[12]) > tol || math.Abs(v[13]) > tol || math.Abs(v[14]) > tol || math.Abs(v[15]-1) > tol {
		return Transform{}, fmt.Errorf("%w: last row is [%g %g %g %g], want [0 0 0 1]",
			ErrMalformedFrame, v[12], v[13], v[14], v[15])
	}
	r := [3][3]float64{
		{v[0], v[1], v[2]},
		{v[4], v[5], v[6]},
		{v[8], v[9], v[10]},
	}
	return NewTransformTol(r, r3.Vec{X: v[3], Y: v[7], Z: v[11]}, tol)
}

// FromSlice builds a transform from a flat row-major slice, which must hold 16 values.
func FromSlice(v []float64) (Transform, error) {
	if len(v) != 16 {
		return Transform{}, fmt.Errorf("%w: need 16 values, got %d", ErrMalformedFrame, len(v))
	}
	var a [16]float64
	copy(a[:], v)
	return FromRowMajor(a)
}

// FromMatrix builds a transform from a nested 4x4 literal.
func FromMatrix(m [4][4]float64) (Transform, error) {
	var a [16]float64
	for i := 0; i < 4; i++ {
		copy(a[i*4:i*4+4], m[i][:])
	}
	return FromRowMajor(a)
}

// Translation creates a translation-only transform.
func Translation(dx, dy, dz float64) Transform {
	return Transform{r: identityRotation, t: r3.Vec{X: dx, Y: dy, Z: dz}}
}

// RotationAbout creates a rotation about a principal axis through the origin.
// Positive angles follow the right-hand rule.
func RotationAbout(axis Axis, radians float64) Transform {
	c, s := math.Cos(radians), math.Sin(radians)
	var r [3][3]float64
	switch axis {
	case AxisX:
		r = [3][3]float64{{1, 0, 0}, {0, c, -s}, {0, s, c}}
	case AxisY:
		r = [3][3]float64{{c, 0, s}, {0, 1, 0}, {-s, 0, c}}
	default:
		r = [3][3]float64{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}
	}
	return Transform{r: r}
}

// Rotation returns a copy of the rotation block.
func (a Transform) Rotation() [3][3]float64 { return a.r }

// Translation returns the translation component.
func (a Transform) Translation() r3.Vec { return a.t }

// Matrix returns the full 4x4 homogeneous matrix.
func (a Transform) Matrix() [4][4]float64 {
	return [4][4]float64{
		{a.r[0][0], a.r[0][1], a.r[0][2], a.t.X},
		{a.r[1][0], a.r[1][1], a.r[1][2], a.t.Y},
		{a.r[2][0], a.r[2][1], a.r[2][2], a.t.Z},
		{0, 0, 0, 1},
	}
}

// RowMajor returns the 16 row-major values of the homogeneous matrix.
func (a Transform) RowMajor() [16]float64 {
	m := a.Matrix()
	var out [16]float64
	for i := 0; i < 4; i++ {
		copy(out[i*4:i*4+4], m[i][:])
	}
	return out
}

func (a Transform) String() string {
	m := a.Matrix()
	return fmt.Sprintf("[%.6f %.6f %.6f %.6f; %.6f %.6f %.6f %.6f; %.6f %.6f %.6f %.6f; 0 0 0 1]",
		m[0][0], m[0][1], m[0][2], m[0][3],
		m[1][0], m[1][1], m[1][2], m[1][3],
		m[2][0], m[2][1], m[2][2], m[2][3])
}

// Compose returns a·b. Applying the result is equivalent to applying b first, then a.
func Compose(a, b Transform) Transform {
	var out Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.r[i][j] = a.r[i][0]*b.r[0][j] + a.r[i][1]*b.r[1][j] + a.r[i][2]*b.r[2][j]
		}
	}
	out.t = r3.Add(rotate(a.r, b.t), a.t)
	return out
}

// Chain composes transforms strictly left to right: ts[0]·ts[1]·…·ts[n-1].
// An empty chain is the identity.
func Chain(ts ...Transform) Transform {
	out := Identity()
	for _, t := range ts {
		out = Compose(out, t)
	}
	return out
}

// Invert returns the inverse rigid transform: R' = Rᵀ, t' = -Rᵀ·t.
func Invert(a Transform) Transform {
	var out Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.r[i][j] = a.r[j][i]
		}
	}
	out.t = r3.Scale(-1, rotate(out.r, a.t))
	return out
}

// Apply maps a point expressed in the frame a describes into a's target frame.
func Apply(a Transform, p r3.Vec) r3.Vec {
	return r3.Add(rotate(a.r, p), a.t)
}

// ApplyHomogeneous multiplies the 4x4 form of a by a homogeneous 4-vector.
func ApplyHomogeneous(a Transform, v [4]float64) [4]float64 {
	m := a.Matrix()
	var out [4]float64
	for i := 0; i < 4; i++ {
		out[i] = m[i][0]*v[0] + m[i][1]*v[1] + m[i][2]*v[2] + m[i][3]*v[3]
	}
	return out
}

func rotate(r [3][3]float64, p r3.Vec) r3.Vec {
	return r3.Vec{
		X: r[0][0]*p.X + r[0][1]*p.Y + r[0][2]*p.Z,
		Y: r[1][0]*p.X + r[1][1]*p.Y + r[1][2]*p.Z,
		Z: r[2][0]*p.X + r[2][1]*p.Y + r[2][2]*p.Z,
	}
}

// MaxDeviation returns the largest absolute element difference between two transforms.
// A non-finite element on either side counts as an infinite deviation.
func MaxDeviation(a, b Transform) float64 {
	am, bm := a.RowMajor(), b.RowMajor()
	var worst float64
	for i := range am {
		if !finite(am[i]) || !finite(bm[i]) {
			return math.Inf(1)
		}
		if d := math.Abs(am[i] - bm[i]); d > worst {
			worst = d
		}
	}
	return worst
}

// ApproxEqual reports whether every element of a and b differs by at most tol.
func ApproxEqual(a, b Transform, tol float64) bool {
	return MaxDeviation(a, b) <= tol
}

// CheckRoundTrip verifies a·a⁻¹ ≈ I and (a⁻¹)⁻¹ ≈ a within tol.
func CheckRoundTrip(a Transform, tol float64) error {
	inv := Invert(a)
	if d := MaxDeviation(Compose(a, inv), Identity()); d > tol {
		return fmt.Errorf("%w: a·a⁻¹ deviates from identity by %g (tolerance %g)", ErrPrecisionDrift, d, tol)
	}
	if d := MaxDeviation(Invert(inv), a); d > tol {
		return fmt.Errorf("%w: (a⁻¹)⁻¹ deviates from a by %g (tolerance %g)", ErrPrecisionDrift, d, tol)
	}
	return nil
}

// ValidateRotation checks that r is orthonormal (R·Rᵀ = I) with det(R) = +1 within tol.
func ValidateRotation(r [3][3]float64, tol float64) error {
	for i := range r {
		for j := range r[i] {
			if !finite(r[i][j]) {
				return fmt.Errorf("%w: non-finite rotation element [%d][%d]", ErrMalformedFrame, i, j)
			}
		}
	}

	m := rotationDense(r)
	var rrt mat.Dense
	rrt.Mul(m, m.T())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if d := math.Abs(rrt.At(i, j) - want); d > tol {
				return fmt.Errorf("%w: rotation is not orthonormal (R·Rᵀ[%d][%d] off by %g)", ErrMalformedFrame, i, j, d)
			}
		}
	}

	if det := mat.Det(m); math.Abs(det-1) > tol {
		return fmt.Errorf("%w: rotation determinant is %g, want 1", ErrMalformedFrame, det)
	}
	return nil
}

// Orthonormalize returns the proper rotation closest to r in the Frobenius norm,
// computed from the SVD r = U·Σ·Vᵀ as U·Vᵀ with the sign fixed so det = +1.
func Orthonormalize(r [3][3]float64) ([3][3]float64, error) {
	var svd mat.SVD
	if !svd.Factorize(rotationDense(r), mat.SVDFull) {
		return r, fmt.Errorf("%w: SVD did not converge", ErrMalformedFrame)
	}
	values := svd.Values(nil)
	if len(values) < 3 || values[2] < 1e-9 {
		return r, fmt.Errorf("%w: rotation block is rank deficient", ErrMalformedFrame)
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var q mat.Dense
	q.Mul(&u, v.T())
	if mat.Det(&q) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		q.Mul(&u, v.T())
	}

	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = q.At(i, j)
		}
	}
	return out, nil
}

func rotationDense(r [3][3]float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		r[0][0], r[0][1], r[0][2],
		r[1][0], r[1][1], r[1][2],
		r[2][0], r[2][1], r[2][2],
	})
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
