package frames

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

const epsilon = 1e-9

var approx = cmpopts.EquateApprox(0, epsilon)

// randomTransform builds a rigid transform from three random axis rotations and a translation.
func randomTransform(rng *rand.Rand) Transform {
	return Chain(
		Translation(rng.Float64()*2000-1000, rng.Float64()*2000-1000, rng.Float64()*2000-1000),
		RotationAbout(AxisZ, rng.Float64()*2*math.Pi),
		RotationAbout(AxisY, rng.Float64()*2*math.Pi),
		RotationAbout(AxisX, rng.Float64()*2*math.Pi),
	)
}

func TestRoundTripLaws(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		a := randomTransform(rng)

		assert.LessOrEqual(t, MaxDeviation(Compose(a, Invert(a)), Identity()), epsilon, "a·a⁻¹")
		assert.LessOrEqual(t, MaxDeviation(Compose(Invert(a), a), Identity()), epsilon, "a⁻¹·a")
		assert.LessOrEqual(t, MaxDeviation(Invert(Invert(a)), a), epsilon, "(a⁻¹)⁻¹")
		require.NoError(t, CheckRoundTrip(a, RoundTripTolerance))
	}
}

func TestComposeAssociative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		a, b, c := randomTransform(rng), randomTransform(rng), randomTransform(rng)
		left := Compose(Compose(a, b), c)
		right := Compose(a, Compose(b, c))
		assert.LessOrEqual(t, MaxDeviation(left, right), 1e-9)
	}
}

func TestChainOrder(t *testing.T) {
	a := Translation(1, 2, 3)
	b := RotationAbout(AxisX, 0.3)
	c := RotationAbout(AxisZ, -1.1)

	assert.True(t, ApproxEqual(Chain(a, b, c), Compose(Compose(a, b), c), 1e-12))
	assert.Equal(t, Identity(), Chain())
	assert.Equal(t, a, Chain(a))
	assert.False(t, ApproxEqual(Chain(a, b), Chain(b, a), 1e-6), "chain must not commute")
}

func TestApplyLiteralTranslation(t *testing.T) {
	tr, err := FromRowMajor([16]float64{1, 0, 0, 10, 0, 1, 0, 20, 0, 0, 1, 30, 0, 0, 0, 1})
	require.NoError(t, err)

	got := Apply(tr, r3.Vec{})
	if diff := cmp.Diff(r3.Vec{X: 10, Y: 20, Z: 30}, got, approx); diff != "" {
		t.Errorf("Apply() mismatch (-want +got):\n%s", diff)
	}
}

func TestComposeTranslateThenRotate(t *testing.T) {
	ab := Translation(0, 0, 100)
	bc := RotationAbout(AxisZ, math.Pi/2)

	got := Apply(Compose(ab, bc), r3.Vec{X: 1})
	if diff := cmp.Diff(r3.Vec{X: 0, Y: 1, Z: 100}, got, approx); diff != "" {
		t.Errorf("Apply(Compose) mismatch (-want +got):\n%s", diff)
	}

	// The homogeneous form agrees with Apply
	h := ApplyHomogeneous(Compose(ab, bc), [4]float64{1, 0, 0, 1})
	if diff := cmp.Diff([4]float64{0, 1, 100, 1}, h, approx); diff != "" {
		t.Errorf("ApplyHomogeneous mismatch (-want +got):\n%s", diff)
	}
}

func TestRotationAbout(t *testing.T) {
	tests := []struct {
		name  string
		axis  Axis
		point r3.Vec
		want  r3.Vec
	}{
		{"x quarter turn", AxisX, r3.Vec{Y: 1}, r3.Vec{Z: 1}},
		{"y quarter turn", AxisY, r3.Vec{Z: 1}, r3.Vec{X: 1}},
		{"z quarter turn", AxisZ, r3.Vec{X: 1}, r3.Vec{Y: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(RotationAbout(tt.axis, math.Pi/2), tt.point)
			if diff := cmp.Diff(tt.want, got, approx); diff != "" {
				t.Errorf("rotation about %s mismatch (-want +got):\n%s", tt.axis, diff)
			}
		})
	}
}

func TestNewTransformRejectsBadRotations(t *testing.T) {
	tests := []struct {
		name string
		r    [3][3]float64
	}{
		{"zero block", [3][3]float64{}},
		{"reflection", [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, -1}}},
		{"scaled", [3][3]float64{{2, 0, 0}, {0, 2, 0}, {0, 0, 2}}},
		{"sheared", [3][3]float64{{1, 0.1, 0}, {0, 1, 0}, {0, 0, 1}}},
		{"nan", [3][3]float64{{math.NaN(), 0, 0}, {0, 1, 0}, {0, 0, 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTransform(tt.r, r3.Vec{})
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestNewTransformRejectsNonFiniteTranslation(t *testing.T) {
	_, err := NewTransform(identityRotation, r3.Vec{X: math.Inf(1)})
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestFromRowMajorRejectsBadLastRow(t *testing.T) {
	_, err := FromRowMajor([16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 1, 1})
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestFromSliceLength(t *testing.T) {
	_, err := FromSlice(make([]float64, 15))
	assert.ErrorIs(t, err, ErrMalformedFrame)

	tr, err := FromSlice([]float64{1, 0, 0, 1, 0, 1, 0, 2, 0, 0, 1, 3, 0, 0, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, tr.Translation())
}

func TestMatrixRoundTrip(t *testing.T) {
	a := Compose(Translation(5, -4, 3), RotationAbout(AxisY, 0.7))
	b, err := FromMatrix(a.Matrix())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := FromRowMajor(a.RowMajor())
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestAccessorsReturnCopies(t *testing.T) {
	a := RotationAbout(AxisZ, 0.5)
	r := a.Rotation()
	r[0][0] = 42
	assert.NotEqual(t, 42.0, a.Rotation()[0][0])
}

func TestOrthonormalize(t *testing.T) {
	// A rotation rounded to six decimals, as it appears in calibration files
	exact := RotationAbout(AxisZ, 0.523598776).Rotation()
	var rounded [3][3]float64
	for i := range exact {
		for j := range exact[i] {
			rounded[i][j] = math.Round(exact[i][j]*1e6) / 1e6
		}
	}

	fixed, err := Orthonormalize(rounded)
	require.NoError(t, err)
	require.NoError(t, ValidateRotation(fixed, 1e-12))

	tr, err := NewTransformTol(fixed, r3.Vec{X: 1}, 1e-12)
	require.NoError(t, err)
	assert.NoError(t, CheckRoundTrip(tr, RoundTripTolerance))

	for i := range exact {
		for j := range exact[i] {
			assert.InDelta(t, exact[i][j], fixed[i][j], 1e-6)
		}
	}
}

func TestOrthonormalizeRejectsDegenerate(t *testing.T) {
	_, err := Orthonormalize([3][3]float64{})
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestCheckRoundTripDetectsDrift(t *testing.T) {
	// Bypass validation to build a slightly non-orthonormal transform
	bad := Transform{r: [3][3]float64{{1.001, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
	assert.ErrorIs(t, CheckRoundTrip(bad, RoundTripTolerance), ErrPrecisionDrift)
}

func TestNonFiniteTransformsNeverCompareEqual(t *testing.T) {
	nan := Translation(math.NaN(), 0, 0)
	inf := Compose(Identity(), Translation(0, math.Inf(1), 0))

	assert.True(t, math.IsInf(MaxDeviation(nan, Identity()), 1))
	assert.True(t, math.IsInf(MaxDeviation(Identity(), inf), 1))
	assert.False(t, ApproxEqual(nan, nan, 1e-9))
	assert.False(t, ApproxEqual(nan, Identity(), 1e-9))
	assert.ErrorIs(t, CheckRoundTrip(nan, RoundTripTolerance), ErrPrecisionDrift)
	assert.ErrorIs(t, CheckRoundTrip(inf, RoundTripTolerance), ErrPrecisionDrift)

	rot := RotationAbout(AxisZ, math.NaN())
	assert.ErrorIs(t, CheckRoundTrip(rot, RoundTripTolerance), ErrPrecisionDrift)
}

func TestLongChainRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	for n := 6; n <= 8; n++ {
		for i := 0; i < 50; i++ {
			factors := make([]Transform, n)
			for j := range factors {
				factors[j] = randomTransform(rng)
			}
			chain := Chain(factors...)

			// Undo the chain one factor at a time from the right
			undone := chain
			for j := n - 1; j >= 0; j-- {
				undone = Compose(undone, Invert(factors[j]))
			}
			p := undone.Translation()
			assert.Less(t, math.Abs(p.X)+math.Abs(p.Y)+math.Abs(p.Z), 1e-9, "%d-factor chain", n)

			// Repeated compose/invert must keep the chain intact
			again := chain
			for k := 0; k < 10; k++ {
				again = Invert(Invert(again))
			}
			assert.Less(t, r3.Norm(r3.Sub(again.Translation(), chain.Translation())), 1e-9)
			require.NoError(t, CheckRoundTrip(chain, RoundTripTolerance))
		}
	}
}
