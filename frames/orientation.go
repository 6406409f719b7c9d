package frames

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/spatial/r3"
)

// Term is one coefficient of an axis-mapping policy, evaluated at the planar angle θ.
type Term int

const (
	Zero Term = iota
	One
	NegOne
	Cos
	NegCos
	Sin
	NegSin
)

func (t Term) eval(c, s float64) float64 {
	switch t {
	case One:
		return 1
	case NegOne:
		return -1
	case Cos:
		return c
	case NegCos:
		return -c
	case Sin:
		return s
	case NegSin:
		return -s
	default:
		return 0
	}
}

func (t Term) String() string {
	switch t {
	case One:
		return "1"
	case NegOne:
		return "-1"
	case Cos:
		return "cos"
	case NegCos:
		return "-cos"
	case Sin:
		return "sin"
	case NegSin:
		return "-sin"
	default:
		return "0"
	}
}

// AxisPolicy is a named rule turning a planar angle into a rotation block.
// Each frame calibrated from a reference point has its own convention.
type AxisPolicy struct {
	Name string
	Rows [3][3]Term
}

// UsesAngle reports whether any coefficient depends on θ.
func (p AxisPolicy) UsesAngle() bool {
	for _, row := range p.Rows {
		for _, t := range row {
			switch t {
			case Cos, NegCos, Sin, NegSin:
				return true
			}
		}
	}
	return false
}

// Rotation evaluates the policy at the given angle (radians).
func (p AxisPolicy) Rotation(angle float64) [3][3]float64 {
	c, s := math.Cos(angle), math.Sin(angle)
	var r [3][3]float64
	for i, row := range p.Rows {
		for j, t := range row {
			r[i][j] = t.eval(c, s)
		}
	}
	return r
}

// Built-in policies. The scraper convention appears in two forms in the station
// scripts; "scraper-legacy" is kept so it can be selected and rejected explicitly.
var (
	PolicyIdentity = AxisPolicy{Name: "identity", Rows: [3][3]Term{
		{One, Zero, Zero},
		{Zero, One, Zero},
		{Zero, Zero, One},
	}}
	PolicyStandard = AxisPolicy{Name: "standard", Rows: [3][3]Term{
		{Cos, NegSin, Zero},
		{Sin, Cos, Zero},
		{Zero, Zero, One},
	}}
	PolicySilvia = AxisPolicy{Name: "silvia", Rows: [3][3]Term{
		{NegSin, NegCos, Zero},
		{Cos, NegSin, Zero},
		{Zero, Zero, One},
	}}
	PolicyGrinder = AxisPolicy{Name: "grinder", Rows: [3][3]Term{
		{NegCos, Sin, Zero},
		{NegSin, NegCos, Zero},
		{Zero, Zero, One},
	}}
	PolicyScraper = AxisPolicy{Name: "scraper", Rows: [3][3]Term{
		{Cos, NegSin, Zero},
		{Sin, Cos, Zero},
		{Zero, Zero, One},
	}}
	PolicyScraperLegacy = AxisPolicy{Name: "scraper-legacy", Rows: [3][3]Term{
		{Cos, NegSin, Zero},
		{Sin, NegCos, Zero},
		{Zero, Zero, One},
	}}
	PolicyCup = AxisPolicy{Name: "cup", Rows: [3][3]Term{
		{NegOne, Zero, Zero},
		{Zero, NegOne, Zero},
		{Zero, Zero, One},
	}}
)

var builtinPolicies = map[string]AxisPolicy{
	PolicyIdentity.Name:      PolicyIdentity,
	PolicyStandard.Name:      PolicyStandard,
	PolicySilvia.Name:        PolicySilvia,
	PolicyGrinder.Name:       PolicyGrinder,
	PolicyScraper.Name:       PolicyScraper,
	PolicyScraperLegacy.Name: PolicyScraperLegacy,
	PolicyCup.Name:           PolicyCup,
}

// PolicyByName looks up a built-in policy.
func PolicyByName(name string) (AxisPolicy, bool) {
	p, ok := builtinPolicies[name]
	return p, ok
}

// PolicyNames returns the names of all built-in policies, sorted.
func PolicyNames() []string {
	names := make([]string, 0, len(builtinPolicies))
	for n := range builtinPolicies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PolicyTable maps a frame to the axis convention used when deriving its orientation.
type PolicyTable map[Frame]AxisPolicy

// DefaultPolicies returns the station's conventions.
func DefaultPolicies() PolicyTable {
	return PolicyTable{
		Robot:   PolicyIdentity,
		Silvia:  PolicySilvia,
		Grinder: PolicyGrinder,
		Scraper: PolicyScraper,
		Cup:     PolicyCup,
	}
}

// With returns a copy of the table with frame mapped to the named built-in policy.
func (pt PolicyTable) With(frame Frame, policyName string) (PolicyTable, error) {
	if !frame.Valid() {
		return nil, fmt.Errorf("%w: unknown frame %q", ErrInvalidKey, frame)
	}
	p, ok := PolicyByName(policyName)
	if !ok {
		return nil, fmt.Errorf("unknown orientation policy %q for %s", policyName, frame)
	}
	out := make(PolicyTable, len(pt)+1)
	for f, existing := range pt {
		out[f] = existing
	}
	out[frame] = p
	return out, nil
}

// minPlanarSeparation is the smallest in-plane offset from which an angle is derived.
const minPlanarSeparation = 1e-9

// PlanarAngle returns atan2(Δy, Δx) for Δ = reference - position, projected onto the XY plane.
func PlanarAngle(position, reference r3.Vec) (float64, error) {
	from := orb.Point{position.X, position.Y}
	to := orb.Point{reference.X, reference.Y}
	if planar.Distance(from, to) < minPlanarSeparation {
		return 0, fmt.Errorf("%w: reference point coincides with frame position in the XY plane", ErrMalformedFrame)
	}
	return math.Atan2(to.Y()-from.Y(), to.X()-from.X()), nil
}

// DeriveOrientation computes a rotation block from the angle between a frame's
// position and its reference point, using the given policy's axis mapping.
// The result is validated; a policy that yields an improper rotation fails with ErrMalformedFrame.
func DeriveOrientation(position, reference r3.Vec, policy AxisPolicy) ([3][3]float64, error) {
	angle, err := PlanarAngle(position, reference)
	if err != nil {
		return [3][3]float64{}, err
	}
	r := policy.Rotation(angle)
	if err := ValidateRotation(r, DefaultTolerance); err != nil {
		return [3][3]float64{}, fmt.Errorf("policy %s at %.4f rad: %w", policy.Name, angle, err)
	}
	return r, nil
}
