package frames

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// MotionKind tells the executor how to travel to a target.
type MotionKind string

const (
	MotionJoint  MotionKind = "joint"
	MotionLinear MotionKind = "linear"
)

// StepSpec is the config form of a chain step. In YAML it is either a frame-pair
// name ("globalsilvia") or a single-key mapping: transl: [x, y, z],
// rotx/roty/rotz: radians, or matrix: [16 row-major values].
type StepSpec struct {
	Frame  string
	Transl []float64
	RotX   *float64
	RotY   *float64
	RotZ   *float64
	Matrix []float64
}

type stepSpecMap struct {
	Transl []float64 `yaml:"transl,omitempty"`
	RotX   *float64  `yaml:"rotx,omitempty"`
	RotY   *float64  `yaml:"roty,omitempty"`
	RotZ   *float64  `yaml:"rotz,omitempty"`
	Matrix []float64 `yaml:"matrix,omitempty,flow"`
}

// UnmarshalYAML accepts either a scalar frame-pair name or a one-key mapping.
func (s *StepSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = StepSpec{Frame: node.Value}
		return nil
	case yaml.MappingNode:
		var m stepSpecMap
		if err := node.Decode(&m); err != nil {
			return err
		}
		*s = StepSpec{Transl: m.Transl, RotX: m.RotX, RotY: m.RotY, RotZ: m.RotZ, Matrix: m.Matrix}
		if n := s.kinds(); n != 1 {
			return fmt.Errorf("line %d: chain step must set exactly one of transl, rotx, roty, rotz, matrix (got %d)", node.Line, n)
		}
		return nil
	default:
		return fmt.Errorf("line %d: chain step must be a frame name or a mapping", node.Line)
	}
}

// MarshalYAML writes the step back in the form UnmarshalYAML reads.
func (s StepSpec) MarshalYAML() (interface{}, error) {
	if s.Frame != "" {
		return s.Frame, nil
	}
	return stepSpecMap{Transl: s.Transl, RotX: s.RotX, RotY: s.RotY, RotZ: s.RotZ, Matrix: s.Matrix}, nil
}

func (s StepSpec) kinds() int {
	n := 0
	if s.Frame != "" {
		n++
	}
	if s.Transl != nil {
		n++
	}
	if s.RotX != nil {
		n++
	}
	if s.RotY != nil {
		n++
	}
	if s.RotZ != nil {
		n++
	}
	if s.Matrix != nil {
		n++
	}
	return n
}

// Step converts the spec into a chain step.
func (s StepSpec) Step() (Step, error) {
	if n := s.kinds(); n != 1 {
		return nil, fmt.Errorf("chain step must set exactly one field, got %d", n)
	}
	switch {
	case s.Frame != "":
		k, err := ParseKey(s.Frame)
		if err != nil {
			return nil, err
		}
		return Ref(k), nil
	case s.Transl != nil:
		if len(s.Transl) != 3 {
			return nil, fmt.Errorf("transl needs 3 values, got %d", len(s.Transl))
		}
		if !finite(s.Transl[0]) || !finite(s.Transl[1]) || !finite(s.Transl[2]) {
			return nil, fmt.Errorf("%w: transl %v is not finite", ErrMalformedFrame, s.Transl)
		}
		return FixedLabeled(fmt.Sprintf("transl(%g,%g,%g)", s.Transl[0], s.Transl[1], s.Transl[2]),
			Translation(s.Transl[0], s.Transl[1], s.Transl[2])), nil
	case s.RotX != nil:
		return rotationStep("rotx", AxisX, *s.RotX)
	case s.RotY != nil:
		return rotationStep("roty", AxisY, *s.RotY)
	case s.RotZ != nil:
		return rotationStep("rotz", AxisZ, *s.RotZ)
	default:
		t, err := FromSlice(s.Matrix)
		if err != nil {
			return nil, err
		}
		return FixedLabeled("matrix", t), nil
	}
}

func rotationStep(name string, axis Axis, radians float64) (Step, error) {
	if !finite(radians) {
		return nil, fmt.Errorf("%w: %s angle %g is not finite", ErrMalformedFrame, name, radians)
	}
	return FixedLabeled(fmt.Sprintf("%s(%g)", name, radians), RotationAbout(axis, radians)), nil
}

// BuildSteps converts a list of step specs.
func BuildSteps(specs []StepSpec) ([]Step, error) {
	steps := make([]Step, len(specs))
	for i, spec := range specs {
		s, err := spec.Step()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		steps[i] = s
	}
	return steps, nil
}

// DerivedSpec defines a derived frame in the config file.
type DerivedSpec struct {
	Key   string     `yaml:"key" json:"key"`
	Chain []StepSpec `yaml:"chain" json:"chain"`
}

// Derivation converts the spec for Registry.Derive.
func (d DerivedSpec) Derivation() (Derivation, error) {
	k, err := ParseKey(d.Key)
	if err != nil {
		return Derivation{}, err
	}
	steps, err := BuildSteps(d.Chain)
	if err != nil {
		return Derivation{}, fmt.Errorf("derived %s: %w", d.Key, err)
	}
	return Derivation{Key: k, Steps: steps}, nil
}

// TargetSpec is a named robot target: either a chain resolving to a TCP pose
// or the name of a joint preset.
type TargetSpec struct {
	Name   string     `yaml:"name" json:"name"`
	Motion MotionKind `yaml:"motion,omitempty" json:"motion,omitempty"`
	Chain  []StepSpec `yaml:"chain,omitempty" json:"chain,omitempty"`
	Joints string     `yaml:"joints,omitempty" json:"joints,omitempty"`
}

// PoseCommand is what the motion executor receives for one target.
type PoseCommand struct {
	ID        string       `json:"id"`
	Target    string       `json:"target"`
	Motion    MotionKind   `json:"motion"`
	Pose      *[16]float64 `json:"pose,omitempty"`
	Joints    *JointAngles `json:"joints,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// ResolveTarget turns a target spec into a pose command using the registry and joint presets.
func ResolveTarget(l Lookup, presets JointPresets, spec TargetSpec) (PoseCommand, error) {
	motion := spec.Motion
	if motion == "" {
		motion = MotionJoint
	}
	if motion != MotionJoint && motion != MotionLinear {
		return PoseCommand{}, fmt.Errorf("target %s: unknown motion %q", spec.Name, spec.Motion)
	}

	cmd := PoseCommand{
		ID:        uuid.NewString(),
		Target:    spec.Name,
		Motion:    motion,
		Timestamp: time.Now().Unix(),
	}

	hasChain, hasJoints := len(spec.Chain) > 0, spec.Joints != ""
	switch {
	case hasChain == hasJoints:
		return PoseCommand{}, fmt.Errorf("target %s: set exactly one of chain or joints", spec.Name)
	case hasJoints:
		if motion == MotionLinear {
			return PoseCommand{}, fmt.Errorf("target %s: joint presets cannot be reached with a linear move", spec.Name)
		}
		j, ok := presets[spec.Joints]
		if !ok {
			return PoseCommand{}, fmt.Errorf("target %s: unknown joint preset %q", spec.Name, spec.Joints)
		}
		cmd.Joints = &j
	default:
		steps, err := BuildSteps(spec.Chain)
		if err != nil {
			return PoseCommand{}, fmt.Errorf("target %s: %w", spec.Name, err)
		}
		t, err := ResolveSteps(l, steps...)
		if err != nil {
			return PoseCommand{}, fmt.Errorf("target %s: %w", spec.Name, err)
		}
		pose := t.RowMajor()
		cmd.Pose = &pose
	}
	return cmd, nil
}
