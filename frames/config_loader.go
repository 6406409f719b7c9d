package frames

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

// LoadConfig loads the station configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.baseDir = filepath.Dir(path)

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks required fields and that every name refers to something known.
func (c *Config) Validate() error {
	if c.FramesFile == "" {
		return fmt.Errorf("framesFile is required")
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("tolerance must not be negative")
	}
	if _, err := c.ParentFrame(); err != nil {
		return err
	}

	calibrated := make(map[Frame]bool, len(c.Calibration))
	for i, cp := range c.Calibration {
		f, err := ParseFrame(cp.Frame)
		if err != nil {
			return fmt.Errorf("calibration[%d].frame: %w", i, err)
		}
		if calibrated[f] {
			return fmt.Errorf("calibration[%d]: duplicate frame %s", i, cp.Frame)
		}
		calibrated[f] = true
		if len(cp.Position) != 3 {
			return fmt.Errorf("calibration[%d].position needs 3 values for %s", i, cp.Frame)
		}
		if cp.Reference != nil && len(cp.Reference) != 3 {
			return fmt.Errorf("calibration[%d].reference needs 3 values for %s", i, cp.Frame)
		}
	}

	if _, err := c.PolicyTable(); err != nil {
		return err
	}

	for i, d := range c.Derived {
		if _, err := d.Derivation(); err != nil {
			return fmt.Errorf("derived[%d]: %w", i, err)
		}
	}

	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		if t.Name == "" {
			return fmt.Errorf("targets[%d].name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("targets[%d]: duplicate target %s", i, t.Name)
		}
		seen[t.Name] = true
		if (len(t.Chain) > 0) == (t.Joints != "") {
			return fmt.Errorf("targets[%d]: %s must set exactly one of chain or joints", i, t.Name)
		}
		if _, err := BuildSteps(t.Chain); err != nil {
			return fmt.Errorf("targets[%d] %s: %w", i, t.Name, err)
		}
	}

	return nil
}

// ResolvePath resolves p against the directory the config was loaded from.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

// ParentFrame returns the frame calibration positions are measured in.
func (c *Config) ParentFrame() (Frame, error) {
	if c.Parent == "" {
		return Robot, nil
	}
	f, err := ParseFrame(c.Parent)
	if err != nil {
		return "", fmt.Errorf("parent: %w", err)
	}
	return f, nil
}

// PolicyTable returns the default policies with the config overrides applied.
func (c *Config) PolicyTable() (PolicyTable, error) {
	table := DefaultPolicies()
	for name, policy := range c.Policies {
		f, err := ParseFrame(name)
		if err != nil {
			return nil, fmt.Errorf("policies: %w", err)
		}
		table, err = table.With(f, policy)
		if err != nil {
			return nil, fmt.Errorf("policies.%s: %w", name, err)
		}
	}
	return table, nil
}

// CalibrationPoints converts the configured calibration entries.
func (c *Config) CalibrationPoints() ([]CalibrationPoint, error) {
	points := make([]CalibrationPoint, 0, len(c.Calibration))
	for i, cp := range c.Calibration {
		f, err := ParseFrame(cp.Frame)
		if err != nil {
			return nil, fmt.Errorf("calibration[%d]: %w", i, err)
		}
		if len(cp.Position) != 3 {
			return nil, fmt.Errorf("calibration[%d].position needs 3 values", i)
		}
		p := CalibrationPoint{
			Frame:    f,
			Position: r3.Vec{X: cp.Position[0], Y: cp.Position[1], Z: cp.Position[2]},
		}
		if cp.Reference != nil {
			if len(cp.Reference) != 3 {
				return nil, fmt.Errorf("calibration[%d].reference needs 3 values", i)
			}
			ref := r3.Vec{X: cp.Reference[0], Y: cp.Reference[1], Z: cp.Reference[2]}
			p.Reference = &ref
		}
		points = append(points, p)
	}
	return points, nil
}

// Derivations converts the configured derived frames.
func (c *Config) Derivations() ([]Derivation, error) {
	ds := make([]Derivation, 0, len(c.Derived))
	for i, spec := range c.Derived {
		d, err := spec.Derivation()
		if err != nil {
			return nil, fmt.Errorf("derived[%d]: %w", i, err)
		}
		ds = append(ds, d)
	}
	return ds, nil
}

// Station is a frozen registry plus the joint presets and targets that resolve against it.
type Station struct {
	Config   *Config
	Registry *Registry
	Joints   JointPresets
}

// BuildStation loads the calibration records, applies calibration points and
// derived frames, and freezes the registry.
func BuildStation(config *Config) (*Station, error) {
	reg := NewRegistry(WithTolerance(config.Tolerance), WithOrthonormalize(config.Orthonormalize))
	if err := reg.LoadFile(config.ResolvePath(config.FramesFile)); err != nil {
		return nil, err
	}

	parent, err := config.ParentFrame()
	if err != nil {
		return nil, err
	}
	policies, err := config.PolicyTable()
	if err != nil {
		return nil, err
	}
	points, err := config.CalibrationPoints()
	if err != nil {
		return nil, err
	}
	if err := reg.Calibrate(parent, points, policies); err != nil {
		return nil, err
	}

	ds, err := config.Derivations()
	if err != nil {
		return nil, err
	}
	if err := reg.Derive(ds); err != nil {
		return nil, err
	}
	reg.Freeze()

	joints := JointPresets{}
	if config.JointsFile != "" {
		joints, err = LoadJointPresets(config.ResolvePath(config.JointsFile))
		if err != nil {
			return nil, err
		}
	}

	return &Station{Config: config, Registry: reg, Joints: joints}, nil
}

// Target resolves the named target into a pose command.
func (s *Station) Target(name string) (PoseCommand, error) {
	spec := s.Config.GetTarget(name)
	if spec == nil {
		return PoseCommand{}, fmt.Errorf("unknown target: %s", name)
	}
	return ResolveTarget(s.Registry, s.Joints, *spec)
}
