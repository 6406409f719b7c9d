package frames

import (
	"fmt"
	"sort"
	"strings"
)

// Frame identifies a named coordinate system in the station.
// The set is closed: ParseFrame rejects anything not listed below.
type Frame string

const (
	Global            Frame = "global"
	Robot             Frame = "robot"
	Silvia            Frame = "silvia"
	Grinder           Frame = "grinder"
	CupStack          Frame = "cupstack"
	Cup               Frame = "cup"
	CupPlace          Frame = "cupplace"
	Cross             Frame = "cross"
	TCP               Frame = "tcp"
	Tool              Frame = "tool"
	Pusher            Frame = "pusher"
	Puller            Frame = "puller"
	Lever             Frame = "lever"
	GrinderMount      Frame = "grindermount"
	FilterMount       Frame = "filtermount"
	CupMount          Frame = "cupmount"
	Filter            Frame = "filter"
	FilterEntry       Frame = "filterentry"
	Scraper           Frame = "scraper"
	Tamper            Frame = "tamper"
	Ball              Frame = "ball"
	SilviaPowerOn     Frame = "silviapoweron"
	SilviaPowerOff    Frame = "silviapoweroff"
	SilviaPowerButton Frame = "silviapowerbutton"
	GrinderPowerOn    Frame = "grinderpoweron"
	GrinderPowerOff   Frame = "grinderpoweroff"
)

var knownFrames = map[Frame]struct{}{
	Global: {}, Robot: {}, Silvia: {}, Grinder: {}, CupStack: {}, Cup: {}, CupPlace: {},
	Cross: {}, TCP: {}, Tool: {}, Pusher: {}, Puller: {}, Lever: {}, GrinderMount: {},
	FilterMount: {}, CupMount: {}, Filter: {}, FilterEntry: {}, Scraper: {}, Tamper: {},
	Ball: {}, SilviaPowerOn: {}, SilviaPowerOff: {}, SilviaPowerButton: {},
	GrinderPowerOn: {}, GrinderPowerOff: {},
}

// AllFrames returns every known frame, sorted by name.
func AllFrames() []Frame {
	out := make([]Frame, 0, len(knownFrames))
	for f := range knownFrames {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Valid reports whether f belongs to the known frame set.
func (f Frame) Valid() bool {
	_, ok := knownFrames[f]
	return ok
}

// ParseFrame converts a name into a Frame, rejecting unknown names.
func ParseFrame(name string) (Frame, error) {
	f := Frame(strings.ToLower(strings.TrimSpace(name)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: unknown frame %q", ErrInvalidKey, name)
	}
	return f, nil
}

// Key names a directed edge between two frames. The transform stored under
// Key{Parent, Child} maps coordinates expressed in Child into Parent.
type Key struct {
	Parent Frame
	Child  Frame
}

// K is shorthand for Key{Parent: parent, Child: child}.
func K(parent, child Frame) Key {
	return Key{Parent: parent, Child: child}
}

// String returns the concatenated form used in calibration files, e.g. "globalsilvia".
func (k Key) String() string {
	return string(k.Parent) + string(k.Child)
}

// Reverse returns the key of the opposite edge.
func (k Key) Reverse() Key {
	return Key{Parent: k.Child, Child: k.Parent}
}

// Valid reports whether both ends are known frames and differ.
func (k Key) Valid() bool {
	return k.Parent.Valid() && k.Child.Valid() && k.Parent != k.Child
}

// ParseKey splits a concatenated frame-pair name into its two frames.
// Exactly one split must produce two known frames.
func ParseKey(name string) (Key, error) {
	s := strings.ToLower(strings.TrimSpace(name))
	var found []Key
	for i := 1; i < len(s); i++ {
		parent, child := Frame(s[:i]), Frame(s[i:])
		if parent.Valid() && child.Valid() {
			found = append(found, Key{Parent: parent, Child: child})
		}
	}
	switch len(found) {
	case 0:
		return Key{}, fmt.Errorf("%w: %q is not a pair of known frames", ErrInvalidKey, name)
	case 1:
		if found[0].Parent == found[0].Child {
			return Key{}, fmt.Errorf("%w: %q relates a frame to itself", ErrInvalidKey, name)
		}
		return found[0], nil
	default:
		return Key{}, fmt.Errorf("%w: %q is ambiguous (%d possible splits)", ErrInvalidKey, name, len(found))
	}
}

// MustKey is ParseKey for package-level tables and tests; it panics on error.
func MustKey(name string) Key {
	k, err := ParseKey(name)
	if err != nil {
		panic(err)
	}
	return k
}

// FrameState is the lifecycle position of a key inside a Registry.
type FrameState int

const (
	StateUnloaded FrameState = iota
	StatePrimitive
	StateDerived
)

func (s FrameState) String() string {
	switch s {
	case StatePrimitive:
		return "primitive"
	case StateDerived:
		return "derived"
	default:
		return "unloaded"
	}
}

// MarshalText lets FrameState render as its name in JSON.
func (s FrameState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *FrameState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "primitive":
		*s = StatePrimitive
	case "derived":
		*s = StateDerived
	case "unloaded":
		*s = StateUnloaded
	default:
		return fmt.Errorf("unknown frame state %q", b)
	}
	return nil
}

// Config represents the full configuration file
type Config struct {
	FramesFile     string              `yaml:"framesFile" json:"framesFile"`
	JointsFile     string              `yaml:"jointsFile,omitempty" json:"jointsFile,omitempty"`
	Tolerance      float64             `yaml:"tolerance,omitempty" json:"tolerance,omitempty"`           // Orthonormality tolerance for loaded records (default 1e-6)
	Orthonormalize bool                `yaml:"orthonormalize,omitempty" json:"orthonormalize,omitempty"` // Project loaded rotations onto the nearest proper rotation
	Parent         string              `yaml:"parent,omitempty" json:"parent,omitempty"`                 // Frame calibration positions are measured in (default robot)
	Calibration    []CalibrationConfig `yaml:"calibration,omitempty" json:"calibration,omitempty"`
	Policies       map[string]string   `yaml:"policies,omitempty" json:"policies,omitempty"` // frame -> built-in policy name overrides
	Derived        []DerivedSpec       `yaml:"derived,omitempty" json:"derived,omitempty"`
	Targets        []TargetSpec        `yaml:"targets,omitempty" json:"targets,omitempty"`
	MQTT           MQTTConfig          `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
	HTTP           HTTPConfig          `yaml:"http,omitempty" json:"http,omitempty"`

	baseDir string // directory of the loaded config file; relative paths resolve against it
}

// CalibrationConfig is a calibration point as written in the config file
type CalibrationConfig struct {
	Frame     string    `yaml:"frame" json:"frame"`
	Position  []float64 `yaml:"position" json:"position"`
	Reference []float64 `yaml:"reference,omitempty" json:"reference,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// HTTPConfig holds settings for the read-only frames API
type HTTPConfig struct {
	Port int `yaml:"port,omitempty" json:"port,omitempty"`
}

// GetTarget returns the target spec with the given name
func (c *Config) GetTarget(name string) *TargetSpec {
	for i := range c.Targets {
		if c.Targets[i].Name == name {
			return &c.Targets[i]
		}
	}
	return nil
}
