package frames

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
)

// JointAngles is a six-axis joint configuration in degrees.
type JointAngles [6]float64

// Radians converts the configuration to radians.
func (j JointAngles) Radians() [6]float64 {
	var out [6]float64
	for i, d := range j {
		out[i] = d * math.Pi / 180
	}
	return out
}

// JointPresets maps a preset name to its joint configuration.
type JointPresets map[string]JointAngles

// Names returns the preset names, sorted.
func (p JointPresets) Names() []string {
	names := make([]string, 0, len(p))
	for n := range p {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseJointPresets reads "name,j0,...,j5" records.
func ParseJointPresets(src io.Reader) (JointPresets, error) {
	return parseJointPresets(src, "")
}

// LoadJointPresets reads joint presets from a file.
func LoadJointPresets(path string) (JointPresets, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening joints file: %w", err)
	}
	defer f.Close()
	return parseJointPresets(f, path)
}

func parseJointPresets(src io.Reader, source string) (JointPresets, error) {
	records, bad, err := readRecords(src, 6)
	if err != nil {
		return nil, err
	}

	presets := make(JointPresets, len(records))
	for _, rec := range records {
		if _, dup := presets[rec.name]; dup {
			bad = append(bad, &ParseError{Line: rec.line, Name: rec.name, Reason: "duplicate preset"})
			continue
		}
		var j JointAngles
		copy(j[:], rec.values)
		presets[rec.name] = j
	}
	if len(bad) > 0 {
		sort.SliceStable(bad, func(i, k int) bool { return bad[i].Line < bad[k].Line })
		return nil, &LoadError{Source: source, Errs: bad}
	}
	return presets, nil
}
