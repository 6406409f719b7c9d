package frames

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownFrame is returned when a lookup names a key that was never loaded or registered.
	ErrUnknownFrame = errors.New("unknown frame")
	// ErrMalformedFrame is returned when a rotation block is not a proper rotation.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrPrecisionDrift is returned by round-trip checks that exceed their tolerance.
	ErrPrecisionDrift = errors.New("precision drift")
	// ErrFrameExists is returned when registering a key (or its reverse) that is already present.
	ErrFrameExists = errors.New("frame already registered")
	// ErrFrozen is returned by mutating calls on a frozen registry.
	ErrFrozen = errors.New("registry is frozen")
	// ErrDerivationCycle is returned when derived frames depend on each other.
	ErrDerivationCycle = errors.New("derivation cycle")
	// ErrInvalidKey is returned for names outside the known frame set.
	ErrInvalidKey = errors.New("invalid frame key")
)

// ParseError describes one malformed record in a calibration or joint file.
type ParseError struct {
	Line   int
	Name   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "line %d", e.Line)
	if e.Name != "" {
		fmt.Fprintf(&b, " (%s)", e.Name)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

// LoadError collects every ParseError found in one source.
type LoadError struct {
	Source string
	Errs   []*ParseError
}

func (e *LoadError) Error() string {
	lines := make([]string, len(e.Errs))
	for i, pe := range e.Errs {
		lines[i] = pe.Error()
	}
	src := e.Source
	if src == "" {
		src = "input"
	}
	return fmt.Sprintf("loading %s: %d bad record(s): %s", src, len(e.Errs), strings.Join(lines, "; "))
}

func (e *LoadError) Unwrap() []error {
	out := make([]error, len(e.Errs))
	for i, pe := range e.Errs {
		out[i] = pe
	}
	return out
}

func unknownFrame(k Key) error {
	return fmt.Errorf("%w: %s", ErrUnknownFrame, k)
}
