package frames

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// record is one "name,v0,...,vN" line of a calibration or joint file.
type record struct {
	line   int
	name   string
	values []float64
}

// readRecords splits src into records of exactly want numeric fields after the name.
// Blank lines and lines starting with '#' are skipped. Field-level problems are
// collected per line; the error return is reserved for I/O failures.
func readRecords(src io.Reader, want int) ([]record, []*ParseError, error) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var records []record
	var bad []*ParseError
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rec, perr := parseRecord(lineNo, line, want)
		if perr != nil {
			bad = append(bad, perr)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading records: %w", err)
	}
	return records, bad, nil
}

func parseRecord(lineNo int, line string, want int) (record, *ParseError) {
	fields := strings.Split(line, ",")
	name := strings.TrimSpace(fields[0])
	if name == "" {
		return record{}, &ParseError{Line: lineNo, Reason: "missing name"}
	}

	values := fields[1:]
	if len(values) != want {
		return record{}, &ParseError{
			Line:   lineNo,
			Name:   name,
			Reason: fmt.Sprintf("expected %d values, got %d", want, len(values)),
		}
	}

	rec := record{line: lineNo, name: name, values: make([]float64, want)}
	for i, field := range values {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return record{}, &ParseError{
				Line:   lineNo,
				Name:   name,
				Reason: fmt.Sprintf("value %d is not a number", i),
				Err:    err,
			}
		}
		rec.values[i] = v
	}
	return rec, nil
}
