package replay

import (
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// LineError describes one malformed log line.
type LineError struct {
	Entry int    // index entry of the block
	Line  int    // 1-based line number within the block
	Text  string // offending line
	Err   error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("entry %d line %d %q: %v", e.Entry, e.Line, e.Text, e.Err)
}

// Unwrap exposes both ErrRecordParse and the underlying cause.
func (e *LineError) Unwrap() []error {
	return []error{ErrRecordParse, e.Err}
}

// ParseRecords converts one block's lines into updates. A record line holds
// four fields separated by whitespace or commas:
//
//	id latitude longitude status
//
// where status is a code 0-3 or its name. Blank lines and lines starting
// with '#' are skipped. The first malformed line aborts the parse.
func ParseRecords(entry int, lines iter.Seq[string]) ([]AgentUpdate, error) {
	var out []AgentUpdate
	n := 0
	for line := range lines {
		n++
		u, ok, err := parseRecord(line)
		if err != nil {
			return nil, &LineError{Entry: entry, Line: n, Text: line, Err: err}
		}
		if ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// ParseRecordsLenient is ParseRecords that skips malformed lines and returns
// them alongside the good records.
func ParseRecordsLenient(entry int, lines iter.Seq[string]) ([]AgentUpdate, []*LineError) {
	var (
		out []AgentUpdate
		bad []*LineError
		n   int
	)
	for line := range lines {
		n++
		u, ok, err := parseRecord(line)
		if err != nil {
			bad = append(bad, &LineError{Entry: entry, Line: n, Text: line, Err: err})
			continue
		}
		if ok {
			out = append(out, u)
		}
	}
	return out, bad
}

func isFieldSep(r rune) bool {
	return r == ',' || unicode.IsSpace(r)
}

// parseRecord returns ok=false for lines that carry no record.
func parseRecord(line string) (AgentUpdate, bool, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return AgentUpdate{}, false, nil
	}

	fields := strings.FieldsFunc(trimmed, isFieldSep)
	if len(fields) != 4 {
		return AgentUpdate{}, false, fmt.Errorf("want 4 fields, got %d", len(fields))
	}

	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return AgentUpdate{}, false, fmt.Errorf("bad agent id %q", fields[0])
	}
	lat, err := parseCoord(fields[1])
	if err != nil {
		return AgentUpdate{}, false, fmt.Errorf("bad latitude: %w", err)
	}
	lon, err := parseCoord(fields[2])
	if err != nil {
		return AgentUpdate{}, false, fmt.Errorf("bad longitude: %w", err)
	}
	status, err := ParseStatus(fields[3])
	if err != nil {
		return AgentUpdate{}, false, err
	}

	return AgentUpdate{AgentID: id, Latitude: lat, Longitude: lon, Status: status}, true, nil
}

func parseCoord(tok string) (float64, error) {
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", tok)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not finite", tok)
	}
	return v, nil
}
