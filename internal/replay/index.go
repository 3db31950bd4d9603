package replay

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// IndexTable is the parsed log index: a flat list of alternating simulation
// times and byte offsets. Entry indices are positions in that list; a block
// starts at an even entry and is bounded by the offset two entries later, or
// by the end of the log when the index stops at a time with no offset.
type IndexTable struct {
	values   []float64
	warnings []string
}

// ToEOF is the End of a range that runs to the end of the log.
const ToEOF int64 = -1

// ByteRange is a half-open range [Start, End) of log file bytes.
type ByteRange struct {
	Start int64
	End   int64
}

// OpenEnded reports whether the range runs to the end of the log.
func (r ByteRange) OpenEnded() bool {
	return r.End == ToEOF
}

// Resolve returns r with an open end replaced by size.
func (r ByteRange) Resolve(size int64) ByteRange {
	if r.OpenEnded() {
		r.End = size
	}
	return r
}

// Len returns the number of bytes in the range. An open-ended range has no
// known length and reports 0.
func (r ByteRange) Len() int64 {
	if r.OpenEnded() {
		return 0
	}
	return r.End - r.Start
}

func (r ByteRange) String() string {
	if r.OpenEnded() {
		return fmt.Sprintf("[%d,EOF)", r.Start)
	}
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// BlockInfo describes one loadable block of the log. Err is set when the
// block's offsets are not usable byte positions; Range is then zero.
type BlockInfo struct {
	Entry   int
	SimTime float64
	Range   ByteRange
	Err     error
}

// ParseIndex parses whitespace-separated index text.
//
// Index files are written with a trailing separator, so input ending in
// whitespace is the normal case. When the final token is not followed by
// whitespace it is still parsed, but the table records a warning for the
// caller to surface. Any token that is not a number fails the whole parse.
func ParseIndex(raw string) (*IndexTable, error) {
	tokens := strings.Fields(raw)
	t := &IndexTable{values: make([]float64, 0, len(tokens))}

	if n := len(tokens); n > 0 {
		last, _ := utf8.DecodeLastRuneInString(raw)
		if !unicode.IsSpace(last) {
			t.warnings = append(t.warnings,
				fmt.Sprintf("last index token %q was not followed by whitespace", tokens[n-1]))
		}
	}

	for i, tok := range tokens {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil || math.IsNaN(v) {
			return nil, fmt.Errorf("%w: token %d %q is not a number", ErrIndexParse, i, tok)
		}
		t.values = append(t.values, v)
	}

	if len(t.values)%2 != 0 {
		t.warnings = append(t.warnings,
			fmt.Sprintf("index has odd token count %d; last block runs to end of log", len(t.values)))
	}
	return t, nil
}

// Len returns the number of entries (tokens) in the table.
func (t *IndexTable) Len() int {
	return len(t.values)
}

// Value returns the raw entry at i.
func (t *IndexTable) Value(i int) float64 {
	return t.values[i]
}

// Values returns a copy of all entries.
func (t *IndexTable) Values() []float64 {
	out := make([]float64, len(t.values))
	copy(out, t.values)
	return out
}

// Warnings returns non-fatal anomalies found while parsing.
func (t *IndexTable) Warnings() []string {
	return t.warnings
}

// HasBlock reports whether entry addresses a loadable block: it must be even
// and followed by at least one more time.
func (t *IndexTable) HasBlock(entry int) bool {
	return entry >= 0 && entry%2 == 0 && entry < len(t.values)-2
}

// BlockCount returns the number of loadable blocks.
func (t *IndexTable) BlockCount() int {
	n := 0
	for e := 0; t.HasBlock(e); e += 2 {
		n++
	}
	return n
}

// SimTime returns the simulation time stored at an even entry.
func (t *IndexTable) SimTime(entry int) float64 {
	return t.values[entry]
}

// MaxSimTime returns the last time in the table, or 0 for an empty table.
// A final time with no offset still counts; it closes the open-ended last
// block.
func (t *IndexTable) MaxSimTime() float64 {
	n := len(t.values)
	switch {
	case n == 0:
		return 0
	case n%2 == 1:
		return t.values[n-1]
	default:
		return t.values[n-2]
	}
}

// Range returns the byte range of the block starting at entry. Offsets must
// be non-negative integers and the range must not be inverted. When no offset
// follows the next time, End is ToEOF.
func (t *IndexTable) Range(entry int) (ByteRange, error) {
	if !t.HasBlock(entry) {
		return ByteRange{}, fmt.Errorf("entry %d has no block", entry)
	}
	start, err := offsetAt(t.values[entry+1])
	if err != nil {
		return ByteRange{}, fmt.Errorf("entry %d start: %w", entry, err)
	}
	if entry+3 >= len(t.values) {
		return ByteRange{Start: start, End: ToEOF}, nil
	}
	end, err := offsetAt(t.values[entry+3])
	if err != nil {
		return ByteRange{}, fmt.Errorf("entry %d end: %w", entry, err)
	}
	if end < start {
		return ByteRange{}, fmt.Errorf("entry %d range %d..%d is inverted", entry, start, end)
	}
	return ByteRange{Start: start, End: end}, nil
}

// Blocks lists every loadable block. Blocks whose offsets are invalid carry
// the range error.
func (t *IndexTable) Blocks() []BlockInfo {
	var out []BlockInfo
	for e := 0; t.HasBlock(e); e += 2 {
		r, err := t.Range(e)
		out = append(out, BlockInfo{Entry: e, SimTime: t.values[e], Range: r, Err: err})
	}
	return out
}

// LastBlockAtOrBefore returns the entry of the last block whose time is not
// after simTime, or -1 if the first block is already later.
func (t *IndexTable) LastBlockAtOrBefore(simTime float64) int {
	last := -1
	for e := 0; t.HasBlock(e); e += 2 {
		if t.values[e] > simTime {
			break
		}
		last = e
	}
	return last
}

func offsetAt(v float64) (int64, error) {
	if v < 0 || v != math.Trunc(v) || math.IsInf(v, 0) || v > math.MaxInt64 {
		return 0, fmt.Errorf("offset %v is not a byte position", v)
	}
	return int64(v), nil
}
