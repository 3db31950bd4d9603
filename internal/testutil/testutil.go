// Package testutil builds small recordings for tests.
package testutil

import (
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/banshee-data/cabreplay/internal/fsutil"
)

// Block is one time block of a test recording.
type Block struct {
	SimTime float64
	Lines   []string
}

// BuildRecording returns matching index and log text for blocks. A closing
// index pair repeats the last block's time at the end-of-log offset, so
// every block is loadable.
func BuildRecording(blocks ...Block) (index, log string) {
	var idx, lg strings.Builder
	writePair := func(simTime float64, offset int) {
		idx.WriteString(strconv.FormatFloat(simTime, 'g', -1, 64))
		idx.WriteByte(' ')
		idx.WriteString(strconv.Itoa(offset))
		idx.WriteByte('\n')
	}
	for _, b := range blocks {
		writePair(b.SimTime, lg.Len())
		for _, line := range b.Lines {
			lg.WriteString(line)
			lg.WriteByte('\n')
		}
	}
	if n := len(blocks); n > 0 {
		writePair(blocks[n-1].SimTime, lg.Len())
	}
	return idx.String(), lg.String()
}

// WriteRecording writes name.log and name_index under dir in fsys and
// returns their paths.
func WriteRecording(t testing.TB, fsys fsutil.FileSystem, dir, name string, blocks ...Block) (logPath, indexPath string) {
	t.Helper()
	index, log := BuildRecording(blocks...)

	if err := fsys.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	logPath = filepath.Join(dir, name+".log")
	indexPath = filepath.Join(dir, name+"_index")
	if err := fsys.WriteFile(logPath, []byte(log), 0644); err != nil {
		t.Fatalf("write %s: %v", logPath, err)
	}
	if err := fsys.WriteFile(indexPath, []byte(index), 0644); err != nil {
		t.Fatalf("write %s: %v", indexPath, err)
	}
	return logPath, indexPath
}

// Chicago is a three-block recording of three cabs.
func Chicago() []Block {
	return []Block{
		{SimTime: 0, Lines: []string{
			"1 41.8781 -87.6298 FREE",
			"2 41.8827 -87.6233 BUSY",
		}},
		{SimTime: 10, Lines: []string{
			"1 41.8790 -87.6301 PICKING_UP",
			"3 41.8676 -87.6140 FREE",
		}},
		{SimTime: 20, Lines: []string{
			"1 41.8801 -87.6310 BUSY",
			"2 41.8850 -87.6200 FREE",
		}},
	}
}
