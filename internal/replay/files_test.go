package replay

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAll(t *testing.T, fsys fstest.MapFS, names ...string) []NamedFile {
	t.Helper()
	out := make([]NamedFile, 0, len(names))
	for _, name := range names {
		f, err := fsys.Open(name)
		require.NoError(t, err)
		t.Cleanup(func() { f.Close() })
		out = append(out, NamedFile{Name: name, File: f})
	}
	return out
}

func TestSelectFiles(t *testing.T) {
	a := NamedFile{Name: "chicago.log"}
	b := NamedFile{Name: "chicago_index"}
	c := NamedFile{Name: "other_index"}

	tests := []struct {
		name      string
		files     []NamedFile
		wantIndex string
		wantLog   string
		wantErr   bool
	}{
		{"index second", []NamedFile{a, b}, "chicago_index", "chicago.log", false},
		{"index first", []NamedFile{b, a}, "chicago_index", "chicago.log", false},
		{"both indexes, first wins", []NamedFile{c, b}, "other_index", "chicago_index", false},
		{"no index", []NamedFile{a, a}, "", "", true},
		{"one file", []NamedFile{b}, "", "", true},
		{"three files", []NamedFile{a, b, c}, "", "", true},
		{"none", nil, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index, log, err := SelectFiles(tt.files, DefaultIndexSuffix)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrFileSelection), "err = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantIndex, index.Name)
			assert.Equal(t, tt.wantLog, log.Name)
		})
	}
}

func TestEngine_OpenFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"run.log":   &fstest.MapFile{Data: []byte(twoBlockLog(t))},
		"run_index": &fstest.MapFile{Data: []byte(twoBlockIndex)},
	}
	e, _ := newInlineEngine(t, Options{})

	require.NoError(t, e.OpenFiles(openAll(t, fsys, "run.log", "run_index")))
	e.Advance()
	e.Advance()
	assert.Equal(t, afterBlock1, e.Snapshot())
	assert.Equal(t, StateDone, e.State())
}

func TestEngine_OpenFilesCustomSuffix(t *testing.T) {
	fsys := fstest.MapFS{
		"run.log": &fstest.MapFile{Data: []byte(twoBlockLog(t))},
		"run.idx": &fstest.MapFile{Data: []byte(twoBlockIndex)},
	}
	e, _ := newInlineEngine(t, Options{IndexSuffix: ".idx"})

	require.NoError(t, e.OpenFiles(openAll(t, fsys, "run.idx", "run.log")))
	assert.Equal(t, StateReady, e.State())
}

func TestEngine_OpenFilesErrors(t *testing.T) {
	fsys := fstest.MapFS{
		"run.log":   &fstest.MapFile{Data: []byte(twoBlockLog(t))},
		"run_index": &fstest.MapFile{Data: []byte(twoBlockIndex)},
		"bad_index": &fstest.MapFile{Data: []byte("0 0 x ")},
		"big_index": &fstest.MapFile{Data: []byte("0 0 5 50 10 120 15 200 20 300 ")},
	}

	t.Run("wrong selection", func(t *testing.T) {
		e, _ := newInlineEngine(t, Options{})
		err := e.OpenFiles(openAll(t, fsys, "run.log"))
		assert.True(t, errors.Is(err, ErrFileSelection))
		assert.Equal(t, StateEmpty, e.State())
	})

	t.Run("bad index", func(t *testing.T) {
		e, _ := newInlineEngine(t, Options{})
		err := e.OpenFiles(openAll(t, fsys, "run.log", "bad_index"))
		assert.True(t, errors.Is(err, ErrIndexParse))
		assert.Contains(t, err.Error(), "bad_index")
		assert.Equal(t, StateEmpty, e.State())
	})

	t.Run("index too large", func(t *testing.T) {
		e, _ := newInlineEngine(t, Options{MaxIndexBytes: 16})
		err := e.OpenFiles(openAll(t, fsys, "run.log", "big_index"))
		assert.ErrorContains(t, err, "larger than 16 bytes")
		assert.Equal(t, StateEmpty, e.State())
	})
}
