package replay

import (
	"fmt"
	"io"
	"io/fs"
	"strings"
)

const (
	// DefaultIndexSuffix marks the index half of a recording.
	DefaultIndexSuffix = "_index"

	// DefaultMaxIndexBytes bounds index files read by OpenFiles.
	DefaultMaxIndexBytes = 64 << 20
)

// NamedFile is one user-supplied file.
type NamedFile struct {
	Name string
	File fs.File
}

// SelectFiles picks the index and the log out of exactly two files. The
// index is the file whose name ends in suffix; if both do, the first wins.
func SelectFiles(files []NamedFile, suffix string) (index, log NamedFile, err error) {
	if len(files) != 2 {
		return NamedFile{}, NamedFile{}, fmt.Errorf("%w: please select simulation log and index files (got %d files)", ErrFileSelection, len(files))
	}
	switch {
	case strings.HasSuffix(files[0].Name, suffix):
		return files[0], files[1], nil
	case strings.HasSuffix(files[1].Name, suffix):
		return files[1], files[0], nil
	}
	return NamedFile{}, NamedFile{}, fmt.Errorf("%w: neither %q nor %q has %q ending; please select simulation log and index files",
		ErrFileSelection, files[0].Name, files[1].Name, suffix)
}

// OpenFiles selects the index and log from files, reads the index and loads
// the session. Selection and index errors leave the engine unchanged.
func (e *Engine) OpenFiles(files []NamedFile) error {
	index, log, err := SelectFiles(files, e.opts.IndexSuffix)
	if err != nil {
		return err
	}

	raw, err := io.ReadAll(io.LimitReader(index.File, e.opts.MaxIndexBytes+1))
	if err != nil {
		return fmt.Errorf("failed to read index %s: %w", index.Name, err)
	}
	if int64(len(raw)) > e.opts.MaxIndexBytes {
		return fmt.Errorf("index %s larger than %d bytes", index.Name, e.opts.MaxIndexBytes)
	}

	src, err := NewLogSource(log.File)
	if err != nil {
		return fmt.Errorf("log %s: %w", log.Name, err)
	}
	if err := e.LoadSession(string(raw), src); err != nil {
		return fmt.Errorf("index %s: %w", index.Name, err)
	}
	return nil
}
