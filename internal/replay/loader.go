package replay

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"strings"
)

// LogSource is random-access storage for a recorded log. *os.File does not
// report its size; wrap it with NewLogSource. *bytes.Reader, *strings.Reader
// and *io.SectionReader satisfy it directly.
type LogSource interface {
	io.ReaderAt
	Size() int64
}

// NewLogSource adapts an opened file to a LogSource. The file must support
// io.ReaderAt.
func NewLogSource(f fs.File) (LogSource, error) {
	ra, ok := f.(io.ReaderAt)
	if !ok {
		return nil, fmt.Errorf("log file does not support random access")
	}
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}
	return io.NewSectionReader(ra, 0, info.Size()), nil
}

// Block is the raw text of one time block.
type Block struct {
	Entry   int
	SimTime float64
	Range   ByteRange
	data    []byte
}

// Size returns the number of bytes read.
func (b *Block) Size() int {
	return len(b.data)
}

// Lines yields the block's lines without their line terminators. A trailing
// newline produces a final empty line.
func (b *Block) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		for line := range strings.SplitSeq(string(b.data), "\n") {
			if !yield(strings.TrimSuffix(line, "\r")) {
				return
			}
		}
	}
}

// BlockLoader reads blocks of a log as delimited by its index.
type BlockLoader struct {
	table *IndexTable
	src   LogSource
	sched Scheduler
}

// NewBlockLoader returns a loader for src. A nil scheduler runs loads on
// goroutines.
func NewBlockLoader(table *IndexTable, src LogSource, sched Scheduler) *BlockLoader {
	if sched == nil {
		sched = &GoroutineScheduler{}
	}
	return &BlockLoader{table: table, src: src, sched: sched}
}

// Table returns the index the loader reads against.
func (l *BlockLoader) Table() *IndexTable {
	return l.table
}

// Load starts reading the block at entry and reports the result to done.
// When entry has no block (odd, negative, or the last time in the index)
// nothing is read, done is never called, and Load returns false.
func (l *BlockLoader) Load(ctx context.Context, entry int, done func(*Block, error)) bool {
	if !l.table.HasBlock(entry) {
		return false
	}
	l.sched.Go(func() {
		done(l.Read(ctx, entry))
	})
	return true
}

// Read synchronously reads the block at entry. An open-ended block reads
// to the end of the log.
func (l *BlockLoader) Read(ctx context.Context, entry int) (*Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: entry %d: %v", ErrBlockRead, entry, err)
	}
	r, err := l.table.Range(entry)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlockRead, err)
	}
	size := l.src.Size()
	if r.Start > size || r.End > size {
		return nil, fmt.Errorf("%w: entry %d range %s exceeds log size %d", ErrBlockRead, entry, r, size)
	}
	r = r.Resolve(size)

	buf := make([]byte, r.Len())
	if _, err := io.ReadFull(io.NewSectionReader(l.src, r.Start, r.Len()), buf); err != nil {
		return nil, fmt.Errorf("%w: entry %d range %s: %v", ErrBlockRead, entry, r, err)
	}
	return &Block{
		Entry:   entry,
		SimTime: l.table.SimTime(entry),
		Range:   r,
		data:    buf,
	}, nil
}
