package replay

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Listener that keeps everything it is told.
type recorder struct {
	mu        sync.Mutex
	order     []string
	changes   []ChangeEvent
	completes []Cursor
	failures  []error
}

func (r *recorder) AgentsChanged(ev ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, "change")
	r.changes = append(r.changes, ev)
}

func (r *recorder) SessionComplete(c Cursor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, "complete")
	r.completes = append(r.completes, c)
}

func (r *recorder) SessionFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, "failed")
	r.failures = append(r.failures, err)
}

// padBlock right-pads text with newlines to exactly n bytes.
func padBlock(t *testing.T, text string, n int) string {
	t.Helper()
	require.LessOrEqual(t, len(text), n)
	return text + strings.Repeat("\n", n-len(text))
}

const twoBlockIndex = "0 0 5 50 10 120 "

// twoBlockLog matches twoBlockIndex: [0,50) at t=0 and [50,120) at t=5.
func twoBlockLog(t *testing.T) string {
	return padBlock(t, "1 41.88 -87.63 FREE\n2 41.89 -87.64 BUSY\n", 50) +
		padBlock(t, "1 41.90 -87.65 PICKING_UP\n3 41.70 -87.60 2\n", 70)
}

var (
	afterBlock0 = []AgentRecord{
		{ID: 1, Latitude: 41.88, Longitude: -87.63, Status: StatusFree},
		{ID: 2, Latitude: 41.89, Longitude: -87.64, Status: StatusBusy},
	}
	afterBlock1 = []AgentRecord{
		{ID: 1, Latitude: 41.90, Longitude: -87.65, Status: StatusPickingUp},
		{ID: 2, Latitude: 41.89, Longitude: -87.64, Status: StatusBusy},
		{ID: 3, Latitude: 41.70, Longitude: -87.60, Status: StatusPickingUp},
	}
)

func newInlineEngine(t *testing.T, opts Options) (*Engine, *recorder) {
	t.Helper()
	opts.Scheduler = InlineScheduler{}
	e := NewEngine(opts)
	rec := &recorder{}
	e.AddListener(rec)
	return e, rec
}

func TestEngine_EndToEnd(t *testing.T) {
	e, rec := newInlineEngine(t, Options{})
	assert.Equal(t, StateEmpty, e.State())

	require.NoError(t, e.LoadSession(twoBlockIndex, strings.NewReader(twoBlockLog(t))))
	assert.Equal(t, StateReady, e.State())
	assert.Empty(t, e.Snapshot(), "loading a session applies nothing")

	e.Advance()
	if diff := cmp.Diff(afterBlock0, e.Snapshot()); diff != "" {
		t.Fatalf("after first advance (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0.0, e.Cursor().SimTime)
	assert.Equal(t, StateReady, e.State())

	e.Advance()
	if diff := cmp.Diff(afterBlock1, e.Snapshot()); diff != "" {
		t.Fatalf("after second advance (-want +got):\n%s", diff)
	}
	assert.Equal(t, StateDone, e.State())

	e.Advance()
	assert.Equal(t, afterBlock1, e.Snapshot())
	assert.Equal(t, StateDone, e.State())

	assert.Equal(t, []string{"change", "change", "complete"}, rec.order)
	assert.Equal(t, Cursor{
		Generation: 1,
		EntryIndex: 2,
		SimTime:    5,
		MaxSimTime: 10,
		Applied:    2,
		Blocks:     2,
	}, rec.completes[0])

	second := rec.changes[1]
	assert.Equal(t, 2, second.EntryIndex)
	assert.Equal(t, 5.0, second.SimTime)
	assert.Equal(t, []int{0, 2}, second.Indices)
	assert.Equal(t, []AgentRecord{afterBlock1[0], afterBlock1[2]}, second.Agents)

	agent, ok := e.Agent(3)
	assert.True(t, ok)
	assert.Equal(t, afterBlock1[2], agent)
	_, ok = e.Agent(4)
	assert.False(t, ok)
}

func TestEngine_AsyncLoads(t *testing.T) {
	sched := &GoroutineScheduler{}
	e := NewEngine(Options{Scheduler: sched})

	require.NoError(t, e.LoadSession(twoBlockIndex, strings.NewReader(twoBlockLog(t))))
	// Advancing before the first block arrives applies it on arrival.
	e.Advance()
	sched.Wait()
	assert.Equal(t, afterBlock0, e.Snapshot())

	e.Advance()
	sched.Wait()
	assert.Equal(t, afterBlock1, e.Snapshot())
	assert.Equal(t, StateDone, e.State())
}

func TestEngine_AdvanceBeforeArrivalQueues(t *testing.T) {
	sched := &ManualScheduler{}
	e := NewEngine(Options{Scheduler: sched})
	require.NoError(t, e.LoadSession(twoBlockIndex, strings.NewReader(twoBlockLog(t))))

	e.Advance()
	e.Advance()
	assert.Equal(t, StateLoadingBlock, e.State())
	assert.Empty(t, e.Snapshot())

	assert.Equal(t, 2, sched.RunPending())
	assert.Equal(t, afterBlock1, e.Snapshot())
	assert.Equal(t, StateDone, e.State())
}

func TestEngine_ApplyBlockIsIdempotent(t *testing.T) {
	e, rec := newInlineEngine(t, Options{})
	require.NoError(t, e.LoadSession(twoBlockIndex, strings.NewReader(twoBlockLog(t))))

	updates := []AgentUpdate{
		{AgentID: 5, Latitude: 1, Longitude: 2, Status: StatusFree},
		{AgentID: 6, Latitude: 3, Longitude: 4, Status: StatusBusy},
		{AgentID: 5, Latitude: 7, Longitude: 8, Status: StatusBusy},
	}
	first := e.ApplyBlock(2, updates)
	once := e.Snapshot()
	second := e.ApplyBlock(2, updates)

	assert.Equal(t, []int{0, 1}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, once, e.Snapshot())
	assert.Equal(t, []AgentRecord{
		{ID: 5, Latitude: 7, Longitude: 8, Status: StatusBusy},
		{ID: 6, Latitude: 3, Longitude: 4, Status: StatusBusy},
	}, once)
	require.Len(t, rec.changes, 2)
	assert.Equal(t, 5.0, rec.changes[0].SimTime)

	assert.Empty(t, e.ApplyBlock(4, nil))
	assert.Len(t, rec.changes, 2)
}

func TestEngine_LoadCountMatchesBlocks(t *testing.T) {
	src := &countingSource{LogSource: strings.NewReader(strings.Repeat("\n", 400))}
	e, _ := newInlineEngine(t, Options{})
	require.NoError(t, e.LoadSession("0 0 5 100 10 250 15 400 ", src))

	// len/2 - 1 advances reach the end
	for i := 0; i < 3; i++ {
		assert.Equal(t, StateReady, e.State(), "advance %d", i)
		e.Advance()
	}
	assert.Equal(t, StateDone, e.State())
	assert.Equal(t, int32(3), src.reads.Load())

	e.Advance()
	e.Advance()
	assert.Equal(t, int32(3), src.reads.Load())
	assert.Equal(t, 3, e.Cursor().Applied)
}

func TestEngine_StaleLoadIsDropped(t *testing.T) {
	sched := &ManualScheduler{}
	e := NewEngine(Options{Scheduler: sched})
	rec := &recorder{}
	e.AddListener(rec)

	require.NoError(t, e.LoadSession(twoBlockIndex, strings.NewReader(twoBlockLog(t))))
	other := padBlock(t, "77 10 20 FREE\n", 30) + padBlock(t, "78 11 21 BUSY\n", 30)
	require.NoError(t, e.LoadSession("0 0 1 30 2 60 ", strings.NewReader(other)))
	require.Equal(t, 2, sched.Pending())

	// first session's load completes late
	require.True(t, sched.RunNext())
	assert.Equal(t, StateLoadingBlock, e.State())
	assert.Empty(t, e.Snapshot())
	assert.Empty(t, rec.order)

	require.True(t, sched.RunNext())
	assert.Equal(t, StateReady, e.State())
	e.Advance()
	assert.Equal(t, []AgentRecord{{ID: 77, Latitude: 10, Longitude: 20, Status: StatusFree}}, e.Snapshot())
	require.Len(t, rec.changes, 1)
	assert.Equal(t, uint64(2), rec.changes[0].Generation)
}

func TestEngine_NewSessionClearsRegistry(t *testing.T) {
	e, _ := newInlineEngine(t, Options{})
	require.NoError(t, e.LoadSession(twoBlockIndex, strings.NewReader(twoBlockLog(t))))
	e.Advance()
	require.Len(t, e.Snapshot(), 2)

	require.NoError(t, e.LoadSession(twoBlockIndex, strings.NewReader(twoBlockLog(t))))
	assert.Empty(t, e.Snapshot())
	assert.Equal(t, uint64(2), e.Cursor().Generation)
	assert.Equal(t, 0, e.Cursor().Applied)
}

func TestEngine_IndexErrorLeavesSessionUntouched(t *testing.T) {
	e, _ := newInlineEngine(t, Options{})
	require.NoError(t, e.LoadSession(twoBlockIndex, strings.NewReader(twoBlockLog(t))))
	e.Advance()
	before := e.Cursor()

	err := e.LoadSession("0 0 five 50 ", strings.NewReader("x"))
	assert.True(t, errors.Is(err, ErrIndexParse))
	assert.Equal(t, StateReady, e.State())
	assert.Equal(t, before, e.Cursor())
	assert.Equal(t, afterBlock0, e.Snapshot())

	e.Advance()
	assert.Equal(t, afterBlock1, e.Snapshot())
}

func TestEngine_NilSource(t *testing.T) {
	e, _ := newInlineEngine(t, Options{})
	err := e.LoadSession(twoBlockIndex, nil)
	assert.True(t, errors.Is(err, ErrFileSelection))
	assert.Equal(t, StateEmpty, e.State())
}

func TestEngine_EmptyIndexCompletesImmediately(t *testing.T) {
	e, rec := newInlineEngine(t, Options{})
	require.NoError(t, e.LoadSession("", strings.NewReader("")))
	assert.Equal(t, StateDone, e.State())
	assert.Equal(t, []string{"complete"}, rec.order)

	e.Advance()
	assert.Empty(t, e.Snapshot())
}

func TestEngine_BlockReadFailure(t *testing.T) {
	e, rec := newInlineEngine(t, Options{})
	// log is shorter than the first block
	require.NoError(t, e.LoadSession(twoBlockIndex, strings.NewReader("1 2 3 1\n")))

	assert.Equal(t, StateError, e.State())
	assert.True(t, errors.Is(e.Err(), ErrBlockRead))
	require.Len(t, rec.failures, 1)
	assert.True(t, errors.Is(rec.failures[0], ErrBlockRead))

	e.Advance()
	assert.Equal(t, StateError, e.State())
	assert.Empty(t, e.Snapshot())
}

func TestEngine_FailureOnLaterBlockKeepsApplied(t *testing.T) {
	e, rec := newInlineEngine(t, Options{})
	log := padBlock(t, "1 41.88 -87.63 FREE\n2 41.89 -87.64 BUSY\n", 50) + "short"
	require.NoError(t, e.LoadSession(twoBlockIndex, strings.NewReader(log)))

	// block 2 is prefetched when block 0 is applied, and fails then
	e.Advance()
	assert.Equal(t, StateError, e.State())
	assert.Equal(t, afterBlock0, e.Snapshot())
	assert.Equal(t, []string{"change", "failed"}, rec.order)
}

func TestEngine_FailureCarriesGeneration(t *testing.T) {
	e, rec := newInlineEngine(t, Options{})
	require.NoError(t, e.LoadSession(twoBlockIndex, strings.NewReader("short")))
	require.NoError(t, e.Rewind())

	require.Len(t, rec.failures, 2)
	for i, err := range rec.failures {
		var se *SessionError
		require.True(t, errors.As(err, &se), "failure %d: %v", i, err)
		assert.Equal(t, uint64(i+1), se.Generation)
		assert.True(t, errors.Is(err, ErrBlockRead))
	}
	assert.Equal(t, rec.failures[1], e.Err())
}

func TestEngine_IndexEndingInTimeReadsLastBlockToEOF(t *testing.T) {
	e, rec := newInlineEngine(t, Options{})
	log := "1 1 1 FREE\n2 2 2 BUSY\n"
	require.NoError(t, e.LoadSession("0 0 5 11 10 ", strings.NewReader(log)))

	e.Advance()
	e.Advance()
	assert.Equal(t, StateDone, e.State())
	assert.Equal(t, []AgentRecord{
		{ID: 1, Latitude: 1, Longitude: 1, Status: StatusFree},
		{ID: 2, Latitude: 2, Longitude: 2, Status: StatusBusy},
	}, e.Snapshot())

	require.Len(t, rec.completes, 1)
	assert.Equal(t, 2, rec.completes[0].Blocks)
	assert.Equal(t, 2, rec.completes[0].Applied)
	assert.Equal(t, 10.0, rec.completes[0].MaxSimTime)
}

func TestEngine_MalformedRecordStrict(t *testing.T) {
	e, _ := newInlineEngine(t, Options{})
	log := padBlock(t, "1 41.88 -87.63 FREE\nnot a record\n", 50) + padBlock(t, "", 70)
	require.NoError(t, e.LoadSession(twoBlockIndex, strings.NewReader(log)))

	assert.Equal(t, StateError, e.State())
	var le *LineError
	require.True(t, errors.As(e.Err(), &le))
	assert.Equal(t, 2, le.Line)
	assert.True(t, errors.Is(e.Err(), ErrRecordParse))
}

func TestEngine_MalformedRecordLenient(t *testing.T) {
	e, _ := newInlineEngine(t, Options{LenientRecords: true})
	log := padBlock(t, "1 41.88 -87.63 FREE\nnot a record\n", 50) + padBlock(t, "", 70)
	require.NoError(t, e.LoadSession(twoBlockIndex, strings.NewReader(log)))

	e.Advance()
	assert.Equal(t, []AgentRecord{afterBlock0[0]}, e.Snapshot())
	e.Advance()
	assert.Equal(t, StateDone, e.State())
}

func TestEngine_SeekTo(t *testing.T) {
	tests := []struct {
		name    string
		simTime float64
		want    []AgentRecord
		state   State
	}{
		{"before first block", -1, []AgentRecord{}, StateReady},
		{"first block", 0, afterBlock0, StateReady},
		{"between blocks", 4.5, afterBlock0, StateReady},
		{"last block", 5, afterBlock1, StateDone},
		{"past the end", 100, afterBlock1, StateDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newInlineEngine(t, Options{})
			require.NoError(t, e.LoadSession(twoBlockIndex, strings.NewReader(twoBlockLog(t))))
			e.Advance()
			e.Advance()

			require.NoError(t, e.SeekTo(tt.simTime))
			assert.Equal(t, tt.want, e.Snapshot())
			assert.Equal(t, tt.state, e.State())
			assert.Equal(t, uint64(2), e.Cursor().Generation)
		})
	}
}

func TestEngine_SeekToUsesTableOfSessionItRestarts(t *testing.T) {
	// every block of early is at or before t=5; only the first of late is
	const early = "0 0 1 11 2 22 3 33 "
	const late = "0 0 10 11 20 22 30 33 "
	log := strings.Repeat("1 1 1 FREE\n", 3) // one 11-byte line per block

	for i := 0; i < 200; i++ {
		e := NewEngine(Options{Scheduler: InlineScheduler{}})
		require.NoError(t, e.LoadSession(early, strings.NewReader(log)))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.SeekTo(5))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, e.LoadSession(late, strings.NewReader(log)))
		}()
		wg.Wait()

		// late either replaced the seek (0 applied) or was seeked (1 applied)
		if applied := e.Cursor().Applied; applied > 1 {
			t.Fatalf("iteration %d: applied %d blocks of late session, want at most 1", i, applied)
		}
	}
}

func TestEngine_Rewind(t *testing.T) {
	e, _ := newInlineEngine(t, Options{})
	assert.Error(t, e.Rewind())
	assert.Error(t, e.SeekTo(0))

	require.NoError(t, e.LoadSession(twoBlockIndex, strings.NewReader(twoBlockLog(t))))
	e.Advance()
	e.Advance()
	require.Equal(t, StateDone, e.State())

	require.NoError(t, e.Rewind())
	assert.Equal(t, StateReady, e.State())
	assert.Empty(t, e.Snapshot())

	e.Advance()
	assert.Equal(t, afterBlock0, e.Snapshot())
}

func TestEngine_Seed(t *testing.T) {
	e, rec := newInlineEngine(t, Options{})
	require.NoError(t, e.LoadSession(twoBlockIndex, strings.NewReader(twoBlockLog(t))))

	seeded := AgentRecord{ID: 9, Latitude: 41.5, Longitude: -87.5, Status: StatusFree}
	e.Seed(seeded)
	e.Advance()

	assert.Equal(t, append([]AgentRecord{seeded}, afterBlock0...), e.Snapshot())
	require.Len(t, rec.changes, 2)
	assert.Equal(t, -1, rec.changes[0].EntryIndex)
}

func TestEngine_Close(t *testing.T) {
	sched := &ManualScheduler{}
	e := NewEngine(Options{Scheduler: sched})
	rec := &recorder{}
	e.AddListener(rec)
	require.NoError(t, e.LoadSession(twoBlockIndex, strings.NewReader(twoBlockLog(t))))

	e.Close()
	sched.RunPending()

	assert.Equal(t, StateEmpty, e.State())
	assert.Empty(t, rec.order)
	e.Advance()
	assert.Empty(t, e.Snapshot())
	assert.NotNil(t, e.Table())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "loading-block", StateLoadingBlock.String())
	assert.Equal(t, "State(42)", State(42).String())
}
