package replay

import (
	"context"
	"fmt"
	"sync"

	"github.com/banshee-data/cabreplay/internal/monitoring"
)

// State is the engine's session state.
type State int

const (
	StateEmpty State = iota
	StateLoadingIndex
	StateReady
	StateLoadingBlock
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoadingIndex:
		return "loading-index"
	case StateReady:
		return "ready"
	case StateLoadingBlock:
		return "loading-block"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Cursor reports playback progress.
type Cursor struct {
	Generation uint64
	EntryIndex int     // entry of the block most recently requested
	SimTime    float64 // time of the last applied block
	MaxSimTime float64
	Applied    int // blocks applied this session
	Blocks     int // loadable blocks in the index
}

// ChangeEvent lists the agents touched by one applied block. Indices are
// registry positions (stable first-insertion order); Agents holds the new
// state of each, in the same order.
type ChangeEvent struct {
	Generation uint64
	EntryIndex int
	SimTime    float64
	Indices    []int
	Agents     []AgentRecord
}

// Listener receives playback output. Callbacks run without the engine lock
// held, possibly on a loader goroutine, and are delivered in block order.
type Listener interface {
	AgentsChanged(ev ChangeEvent)
	SessionComplete(c Cursor)
	SessionFailed(err error) // err is a *SessionError
}

// Options configures an Engine.
type Options struct {
	// Scheduler runs block loads. Nil means one goroutine per load.
	Scheduler Scheduler

	// LenientRecords skips malformed log lines with a warning instead of
	// failing the session.
	LenientRecords bool

	// IndexSuffix identifies the index file in OpenFiles. Defaults to
	// DefaultIndexSuffix.
	IndexSuffix string

	// MaxIndexBytes bounds how much of an index file OpenFiles reads.
	// Zero means DefaultMaxIndexBytes.
	MaxIndexBytes int64
}

type stagedBlock struct {
	entry   int
	simTime float64
	updates []AgentUpdate
}

// Engine replays one recording at a time. Each call to Advance applies the
// next time block; the block after it is prefetched so that at most one load
// is ever in flight.
type Engine struct {
	mu        sync.Mutex
	opts      Options
	listeners []Listener

	state    State
	gen      uint64
	cancel   context.CancelFunc
	ctx      context.Context
	table    *IndexTable
	src      LogSource
	loader   *BlockLoader
	registry *Registry
	err      error

	entry   int
	simTime float64
	applied int

	staged *stagedBlock
	wanted int
}

// NewEngine returns an engine in StateEmpty.
func NewEngine(opts Options) *Engine {
	if opts.Scheduler == nil {
		opts.Scheduler = &GoroutineScheduler{}
	}
	if opts.IndexSuffix == "" {
		opts.IndexSuffix = DefaultIndexSuffix
	}
	if opts.MaxIndexBytes <= 0 {
		opts.MaxIndexBytes = DefaultMaxIndexBytes
	}
	return &Engine{
		opts:     opts,
		registry: NewRegistry(),
		ctx:      context.Background(),
		cancel:   func() {},
	}
}

// AddListener registers l for all future sessions.
func (e *Engine) AddListener(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// effects collects work to do once the lock is released.
type effects struct {
	listeners []Listener
	changes   []ChangeEvent
	complete  *Cursor
	failed    error
	loads     []func()
}

func (e *Engine) run(fx *effects) {
	for _, ev := range fx.changes {
		for _, l := range fx.listeners {
			l.AgentsChanged(ev)
		}
	}
	if fx.complete != nil {
		for _, l := range fx.listeners {
			l.SessionComplete(*fx.complete)
		}
	}
	if fx.failed != nil {
		for _, l := range fx.listeners {
			l.SessionFailed(fx.failed)
		}
	}
	// Loads go last so an inline scheduler cannot reorder notifications.
	for _, load := range fx.loads {
		load()
	}
}

func (e *Engine) newEffects() *effects {
	return &effects{listeners: append([]Listener(nil), e.listeners...)}
}

// LoadSession parses indexText and starts replaying src against it. On an
// index parse error the engine is left exactly as it was. Otherwise the
// registry is cleared, any load from the previous session is invalidated, and
// the first block is requested.
func (e *Engine) LoadSession(indexText string, src LogSource) error {
	if src == nil {
		return fmt.Errorf("%w: no log source", ErrFileSelection)
	}

	e.mu.Lock()
	prev := e.state
	e.state = StateLoadingIndex
	table, err := ParseIndex(indexText)
	if err != nil {
		e.state = prev
		e.mu.Unlock()
		return err
	}
	for _, w := range table.Warnings() {
		monitoring.Warnf("index: %s", w)
	}

	fx := e.newEffects()
	e.start(table, src, fx)
	e.mu.Unlock()

	e.run(fx)
	return nil
}

// start resets all session state. Caller holds e.mu.
func (e *Engine) start(table *IndexTable, src LogSource, fx *effects) {
	e.cancel()
	e.gen++
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.table = table
	e.src = src
	e.loader = NewBlockLoader(table, src, e.opts.Scheduler)
	e.registry.Reset()
	e.err = nil
	e.entry = 0
	e.simTime = 0
	e.applied = 0
	e.staged = nil
	e.wanted = 0

	monitoring.Logf("replay: session %d loaded, %d blocks up to t=%g", e.gen, table.BlockCount(), table.MaxSimTime())
	e.request(0, fx)
}

// request issues the load for entry, or finishes the session when the index
// has no such block. Caller holds e.mu.
func (e *Engine) request(entry int, fx *effects) {
	if !e.table.HasBlock(entry) {
		e.state = StateDone
		e.wanted = 0
		c := e.cursorLocked()
		fx.complete = &c
		monitoring.Logf("replay: session %d complete after %d blocks at t=%g", e.gen, e.applied, e.simTime)
		return
	}

	e.entry = entry
	e.state = StateLoadingBlock

	gen, ctx, loader := e.gen, e.ctx, e.loader
	fx.loads = append(fx.loads, func() {
		loader.Load(ctx, entry, func(b *Block, err error) {
			e.onLoaded(gen, entry, b, err)
		})
	})
}

// onLoaded is the continuation of every block load.
func (e *Engine) onLoaded(gen uint64, entry int, b *Block, err error) {
	var updates []AgentUpdate
	if err == nil {
		updates, err = e.parseBlock(b)
	}

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		monitoring.Debugf("replay: dropped entry %d of session %d: %v", entry, gen, ErrSessionInvalidated)
		return
	}

	fx := e.newEffects()
	if err != nil {
		e.fail(err, fx)
	} else {
		e.staged = &stagedBlock{entry: entry, simTime: b.SimTime, updates: updates}
		e.state = StateReady
		e.drain(fx)
	}
	e.mu.Unlock()

	e.run(fx)
}

func (e *Engine) parseBlock(b *Block) ([]AgentUpdate, error) {
	if !e.opts.LenientRecords {
		return ParseRecords(b.Entry, b.Lines())
	}
	updates, bad := ParseRecordsLenient(b.Entry, b.Lines())
	for _, le := range bad {
		monitoring.Warnf("replay: skipped %v", le)
	}
	return updates, nil
}

// fail moves the session to StateError. Caller holds e.mu.
func (e *Engine) fail(err error, fx *effects) {
	err = &SessionError{Generation: e.gen, Err: err}
	e.state = StateError
	e.err = err
	e.wanted = 0
	e.staged = nil
	fx.failed = err
	monitoring.Logf("replay: session %d failed: %v", e.gen, err)
}

// drain applies the staged block for each outstanding Advance and prefetches
// the next one. Caller holds e.mu.
func (e *Engine) drain(fx *effects) {
	for e.wanted > 0 && e.staged != nil {
		s := e.staged
		e.staged = nil
		e.wanted--

		if ev, ok := e.apply(s.entry, s.simTime, s.updates); ok {
			fx.changes = append(fx.changes, ev)
		}
		e.applied++
		e.request(s.entry+2, fx)
	}
}

// Advance applies the next time block. If that block is still loading it is
// applied on arrival. Once the last block has been applied the session is
// done and Advance does nothing.
func (e *Engine) Advance() {
	e.mu.Lock()
	switch e.state {
	case StateReady, StateLoadingBlock:
	default:
		e.mu.Unlock()
		return
	}
	fx := e.newEffects()
	e.wanted++
	e.drain(fx)
	e.mu.Unlock()

	e.run(fx)
}

// ApplyBlock folds updates into the registry as if they were read from the
// block at entry, and returns the registry indices that changed. Applying the
// same updates twice leaves the registry as applying them once.
func (e *Engine) ApplyBlock(entry int, updates []AgentUpdate) []int {
	e.mu.Lock()
	simTime := e.simTime
	if e.table != nil && entry >= 0 && entry < e.table.Len() && entry%2 == 0 {
		simTime = e.table.SimTime(entry)
	}
	fx := e.newEffects()
	ev, ok := e.apply(entry, simTime, updates)
	if ok {
		fx.changes = append(fx.changes, ev)
	}
	e.mu.Unlock()

	e.run(fx)
	return ev.Indices
}

// apply mutates the registry. Caller holds e.mu.
func (e *Engine) apply(entry int, simTime float64, updates []AgentUpdate) (ChangeEvent, bool) {
	ev := ChangeEvent{Generation: e.gen, EntryIndex: entry, SimTime: simTime}
	e.simTime = simTime

	seen := make(map[int]bool, len(updates))
	for _, u := range updates {
		idx := e.registry.Upsert(u)
		if !seen[idx] {
			seen[idx] = true
			ev.Indices = append(ev.Indices, idx)
		}
	}
	if len(ev.Indices) == 0 {
		return ev, false
	}
	ev.Agents = make([]AgentRecord, len(ev.Indices))
	for i, idx := range ev.Indices {
		ev.Agents[i], _ = e.registry.Get(idx)
	}
	return ev, true
}

// Seed adds or overwrites agents before (or during) playback. Seeded agents
// are reported with EntryIndex -1.
func (e *Engine) Seed(records ...AgentRecord) {
	updates := make([]AgentUpdate, len(records))
	for i, r := range records {
		updates[i] = AgentUpdate{AgentID: r.ID, Latitude: r.Latitude, Longitude: r.Longitude, Status: r.Status}
	}

	e.mu.Lock()
	fx := e.newEffects()
	simTime := e.simTime
	if ev, ok := e.apply(-1, simTime, updates); ok {
		fx.changes = append(fx.changes, ev)
	}
	e.mu.Unlock()

	e.run(fx)
}

// Rewind restarts the current recording from its first block with an empty
// registry. Loads still in flight are invalidated.
func (e *Engine) Rewind() error {
	return e.restart(func(*IndexTable) int { return 0 })
}

// SeekTo rewinds and then replays every block whose time is not after
// simTime. State is cumulative, so seeking always replays from the start.
func (e *Engine) SeekTo(simTime float64) error {
	return e.restart(func(table *IndexTable) int {
		if last := table.LastBlockAtOrBefore(simTime); last >= 0 {
			return last/2 + 1
		}
		return 0
	})
}

// restart replays the loaded recording and queues the number of advances
// blocks computes from the current table. blocks runs under e.mu so the
// count always matches the session being restarted.
func (e *Engine) restart(blocks func(*IndexTable) int) error {
	e.mu.Lock()
	if e.table == nil {
		e.mu.Unlock()
		return fmt.Errorf("no session loaded")
	}
	n := blocks(e.table)
	fx := e.newEffects()
	e.start(e.table, e.src, fx)
	if e.state != StateDone {
		e.wanted = n
	}
	e.mu.Unlock()

	e.run(fx)
	return nil
}

// Close invalidates the current session and any load still in flight. The
// last snapshot stays readable.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancel()
	e.gen++
	e.state = StateEmpty
	e.staged = nil
	e.wanted = 0
}

// Snapshot returns every agent seen so far in first-insertion order.
func (e *Engine) Snapshot() []AgentRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Snapshot()
}

// Agent looks up an agent by id.
func (e *Engine) Agent(id int64) (AgentRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.registry.Index(id)
	if !ok {
		return AgentRecord{}, false
	}
	return e.registry.Get(idx)
}

// State returns the session state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the error that moved the session to StateError.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Table returns the current index, or nil before the first session.
func (e *Engine) Table() *IndexTable {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table
}

// Cursor returns playback progress.
func (e *Engine) Cursor() Cursor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursorLocked()
}

func (e *Engine) cursorLocked() Cursor {
	c := Cursor{
		Generation: e.gen,
		EntryIndex: e.entry,
		SimTime:    e.simTime,
		Applied:    e.applied,
	}
	if e.table != nil {
		c.MaxSimTime = e.table.MaxSimTime()
		c.Blocks = e.table.BlockCount()
	}
	return c
}
