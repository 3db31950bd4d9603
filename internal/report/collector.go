// Package report summarises a playback as per-block fleet statistics and
// renders them as an HTML chart.
package report

import (
	"errors"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/cabreplay/internal/replay"
)

// Sample is the fleet state after one block.
type Sample struct {
	EntryIndex int
	SimTime    float64
	Agents     int
	Counts     map[replay.Status]int

	// Centroid and spread of agent positions, in degrees.
	MeanLatitude  float64
	MeanLongitude float64
	StdLatitude   float64
	StdLongitude  float64
}

// Collector is a replay.Listener that keeps its own view of every agent and
// takes a Sample whenever a block changes the fleet. Blocks that change
// nothing produce no sample. Seeded agents count towards later samples but do
// not produce one. A new generation (rewind, seek, new session) starts over.
type Collector struct {
	mu       sync.Mutex
	gen      uint64
	agents   map[int64]replay.AgentRecord
	samples  []Sample
	complete *replay.Cursor
	err      error
}

var _ replay.Listener = (*Collector)(nil)

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{agents: make(map[int64]replay.AgentRecord)}
}

func (c *Collector) resetLocked(gen uint64) {
	c.gen = gen
	c.agents = make(map[int64]replay.AgentRecord)
	c.samples = nil
	c.complete = nil
	c.err = nil
}

// AgentsChanged folds ev into the collector's fleet view.
func (c *Collector) AgentsChanged(ev replay.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Generation != c.gen {
		c.resetLocked(ev.Generation)
	}
	for _, a := range ev.Agents {
		c.agents[a.ID] = a
	}
	if ev.EntryIndex < 0 {
		return
	}
	c.samples = append(c.samples, c.sampleLocked(ev.EntryIndex, ev.SimTime))
}

// SessionComplete records the final cursor.
func (c *Collector) SessionComplete(cur replay.Cursor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur.Generation != c.gen {
		c.resetLocked(cur.Generation)
	}
	c.complete = &cur
}

// SessionFailed records the failure. A failure of a newer generation starts
// over, as a restarted session can fail before its first block.
func (c *Collector) SessionFailed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var se *replay.SessionError
	if errors.As(err, &se) && se.Generation != c.gen {
		c.resetLocked(se.Generation)
	}
	c.err = err
}

func (c *Collector) sampleLocked(entry int, simTime float64) Sample {
	s := Sample{
		EntryIndex: entry,
		SimTime:    simTime,
		Agents:     len(c.agents),
		Counts:     make(map[replay.Status]int, 4),
	}
	lats := make([]float64, 0, len(c.agents))
	lons := make([]float64, 0, len(c.agents))
	for _, a := range c.agents {
		s.Counts[a.Status]++
		lats = append(lats, a.Latitude)
		lons = append(lons, a.Longitude)
	}
	if len(lats) > 0 {
		// sorted so map order cannot change the sums
		sort.Float64s(lats)
		sort.Float64s(lons)
		s.MeanLatitude, s.StdLatitude = stat.MeanStdDev(lats, nil)
		s.MeanLongitude, s.StdLongitude = stat.MeanStdDev(lons, nil)
		if len(lats) == 1 {
			s.StdLatitude, s.StdLongitude = 0, 0
		}
	}
	return s
}

// Summary is everything a Collector has seen for the current generation.
type Summary struct {
	Samples  []Sample
	Complete bool
	Cursor   replay.Cursor // valid when Complete
	Err      error
}

// Final returns the last sample, or a zero Sample when there is none.
func (s Summary) Final() Sample {
	if len(s.Samples) == 0 {
		return Sample{Counts: map[replay.Status]int{}}
	}
	return s.Samples[len(s.Samples)-1]
}

// Summary returns a copy of the collected data.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Summary{Samples: append([]Sample(nil), c.samples...), Err: c.err}
	if c.complete != nil {
		out.Complete = true
		out.Cursor = *c.complete
	}
	return out
}
