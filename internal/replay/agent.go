// Package replay plays back recorded cab simulation logs.
//
// A recording is a pair of files: a large text log of per-cab state updates
// and a small index mapping simulation times to byte offsets in that log.
// The Engine loads one time block at a time and folds its updates into an
// agent registry that presentation code can snapshot between blocks.
package replay

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is the operating state of a cab as written by the simulator.
type Status int

const (
	StatusUnknown   Status = 0
	StatusFree      Status = 1
	StatusPickingUp Status = 2
	StatusBusy      Status = 3
)

var statusNames = [...]string{"UNKNOWN", "FREE", "PICKING_UP", "BUSY"}

// Statuses lists every known status in code order.
func Statuses() []Status {
	return []Status{StatusUnknown, StatusFree, StatusPickingUp, StatusBusy}
}

func (s Status) String() string {
	if s.Valid() {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Valid reports whether s is one of the four simulator codes.
func (s Status) Valid() bool {
	return s >= StatusUnknown && s <= StatusBusy
}

// ParseStatus accepts either the numeric code or the status name,
// case-insensitively.
func ParseStatus(tok string) (Status, error) {
	if code, err := strconv.Atoi(tok); err == nil {
		s := Status(code)
		if !s.Valid() {
			return StatusUnknown, fmt.Errorf("status code %d out of range", code)
		}
		return s, nil
	}
	for i, name := range statusNames {
		if strings.EqualFold(tok, name) {
			return Status(i), nil
		}
	}
	return StatusUnknown, fmt.Errorf("unrecognised status %q", tok)
}

// AgentRecord is the current state of one simulated cab.
type AgentRecord struct {
	ID        int64   `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Status    Status  `json:"status"`
}

// AgentUpdate is one parsed log record.
type AgentUpdate struct {
	AgentID   int64
	Latitude  float64
	Longitude float64
	Status    Status
}

// Registry holds agents in first-insertion order with an id lookup.
// It is not safe for concurrent use; the Engine serialises access.
type Registry struct {
	agents []AgentRecord
	byID   map[int64]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[int64]int)}
}

// Len returns the number of agents seen so far.
func (r *Registry) Len() int {
	return len(r.agents)
}

// Index returns the registry position of id.
func (r *Registry) Index(id int64) (int, bool) {
	idx, ok := r.byID[id]
	return idx, ok
}

// Get returns a copy of the agent at idx.
func (r *Registry) Get(idx int) (AgentRecord, bool) {
	if idx < 0 || idx >= len(r.agents) {
		return AgentRecord{}, false
	}
	return r.agents[idx], true
}

// Upsert overwrites the position and status of the update's agent, creating
// it at the end of the registry if it has not been seen. It returns the
// agent's registry index.
func (r *Registry) Upsert(u AgentUpdate) int {
	idx, ok := r.byID[u.AgentID]
	if !ok {
		idx = len(r.agents)
		r.agents = append(r.agents, AgentRecord{ID: u.AgentID})
		r.byID[u.AgentID] = idx
	}
	a := &r.agents[idx]
	a.Latitude = u.Latitude
	a.Longitude = u.Longitude
	a.Status = u.Status
	return idx
}

// Snapshot copies all agents in insertion order.
func (r *Registry) Snapshot() []AgentRecord {
	out := make([]AgentRecord, len(r.agents))
	copy(out, r.agents)
	return out
}

// Reset drops all agents.
func (r *Registry) Reset() {
	r.agents = nil
	r.byID = make(map[int64]int)
}
