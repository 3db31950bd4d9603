package history

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/cabreplay/internal/monitoring"
	"github.com/banshee-data/cabreplay/internal/replay"
)

// Recorder is a replay.Listener that writes every change to one session
// row. Listener callbacks cannot return errors, so the first write failure
// is logged, kept for Err, and stops further writes.
type Recorder struct {
	store *Store
	id    string

	mu  sync.Mutex
	err error
}

var _ replay.Listener = (*Recorder)(nil)

// NewRecorder creates a session row named name and returns a recorder for
// it.
func (s *Store) NewRecorder(name string) (*Recorder, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO sessions (session_id, name, started_at) VALUES (?, ?, ?)`,
		id, name, s.clock.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	monitoring.Debugf("history: session %s started for %s", id, name)
	return &Recorder{store: s, id: id}, nil
}

// ID returns the session id.
func (r *Recorder) ID() string {
	return r.id
}

// Err returns the first write error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) record(what string, fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	if err := fn(); err != nil {
		r.err = fmt.Errorf("history %s: %w", what, err)
		monitoring.Warnf("%v", r.err)
	}
}

// AgentsChanged stores the new state of every agent in ev.
func (r *Recorder) AgentsChanged(ev replay.ChangeEvent) {
	r.record("write positions", func() error {
		tx, err := r.store.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO positions
				(session_id, generation, entry_index, sim_time, agent_id, latitude, longitude, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range ev.Agents {
			if _, err := stmt.Exec(r.id, ev.Generation, ev.EntryIndex, ev.SimTime, a.ID, a.Latitude, a.Longitude, int(a.Status)); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// SessionComplete stamps the session as finished with the final cursor.
func (r *Recorder) SessionComplete(c replay.Cursor) {
	r.record("finish session", func() error {
		_, err := r.store.db.Exec(`
			UPDATE sessions
			SET finished_at = ?, blocks = ?, max_sim_time = ?, applied = ?
			WHERE session_id = ?`,
			r.store.clock.Now().UnixNano(), c.Blocks, c.MaxSimTime, c.Applied, r.id)
		return err
	})
}

// SessionFailed stores the failure on the session row.
func (r *Recorder) SessionFailed(err error) {
	r.record("fail session", func() error {
		_, dbErr := r.store.db.Exec(`UPDATE sessions SET error = ? WHERE session_id = ?`, err.Error(), r.id)
		return dbErr
	})
}
