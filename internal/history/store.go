// Package history persists playback output to SQLite so an agent's path
// through a recording can be queried after the session ends.
package history

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/cabreplay/internal/monitoring"
	"github.com/banshee-data/cabreplay/internal/replay"
	"github.com/banshee-data/cabreplay/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("history: session not found")

// Store is a history database.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Session summarises one recorded playback.
type Session struct {
	ID         string
	Name       string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running or after a failure
	Blocks     int
	MaxSimTime float64
	Applied    int
	Error      string
}

// TrackPoint is one position of an agent.
type TrackPoint struct {
	EntryIndex int
	SimTime    float64
	Latitude   float64
	Longitude  float64
	Status     replay.Status
}

// Open opens or creates the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{db: db, clock: timeutil.RealClock{}}
	if err := s.MigrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock replaces the clock used to stamp sessions.
func (s *Store) SetClock(c timeutil.Clock) {
	s.clock = c
}

// MigrateUp runs all pending migrations. It is a no-op when the schema is
// current.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close s.db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the schema version and dirty flag. A database with
// no migrations applied reports 0.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	monitoring.Debugf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Sessions lists recorded sessions, oldest first.
func (s *Store) Sessions() ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT session_id, name, started_at, finished_at, blocks, max_sim_time, applied, error
		FROM sessions
		ORDER BY started_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Session returns one session by id.
func (s *Store) Session(id string) (Session, error) {
	row := s.db.QueryRow(`
		SELECT session_id, name, started_at, finished_at, blocks, max_sim_time, applied, error
		FROM sessions
		WHERE session_id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		sess     Session
		started  int64
		finished sql.NullInt64
		errText  sql.NullString
	)
	if err := row.Scan(&sess.ID, &sess.Name, &started, &finished, &sess.Blocks, &sess.MaxSimTime, &sess.Applied, &errText); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		sess.FinishedAt = time.Unix(0, finished.Int64).UTC()
	}
	sess.Error = errText.String
	return sess, nil
}

// Track returns the positions of agentID in the latest playback generation
// of session, in simulation-time order. Rewinding or seeking starts a new
// generation, so an earlier partial pass is not mixed in.
func (s *Store) Track(sessionID string, agentID int64) ([]TrackPoint, error) {
	if _, err := s.Session(sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT entry_index, sim_time, latitude, longitude, status
		FROM positions
		WHERE session_id = ? AND agent_id = ?
		  AND generation = (SELECT MAX(generation) FROM positions WHERE session_id = ?)
		ORDER BY sim_time, rowid`, sessionID, agentID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query track: %w", err)
	}
	defer rows.Close()

	var out []TrackPoint
	for rows.Next() {
		var p TrackPoint
		if err := rows.Scan(&p.EntryIndex, &p.SimTime, &p.Latitude, &p.Longitude, &p.Status); err != nil {
			return nil, fmt.Errorf("scan track point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its positions.
func (s *Store) DeleteSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}
