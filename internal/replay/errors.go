package replay

import "errors"

// Errors reported by playback. They are wrapped with context; match them with
// errors.Is.
var (
	// ErrIndexParse means an index token could not be read as a number.
	ErrIndexParse = errors.New("index parse error")

	// ErrFileSelection means the supplied files were not one log plus one
	// index.
	ErrFileSelection = errors.New("file selection error")

	// ErrBlockRead means a log byte range could not be read.
	ErrBlockRead = errors.New("block read error")

	// ErrRecordParse means a log line did not match the record grammar.
	ErrRecordParse = errors.New("record parse error")

	// ErrSessionInvalidated marks a load completion that arrived after its
	// session was replaced. It is logged at debug level and never surfaced.
	ErrSessionInvalidated = errors.New("session invalidated")
)

// SessionError is the failure of one session. Listeners use Generation to
// tell a failure apart from events of an earlier session.
type SessionError struct {
	Generation uint64
	Err        error
}

func (e *SessionError) Error() string {
	return e.Err.Error()
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
