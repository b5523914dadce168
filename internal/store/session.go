package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Session is one capture session and its final counters.
type Session struct {
	ID        string     `json:"id"`
	Source    string     `json:"source"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Frames    uint64     `json:"frames"`
	Decisions uint64     `json:"decisions"`
	Undecided uint64     `json:"undecided"`
	Dropped   uint64     `json:"dropped"`
	Stale     uint64     `json:"stale"`
	Malformed uint64     `json:"malformed"`
	Failures  uint64     `json:"failures"`
	LastLabel string     `json:"last_label,omitempty"`
}

// SessionRepository records capture sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a new open session. An empty ID is filled with a UUID.
func (r *SessionRepository) Create(sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, source, started_at) VALUES (?, ?, ?)`,
		sess.ID, sess.Source, sess.StartedAt,
	)
	return err
}

// Finish closes the session and stores its counters.
func (r *SessionRepository) Finish(sess *Session) error {
	ended := time.Now()
	sess.EndedAt = &ended

	result, err := r.db.Exec(
		`UPDATE sessions SET ended_at = ?, frames = ?, decisions = ?, undecided = ?,
		 dropped = ?, stale = ?, malformed = ?, failures = ?, last_label = ?
		 WHERE id = ?`,
		ended, sess.Frames, sess.Decisions, sess.Undecided,
		sess.Dropped, sess.Stale, sess.Malformed, sess.Failures, sess.LastLabel,
		sess.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves a session by ID.
func (r *SessionRepository) Get(id string) (*Session, error) {
	row := r.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// List returns the most recent sessions, newest first. A limit of zero or
// less returns all of them.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

const sessionColumns = `id, source, started_at, ended_at, frames, decisions, undecided,
	dropped, stale, malformed, failures, last_label`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	sess := &Session{}
	var ended sql.NullTime
	err := row.Scan(&sess.ID, &sess.Source, &sess.StartedAt, &ended,
		&sess.Frames, &sess.Decisions, &sess.Undecided,
		&sess.Dropped, &sess.Stale, &sess.Malformed, &sess.Failures, &sess.LastLabel)
	if err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		sess.EndedAt = &t
	}
	return sess, nil
}
