package session

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vinayprograms/biohacker/internal/transcript"
	"github.com/vinayprograms/biohacker/internal/uploads"
)

// SQLiteStore stores sessions in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// init creates the database schema.
func (s *SQLiteStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		state TEXT,
		summary TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		PRIMARY KEY (session_id, position),
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE TABLE IF NOT EXISTS uploads (
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		mime_type TEXT,
		preview TEXT,
		PRIMARY KEY (session_id, position),
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE TABLE IF NOT EXISTS events (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		type TEXT NOT NULL,
		data TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		PRIMARY KEY (session_id, seq),
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save saves a session to the database.
func (s *SQLiteStore) Save(sess *Session) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sess.mu.Lock()
	stateJSON, _ := json.Marshal(sess.State)
	summaryJSON, _ := json.Marshal(sess.Summary)
	id, name, created, updated := sess.ID, sess.Name, sess.CreatedAt, sess.UpdatedAt
	sess.mu.Unlock()

	_, err = tx.Exec(`
		INSERT INTO sessions (id, name, state, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			summary = excluded.summary,
			updated_at = excluded.updated_at
	`, id, name, string(stateJSON), string(summaryJSON), created, updated)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	// Full replacement of child rows
	for _, table := range []string{"messages", "uploads", "events"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE session_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}

	for i, msg := range sess.Transcript.Messages() {
		_, err = tx.Exec(`INSERT INTO messages (session_id, position, role, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
			id, i, string(msg.Role), msg.Content, msg.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}
	for i, rec := range sess.UploadsSnapshot() {
		_, err = tx.Exec(`INSERT INTO uploads (session_id, position, name, path, mime_type, preview) VALUES (?, ?, ?, ?, ?, ?)`,
			id, i, rec.Name, rec.Path, rec.MIMEType, rec.Preview)
		if err != nil {
			return fmt.Errorf("failed to save upload: %w", err)
		}
	}
	for _, evt := range sess.EventsSnapshot() {
		data, _ := json.Marshal(evt)
		_, err = tx.Exec(`INSERT INTO events (session_id, seq, type, data, timestamp) VALUES (?, ?, ?, ?, ?)`,
			id, evt.SeqID, evt.Type, string(data), evt.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to save event: %w", err)
		}
	}

	return tx.Commit()
}

// Load loads a session from the database.
func (s *SQLiteStore) Load(id string) (*Session, error) {
	row := s.db.QueryRow(`SELECT id, name, state, summary, created_at, updated_at FROM sessions WHERE id = ?`, id)

	sess := &Session{}
	var stateJSON, summaryJSON sql.NullString
	err := row.Scan(&sess.ID, &sess.Name, &stateJSON, &summaryJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if stateJSON.Valid && stateJSON.String != "" {
		if err := json.Unmarshal([]byte(stateJSON.String), &sess.State); err != nil {
			return nil, fmt.Errorf("failed to decode session state: %w", err)
		}
	}
	if summaryJSON.Valid && summaryJSON.String != "" {
		if err := json.Unmarshal([]byte(summaryJSON.String), &sess.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode session summary: %w", err)
		}
	}

	msgs, err := s.loadMessages(id)
	if err != nil {
		return nil, err
	}
	sess.Transcript = transcript.FromMessages(msgs)

	if sess.Uploads, err = s.loadUploads(id); err != nil {
		return nil, err
	}
	if sess.Events, err = s.loadEvents(id); err != nil {
		return nil, err
	}

	sess.restoreSeq()
	return sess, nil
}

func (s *SQLiteStore) loadMessages(id string) ([]transcript.Message, error) {
	rows, err := s.db.Query(`SELECT role, content, timestamp FROM messages WHERE session_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var msgs []transcript.Message
	for rows.Next() {
		var m transcript.Message
		var role string
		var ts time.Time
		if err := rows.Scan(&role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = transcript.Role(role)
		m.Timestamp = ts
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) loadUploads(id string) ([]uploads.Record, error) {
	rows, err := s.db.Query(`SELECT name, path, mime_type, preview FROM uploads WHERE session_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load uploads: %w", err)
	}
	defer rows.Close()

	var recs []uploads.Record
	for rows.Next() {
		var r uploads.Record
		var mimeType, preview sql.NullString
		if err := rows.Scan(&r.Name, &r.Path, &mimeType, &preview); err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		r.MIMEType = mimeType.String
		r.Preview = preview.String
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) loadEvents(id string) ([]Event, error) {
	rows, err := s.db.Query(`SELECT data FROM events WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var evt Event
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// List returns session IDs, most recently updated first.
func (s *SQLiteStore) List() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
