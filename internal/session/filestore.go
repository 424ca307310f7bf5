package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vinayprograms/biohacker/internal/transcript"
	"github.com/vinayprograms/biohacker/internal/uploads"
)

// JSONL record types for streaming format
const (
	RecordTypeHeader  = "header"  // Session metadata (first line)
	RecordTypeMessage = "message" // Transcript entry
	RecordTypeUpload  = "upload"  // Upload record
	RecordTypeEvent   = "event"   // Individual event
	RecordTypeFooter  = "footer"  // Final state (last line)
)

// JSONLRecord is a wrapper for JSONL lines with type discrimination.
type JSONLRecord struct {
	RecordType string `json:"_type"`

	// Header fields
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`

	Message *transcript.Message `json:"message,omitempty"`
	Upload  *uploads.Record     `json:"upload,omitempty"`

	// Event fields - embedded Event
	*Event `json:",omitempty"`

	// Footer fields
	State     map[string]interface{} `json:"state,omitempty"`
	Summary   *Summary               `json:"summary,omitempty"`
	UpdatedAt time.Time              `json:"updated_at,omitempty"`
}

// FileStore implements Store with one JSONL file per session.
type FileStore struct {
	dir string
}

// NewFileStore creates a new file-based store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file a session is written to.
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.dir, id+".jsonl")
}

// Save persists a session, replacing any previous file atomically.
func (s *FileStore) Save(sess *Session) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, sess.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := s.writeSession(w, sess); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path(sess.ID))
}

func (s *FileStore) writeSession(w io.Writer, sess *Session) error {
	sess.mu.Lock()
	header := JSONLRecord{
		RecordType: RecordTypeHeader,
		ID:         sess.ID,
		Name:       sess.Name,
		CreatedAt:  sess.CreatedAt,
	}
	summary := sess.Summary
	footer := JSONLRecord{
		RecordType: RecordTypeFooter,
		State:      sess.State,
		Summary:    &summary,
		UpdatedAt:  sess.UpdatedAt,
	}
	sess.mu.Unlock()

	if err := writeLine(w, header); err != nil {
		return err
	}
	for _, msg := range sess.Transcript.Messages() {
		msg := msg
		if err := writeLine(w, JSONLRecord{RecordType: RecordTypeMessage, Message: &msg}); err != nil {
			return err
		}
	}
	for _, rec := range sess.UploadsSnapshot() {
		rec := rec
		if err := writeLine(w, JSONLRecord{RecordType: RecordTypeUpload, Upload: &rec}); err != nil {
			return err
		}
	}
	for _, evt := range sess.EventsSnapshot() {
		evt := evt
		if err := writeLine(w, JSONLRecord{RecordType: RecordTypeEvent, Event: &evt}); err != nil {
			return err
		}
	}
	return writeLine(w, footer)
}

// writeLine writes a single JSONL record.
func writeLine(w io.Writer, record JSONLRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// Load reads a session from disk.
func (s *FileStore) Load(id string) (*Session, error) {
	f, err := os.Open(s.Path(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJSONL(f)
}

// ReadJSONL parses a session written by FileStore.
func ReadJSONL(r io.Reader) (*Session, error) {
	sess := &Session{State: make(map[string]interface{})}
	var msgs []transcript.Message

	// bufio.Reader instead of Scanner - no line length limits
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if perr := parseJSONLLine(trimmed, sess, &msgs); perr != nil {
				return nil, perr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading JSONL: %w", err)
		}
	}

	sess.Transcript = transcript.FromMessages(msgs)
	sess.restoreSeq()
	return sess, nil
}

// parseJSONLLine parses a single JSONL line into the session.
func parseJSONLLine(line []byte, sess *Session, msgs *[]transcript.Message) error {
	var record JSONLRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return fmt.Errorf("failed to parse JSONL line: %w", err)
	}

	switch record.RecordType {
	case RecordTypeHeader:
		sess.ID = record.ID
		sess.Name = record.Name
		sess.CreatedAt = record.CreatedAt
	case RecordTypeMessage:
		if record.Message != nil {
			*msgs = append(*msgs, *record.Message)
		}
	case RecordTypeUpload:
		if record.Upload != nil {
			sess.Uploads = append(sess.Uploads, *record.Upload)
		}
	case RecordTypeEvent:
		if record.Event != nil {
			sess.Events = append(sess.Events, *record.Event)
		}
	case RecordTypeFooter:
		if record.State != nil {
			sess.State = record.State
		}
		if record.Summary != nil {
			sess.Summary = *record.Summary
		}
		sess.UpdatedAt = record.UpdatedAt
	}
	return nil
}

// List returns stored session IDs, most recently modified first.
func (s *FileStore) List() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	type entry struct {
		id  string
		mod time.Time
	}
	var entries []entry
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		entries = append(entries, entry{strings.TrimSuffix(filepath.Base(m), ".jsonl"), info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mod.After(entries[j].mod) })

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids, nil
}
