// Package session provides session management and persistence.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/biohacker/internal/transcript"
	"github.com/vinayprograms/biohacker/internal/uploads"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Event types for the session log.
const (
	EventUser      = "user"      // User message received
	EventAssistant = "assistant" // Reply returned to the user

	EventRoute         = "route"          // Orchestrator delegated to a sub-agent
	EventSubAgentStart = "subagent_start" // Sub-agent invoked
	EventSubAgentEnd   = "subagent_end"   // Sub-agent returned

	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"

	EventUpload  = "upload"  // File stored for this session
	EventHandoff = "handoff" // Agent asked the user a question
	EventError   = "error"   // Turn failed
)

// Session is the explicit context for one conversation. It is passed into
// every handler that reads or changes conversation state.
type Session struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Transcript *transcript.Transcript `json:"transcript"`
	Uploads    []uploads.Record       `json:"uploads"`
	State      map[string]interface{} `json:"state"`
	Summary    Summary                `json:"summary"`
	Events     []Event                `json:"events"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`

	seqCounter uint64
	mu         sync.Mutex
}

// Summary caches a condensed form of older transcript messages.
type Summary struct {
	Text    string `json:"text,omitempty"`
	Through int    `json:"through,omitempty"` // number of leading messages covered
}

// Event represents a single entry in the session log.
type Event struct {
	SeqID     uint64    `json:"seq"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	CorrelationID string `json:"corr_id,omitempty"`
	InvocationID  string `json:"invocation_id,omitempty"`

	Agent string `json:"agent,omitempty"` // sub-agent name
	Route string `json:"route,omitempty"` // routing category

	Content string                 `json:"content,omitempty"`
	Tool    string                 `json:"tool,omitempty"`
	Args    map[string]interface{} `json:"args,omitempty"`

	Success    *bool  `json:"success,omitempty"`
	Error      string `json:"error,omitempty"`
	Kind       string `json:"kind,omitempty"` // error classification
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// New returns an empty session.
func New(name string) *Session {
	now := time.Now()
	return &Session{
		ID:         generateID(),
		Name:       name,
		Transcript: transcript.New(),
		State:      make(map[string]interface{}),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (s *Session) nextSeqID() uint64 {
	return atomic.AddUint64(&s.seqCounter, 1)
}

// restoreSeq resumes sequencing after a load.
func (s *Session) restoreSeq() {
	if len(s.Events) > 0 {
		s.seqCounter = s.Events[len(s.Events)-1].SeqID
	}
	if s.Transcript == nil {
		s.Transcript = transcript.New()
	}
	if s.State == nil {
		s.State = make(map[string]interface{})
	}
}

// AddEvent adds a new event to the session with automatic sequencing.
func (s *Session) AddEvent(event Event) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.SeqID = s.nextSeqID()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s.Events = append(s.Events, event)
	s.UpdatedAt = time.Now()
	return event.SeqID
}

// EventsSnapshot returns a copy of the event log.
func (s *Session) EventsSnapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.Events))
	copy(out, s.Events)
	return out
}

// StartCorrelation generates a new correlation ID for linking related events.
func (s *Session) StartCorrelation() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// AddUpload records a stored upload and returns its index.
func (s *Session) AddUpload(rec uploads.Record) int {
	s.mu.Lock()
	s.Uploads = append(s.Uploads, rec)
	idx := len(s.Uploads) - 1
	s.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.AddEvent(Event{Type: EventUpload, Content: rec.Name, Args: map[string]interface{}{"path": rec.Path}})
	return idx
}

// UploadsSnapshot returns a copy of the upload records.
func (s *Session) UploadsSnapshot() []uploads.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uploads.Record, len(s.Uploads))
	copy(out, s.Uploads)
	return out
}

// Upload returns the upload at index i.
func (s *Session) Upload(i int) (uploads.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.Uploads) {
		return uploads.Record{}, false
	}
	return s.Uploads[i], true
}

// CachedSummary returns the history summary.
func (s *Session) CachedSummary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Summary
}

// SetSummary replaces the history summary.
func (s *Session) SetSummary(sum Summary) {
	s.mu.Lock()
	s.Summary = sum
	s.mu.Unlock()
}

// Store is the interface for session persistence.
type Store interface {
	Save(sess *Session) error
	Load(id string) (*Session, error)
	List() ([]string, error)
}

// Manager manages sessions and serializes work on each one.
type Manager struct {
	store Store
	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock is dropped from the manager once nobody holds or waits on it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a new session manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store, locks: make(map[string]*sessionLock)}
}

// Create creates and persists a new session.
func (m *Manager) Create(name string) (*Session, error) {
	sess := New(name)
	if err := m.store.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return m.store.Load(id)
}

// Update saves changes to a session.
func (m *Manager) Update(sess *Session) error {
	sess.mu.Lock()
	sess.UpdatedAt = time.Now()
	sess.mu.Unlock()
	return m.store.Save(sess)
}

// List returns known session IDs, most recent first.
func (m *Manager) List() ([]string, error) {
	return m.store.List()
}

// Lock serializes requests on one session. Call the returned func to release.
func (m *Manager) Lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

// generateID creates a unique session ID.
func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// validID rejects IDs that could escape the store directory.
func validID(id string) bool {
	return idPattern.MatchString(id)
}

// ValidID reports whether id has the shape of a session ID.
func ValidID(id string) bool {
	return validID(id)
}
