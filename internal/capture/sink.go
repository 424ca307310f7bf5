// Package capture copies everything an invocation writes into a per-invocation
// NDJSON stream log, for external tailing.
package capture

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"
)

// Record is one line of a stream log: the text of a single write.
type Record struct {
	Text string `json:"text"`
}

// Publisher receives a copy of every record. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Option configures a Sink.
type Option func(*Sink)

// WithPublisher fans records out to subject.<invocation id>.
func WithPublisher(p Publisher, subject string) Option {
	return func(s *Sink) {
		s.pub = p
		s.subject = subject
	}
}

// WithTracker registers the invocation as active until Close.
func WithTracker(t *Tracker) Option {
	return func(s *Sink) {
		s.tracker = t
	}
}

// WithID uses a caller-chosen invocation id instead of a random one.
func WithID(id string) Option {
	return func(s *Sink) {
		s.id = id
	}
}

// Sink is an io.Writer that passes writes through unchanged and appends one
// Record per write to the stream log. Failures on the log side never reach
// the caller; the first one is kept and reported by Err.
type Sink struct {
	id      string
	path    string
	out     io.Writer
	pub     Publisher
	subject string
	tracker *Tracker
	logger  *logging.Logger

	mu     sync.Mutex
	err    error
	closed bool
}

// NewSink creates a sink logging to dir/<id>.ndjson and passing writes to out.
func NewSink(dir string, out io.Writer, opts ...Option) (*Sink, error) {
	if out == nil {
		out = io.Discard
	}
	s := &Sink{
		out:    out,
		logger: logging.New().WithComponent("capture"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.New().String()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating stream directory: %w", err)
	}
	s.path = StreamPath(dir, s.id)
	if s.tracker != nil {
		s.tracker.Begin(s.id)
	}
	return s, nil
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// ValidID reports whether id is safe to use as a stream log name.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// StreamPath returns the log path for an invocation id.
func StreamPath(dir, id string) string {
	return filepath.Join(dir, id+".ndjson")
}

// ID returns the invocation id.
func (s *Sink) ID() string {
	return s.id
}

// Path returns the stream log path.
func (s *Sink) Path() string {
	return s.path
}

// Write passes p to the wrapped writer and records it.
func (s *Sink) Write(p []byte) (int, error) {
	n, err := s.out.Write(p)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return n, err
	}
	line, merr := json.Marshal(Record{Text: string(p)})
	if merr != nil {
		s.fail(merr)
		return n, err
	}
	line = append(line, '\n')
	if lerr := appendLine(s.path, line); lerr != nil {
		s.fail(lerr)
	}
	if s.pub != nil {
		if perr := s.pub.Publish(s.subject+"."+s.id, line[:len(line)-1]); perr != nil {
			s.fail(perr)
		}
	}
	return n, err
}

// appendLine opens, appends and closes the log for each record so external
// readers always see complete lines.
func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// fail records a log-side error. Caller holds mu.
func (s *Sink) fail(err error) {
	if s.err == nil {
		s.err = err
		s.logger.Warn("stream log write failed", map[string]interface{}{
			"invocation": s.id,
			"error":      err.Error(),
		})
	}
}

// Flush flushes the wrapped writer when it supports flushing.
func (s *Sink) Flush() error {
	if f, ok := s.out.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Err returns the first stream log error, if any.
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops recording. Later writes still pass through. Safe to call twice.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.tracker != nil {
		s.tracker.End(s.id)
	}
	return s.Flush()
}
